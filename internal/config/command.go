package config

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v2"
)

// CMD prints a configuration file holding the current flag values. The
// output can be passed back with --config.
func CMD() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "generates a configuration file for the vault",
		Flags: Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			b, err := yaml.Marshal(FromCommand(c))
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(c.Root().Writer, string(b))
			return err
		},
	}
}
