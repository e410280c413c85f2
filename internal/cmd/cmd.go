// Package cmd builds the vault command line.
package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"github.com/vinceanalytics/vault/internal/config"
	"github.com/vinceanalytics/vault/internal/logger"
	"github.com/vinceanalytics/vault/internal/server"
	"github.com/vinceanalytics/vault/internal/version"
)

func App() *cli.Command {
	return &cli.Command{
		Name:  "vault",
		Usage: "privacy friendly analytics vault",
		Flags: config.Flags(),
		Commands: []*cli.Command{
			serveCMD(),
			queryCMD(),
			trackCMD(),
			config.CMD(),
			version.CMD(),
		},
		EnableShellCompletion: true,
		Action:                serve,
	}
}

// setup loads options and installs the root logger in ctx.
func setup(ctx context.Context, c *cli.Command) (context.Context, *config.Options, error) {
	o, err := config.Load(config.FromCommand(c), c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	log := config.Logger(o.LogLevel)
	ctx = logger.With(ctx, logrus.NewEntry(log))
	ctx = config.With(ctx, o)
	return ctx, o, nil
}

func serveCMD() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "serves the vault over http",
		Flags:  config.Flags(),
		Action: serve,
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	ctx, o, err := setup(ctx, c)
	if err != nil {
		return err
	}
	return server.Serve(ctx, o)
}
