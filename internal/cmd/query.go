package cmd

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/urfave/cli/v3"
	"github.com/vinceanalytics/vault/internal/config"
	"github.com/vinceanalytics/vault/internal/filters"
	"github.com/vinceanalytics/vault/internal/queries"
	"github.com/vinceanalytics/vault/internal/store"
	"github.com/vinceanalytics/vault/internal/timeutil"
	"github.com/vinceanalytics/vault/internal/transport"
	"github.com/vinceanalytics/vault/internal/vault"
)

func queryCMD() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "computes the default stats of an account",
		Flags: append(config.Flags(),
			&cli.StringFlag{
				Name:     "account",
				Usage:    "Account to query",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "range",
				Usage: "Number of resolution units to look back",
				Value: queries.DefaultRange,
			},
			&cli.StringFlag{
				Name:  "resolution",
				Usage: "One of hours, days, weeks or months",
				Value: string(queries.DefaultResolution),
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Filter kind, one of href, referrer, campaign, source, landing or exit",
			},
			&cli.StringFlag{
				Name:  "filterValue",
				Usage: "Value the filter matches",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Message endpoint of a running vault. The local data directory is read when empty",
			},
		),
		Action: query,
	}
}

func query(ctx context.Context, c *cli.Command) error {
	ctx, o, err := setup(ctx, c)
	if err != nil {
		return err
	}
	q := queries.Query{
		AccountID:  c.String("account"),
		Range:      int(c.Int("range")),
		Resolution: timeutil.Resolution(c.String("resolution")),
		Filter: filters.Config{
			Kind:  filters.Kind(c.String("filter")),
			Value: c.String("filterValue"),
		},
	}
	m, err := transport.New(vault.TypeQuery, vault.QueryPayload{Query: q})
	if err != nil {
		return err
	}
	var sender transport.Sender
	if u := c.String("url"); u != "" {
		sender = &transport.Client{URL: u, Origin: o.Origin, Retries: 3}
	} else {
		path := o.Data
		if o.InMemory {
			path = ""
		}
		db, err := store.Open(path, o.Retention)
		if err != nil {
			return err
		}
		defer db.Close()
		v, err := vault.New(o, db)
		if err != nil {
			return err
		}
		defer v.Close()
		inbox := make(transport.Inbox)
		lctx, stop := context.WithCancel(ctx)
		defer stop()
		go v.Listen(lctx, inbox)
		sender = transport.NewLocal(inbox, o.Origin, "")
	}
	res, err := sender.Send(ctx, m)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	var p vault.QueryPayload
	if err := res.Decode(&p); err != nil {
		return err
	}
	if p.Result == nil {
		return errors.New("vault replied without a result")
	}
	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(p.Result)
}
