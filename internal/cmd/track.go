package cmd

import (
	"context"
	"net/http"
	"net/http/cookiejar"

	"github.com/urfave/cli/v3"
	"github.com/vinceanalytics/vault/internal/cmd/ansi"
	"github.com/vinceanalytics/vault/internal/tracker"
	"github.com/vinceanalytics/vault/internal/transport"
)

func trackCMD() *cli.Command {
	return &cli.Command{
		Name:  "track",
		Usage: "sends a pageview to a running vault",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "Message endpoint of the vault",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "account",
				Usage:    "Account the pageview belongs to",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "href",
				Usage:    "Visited page",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "referrer",
				Usage: "Referrer of the visit",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Title of the visited page",
			},
			&cli.StringFlag{
				Name:  "origin",
				Usage: "Origin header sent with the message",
			},
			&cli.BoolFlag{
				Name:  "skipConsent",
				Usage: "Record the visit without asking for consent",
			},
			&cli.UintFlag{
				Name:  "retries",
				Usage: "Number of retries on transport failures",
				Value: 3,
			},
		},
		Action: track,
	}
}

func track(ctx context.Context, c *cli.Command) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	sender := &transport.Client{
		URL:     c.String("url"),
		HTTP:    &http.Client{Jar: jar},
		Origin:  c.String("origin"),
		Retries: c.Uint("retries"),
	}
	w := ansi.New(c.Root().Writer)
	w.Step("sending pageview %s", c.String("href"))
	res, err := tracker.New(sender, c.String("account"), false).Track(ctx, tracker.Page{
		Href:        c.String("href"),
		Referrer:    c.String("referrer"),
		Title:       c.String("title"),
		SkipConsent: c.Bool("skipConsent"),
	})
	if err != nil {
		return w.Complete(err)
	}
	w.KV("reply", res.Type)
	if err := res.Err(); err != nil {
		return w.Complete(err)
	}
	w.Ok("recorded")
	return w.Complete(nil)
}
