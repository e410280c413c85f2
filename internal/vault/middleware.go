package vault

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/logger"
	"github.com/vinceanalytics/vault/internal/router"
	"github.com/vinceanalytics/vault/internal/store"
	"github.com/vinceanalytics/vault/internal/system"
)

type contextKey int

const (
	secretKey contextKey = iota
)

// SameOrigin rejects messages that were not posted by a page served from the
// vault origin.
func (v *Vault) SameOrigin(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	if c.Origin != v.origin {
		next(ErrUntrustedOrigin.New(c.Origin))
		return
	}
	next(nil)
}

// OptIn applies the consent decision of the client. Allowed clients continue
// with their visitor id, denied clients are acknowledged without storing
// anything. Clients that did not decide yet continue anonymously.
func (v *Vault) OptIn(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	var p EventPayload
	if err := c.Message.Decode(&p); err != nil {
		next(err)
		return
	}
	if p.AccountID == "" {
		next(ErrMissingAccount.New())
		return
	}
	status, err := v.consent(ctx, c.Client)
	if err != nil {
		next(err)
		return
	}
	switch status {
	case store.ConsentAllow:
		id, err := v.store.SecretID(ctx, c.Client, p.AccountID)
		if err != nil {
			next(err)
			return
		}
		c.Set(secretKey, id)
		next(nil)
	case store.ConsentDeny:
		v.drop(ctx, p.AccountID, "visitor opted out, no data is being collected")
		respond(nil)
	default:
		// undecided visitors of pages that skip the consent banner are
		// treated as denied, without persisting the decision
		if c.Message.SkipConsent() {
			v.drop(ctx, p.AccountID, "consent was skipped, no data is being collected")
			respond(nil)
			return
		}
		next(nil)
	}
}

func (v *Vault) drop(ctx context.Context, account, msg string) {
	system.EventsDropped.Inc()
	logger.Component(ctx, "vault").WithFields(logrus.Fields{
		"account": account,
	}).Debug(msg)
}

// EventDuplexer adds the fields of an event that must not be set by the
// tracking script: the timestamp and the session id. Query strings are
// stripped from referrers as they might contain sensitive information.
func (v *Vault) EventDuplexer(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	var p EventPayload
	if err := c.Message.Decode(&p); err != nil {
		next(err)
		return
	}
	if _, err := events.ParsePage(p.Event.Href); err != nil {
		next(err)
		return
	}
	now := v.now().UTC()
	p.Event.Timestamp = &now
	p.Event.SessionID = ""
	if c.Client != "" {
		p.Event.SessionID = v.sessions.ID(c.Client, p.AccountID)
	}
	p.Event.Referrer = events.StripSearch(p.Event.Referrer)
	if p.Event.Type == "" {
		p.Event.Type = events.TypePageview
	}
	b, err := json.Marshal(p)
	if err != nil {
		next(err)
		return
	}
	c.Message.Payload = b
	next(nil)
}
