// Package vault wires the message handlers of the vault: recording events,
// answering dashboard queries and keeping consent decisions.
package vault

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vinceanalytics/vault/internal/config"
	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/logger"
	"github.com/vinceanalytics/vault/internal/queries"
	"github.com/vinceanalytics/vault/internal/router"
	"github.com/vinceanalytics/vault/internal/stats"
	"github.com/vinceanalytics/vault/internal/store"
	"github.com/vinceanalytics/vault/internal/system"
	"github.com/vinceanalytics/vault/internal/transport"
	"gopkg.in/src-d/go-errors.v1"
)

// Message types handled by the vault.
const (
	TypeEvent           = "EVENT"
	TypeQuery           = "QUERY"
	TypeConsentStatus   = "CONSENT_STATUS"
	TypeExpressConsent  = "EXPRESS_CONSENT"
	TypeOnboardingStats = "ONBOARDING_STATS"
	TypePurge           = "PURGE"
)

var (
	ErrUntrustedOrigin = errors.NewKind("incoming message had untrusted origin %q, will not process")
	ErrInvalidConsent  = errors.NewKind("received invalid consent status: %q")
	ErrMissingAccount  = errors.NewKind("message has no account id")
	ErrNoCookies       = errors.NewKind("client does not allow cookies")
)

type EventPayload struct {
	AccountID string         `json:"accountId"`
	Event     events.Payload `json:"event"`
}

type QueryPayload struct {
	Query  queries.Query   `json:"query"`
	Result *queries.Result `json:"result,omitempty"`
}

type ConsentPayload struct {
	Status        store.Consent `json:"status"`
	AllowsCookies bool          `json:"allowsCookies"`
}

type OnboardingPayload struct {
	AccountID string            `json:"accountId"`
	Stats     *stats.Onboarding `json:"stats,omitempty"`
}

type Vault struct {
	*router.Router
	store    store.Store
	queries  *queries.Engine
	sessions *sessions
	origin   string
	now      func() time.Time
}

// New returns a vault with every handler registered on its router.
func New(o *config.Options, s store.Store) (*Vault, error) {
	sess, err := newSessions(o.SessionTimeout)
	if err != nil {
		return nil, err
	}
	v := &Vault{
		Router:   router.New(o.Concurrency),
		store:    s,
		queries:  queries.New(s),
		sessions: sess,
		origin:   o.Origin,
		now:      time.Now,
	}
	v.Use(v.trace)
	v.On(TypeEvent, v.OptIn, v.EventDuplexer, v.handleEvent)
	v.On(TypeQuery, v.SameOrigin, v.handleQuery)
	v.On(TypeConsentStatus, v.SameOrigin, v.handleConsentStatus)
	v.On(TypeExpressConsent, v.SameOrigin, v.handleExpressConsent)
	v.On(TypeOnboardingStats, v.SameOrigin, v.handleOnboardingStats)
	v.On(TypePurge, v.SameOrigin, v.handlePurge)
	return v, nil
}

func (v *Vault) Close() {
	v.sessions.Close()
}

func (v *Vault) trace(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	logger.Component(ctx, "vault").WithFields(logrus.Fields{
		"type":   c.Message.Type,
		"origin": c.Origin,
	}).Trace("message")
	next(nil)
}

func reply(respond router.Respond, next router.Next, typ string, payload any) {
	m, err := transport.New(typ, payload)
	if err != nil {
		next(err)
		return
	}
	respond(m)
}

func (v *Vault) handleEvent(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	var p EventPayload
	if err := c.Message.Decode(&p); err != nil {
		next(err)
		return
	}
	secret, _ := c.Get(secretKey).(string)
	now := v.now().UTC()
	e := events.Event{
		EventID:   events.NewID(now),
		AccountID: p.AccountID,
		SecretID:  secret,
		Timestamp: now,
		Payload:   &p.Event,
	}
	start := time.Now()
	err := v.store.Append(ctx, e)
	system.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Component(ctx, "vault").WithFields(logrus.Fields{
			logrus.ErrorKey: err,
			"account":       p.AccountID,
		}).Error("failed saving event")
		next(err)
		return
	}
	if e.Anonymous() {
		system.EventsAnonymous.Inc()
	} else {
		system.EventsAccepted.Inc()
	}
	respond(nil)
}

func (v *Vault) handleQuery(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	var p QueryPayload
	if err := c.Message.Decode(&p); err != nil {
		next(err)
		return
	}
	r, err := v.queries.DefaultStats(ctx, p.Query)
	if err != nil {
		next(err)
		return
	}
	reply(respond, next, TypeQuery+"_SUCCESS", QueryPayload{Query: p.Query, Result: r})
}

func (v *Vault) consent(ctx context.Context, client string) (store.Consent, error) {
	if client == "" {
		return store.ConsentUnknown, nil
	}
	return v.store.Consent(ctx, client)
}

func (v *Vault) handleConsentStatus(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	status, err := v.consent(ctx, c.Client)
	if err != nil {
		next(err)
		return
	}
	reply(respond, next, TypeConsentStatus+"_SUCCESS", ConsentPayload{
		Status:        status,
		AllowsCookies: c.Client != "",
	})
}

// handleExpressConsent persists the decision of the client. Denying consent
// forgets every visitor id of the client, its past events can no longer be
// linked to it.
func (v *Vault) handleExpressConsent(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	var p ConsentPayload
	if err := c.Message.Decode(&p); err != nil {
		next(err)
		return
	}
	if p.Status != store.ConsentAllow && p.Status != store.ConsentDeny {
		next(ErrInvalidConsent.New(p.Status))
		return
	}
	if c.Client == "" {
		next(ErrNoCookies.New())
		return
	}
	if err := v.store.SetConsent(ctx, c.Client, p.Status); err != nil {
		next(err)
		return
	}
	if p.Status == store.ConsentDeny {
		if err := v.store.Forget(ctx, c.Client); err != nil {
			next(err)
			return
		}
	}
	reply(respond, next, TypeExpressConsent+"_SUCCESS", ConsentPayload{
		Status:        p.Status,
		AllowsCookies: true,
	})
}

// handleOnboardingStats describes the latest visit of the client. Clients
// without consent have no visits.
func (v *Vault) handleOnboardingStats(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	var p OnboardingPayload
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
	o := OnboardingPayload{AccountID: p.AccountID}
	if status == store.ConsentAllow {
		secret, err := v.store.SecretID(ctx, c.Client, p.AccountID)
		if err != nil {
			next(err)
			return
		}
		all, err := v.store.Query(ctx, store.Criteria{AccountID: p.AccountID})
		if err != nil {
			next(err)
			return
		}
		own := make([]events.Event, 0, len(all))
		for i := range all {
			if all[i].SecretID == secret {
				own = append(own, all[i])
			}
		}
		o.Stats = stats.OnboardingStats(own)
	}
	reply(respond, next, TypeOnboardingStats+"_SUCCESS", o)
}

func (v *Vault) handlePurge(ctx context.Context, c *router.Context, respond router.Respond, next router.Next) {
	if c.Client != "" {
		if err := v.store.Forget(ctx, c.Client); err != nil {
			next(err)
			return
		}
	}
	reply(respond, next, TypePurge+"_SUCCESS", nil)
}
