// Package store keeps events, consent decisions and visitor ids.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vinceanalytics/vault/internal/events"
)

var ErrClosed = errors.New("store: closed")

// Criteria selects the events of one account. Lower and Upper are inclusive
// event id bounds, empty bounds are open.
type Criteria struct {
	AccountID string
	Lower     string
	Upper     string
}

func (c Criteria) match(id string) bool {
	if c.Lower != "" && id < c.Lower {
		return false
	}
	if c.Upper != "" && id > c.Upper {
		return false
	}
	return true
}

// Events is the read and append API over stored events. Query returns events
// ordered by event id.
type Events interface {
	Append(ctx context.Context, ls ...events.Event) error
	Query(ctx context.Context, c Criteria) ([]events.Event, error)
	Count(ctx context.Context, accountID string) (int, error)
}

type Consent string

const (
	ConsentUnknown Consent = ""
	ConsentAllow   Consent = "allow"
	ConsentDeny    Consent = "deny"
)

func (c Consent) Valid() bool {
	switch c {
	case ConsentUnknown, ConsentAllow, ConsentDeny:
		return true
	default:
		return false
	}
}

// Users keeps per client state. A client is a browser as identified by the
// transport.
type Users interface {
	Consent(ctx context.Context, client string) (Consent, error)
	SetConsent(ctx context.Context, client string, c Consent) error
	// SecretID returns the visitor id of client for account, minting one on
	// first use.
	SecretID(ctx context.Context, client, account string) (string, error)
	// Forget removes every visitor id of client.
	Forget(ctx context.Context, client string) error
}

type Store interface {
	Events
	Users
	Close() error
}

func newSecret() string {
	return uuid.NewString()
}
