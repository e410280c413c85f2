package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vinceanalytics/vault/internal/events"
)

// Memory is a Store kept in process memory.
type Memory struct {
	mu        sync.RWMutex
	retention time.Duration
	now       func() time.Time
	events    map[string][]events.Event
	consent   map[string]Consent
	secrets   map[string]map[string]string
	closed    bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store. Events older than retention are not
// returned, a zero retention keeps everything.
func NewMemory(retention time.Duration) *Memory {
	return &Memory{
		retention: retention,
		now:       time.Now,
		events:    make(map[string][]events.Event),
		consent:   make(map[string]Consent),
		secrets:   make(map[string]map[string]string),
	}
}

func (m *Memory) Append(_ context.Context, ls ...events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	touched := make(map[string]struct{})
	for _, e := range ls {
		m.events[e.AccountID] = append(m.events[e.AccountID], e)
		touched[e.AccountID] = struct{}{}
	}
	for a := range touched {
		ls := m.events[a]
		sort.SliceStable(ls, func(i, j int) bool {
			return ls[i].EventID < ls[j].EventID
		})
	}
	return nil
}

func (m *Memory) Query(_ context.Context, c Criteria) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	src := m.events[c.AccountID]
	o := make([]events.Event, 0, len(src))
	for _, e := range src {
		if c.match(e.EventID) && !m.expired(e.EventID) {
			o = append(o, e)
		}
	}
	return o, nil
}

func (m *Memory) Count(ctx context.Context, accountID string) (int, error) {
	ls, err := m.Query(ctx, Criteria{AccountID: accountID})
	return len(ls), err
}

func (m *Memory) expired(id string) bool {
	if m.retention <= 0 {
		return false
	}
	ts, ok := events.Time(id)
	return ok && ts.Before(m.now().Add(-m.retention))
}

func (m *Memory) Consent(_ context.Context, client string) (Consent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ConsentUnknown, ErrClosed
	}
	return m.consent[client], nil
}

func (m *Memory) SetConsent(_ context.Context, client string, c Consent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if c == ConsentUnknown {
		delete(m.consent, client)
		return nil
	}
	m.consent[client] = c
	return nil
}

func (m *Memory) SecretID(_ context.Context, client, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	accounts, ok := m.secrets[client]
	if !ok {
		accounts = make(map[string]string)
		m.secrets[client] = accounts
	}
	id, ok := accounts[account]
	if !ok {
		id = newSecret()
		accounts[account] = id
	}
	return id, nil
}

func (m *Memory) Forget(_ context.Context, client string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.secrets, client)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
