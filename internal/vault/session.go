package vault

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

// sessions assigns session ids per client and account. A session ends after
// timeout without activity.
type sessions struct {
	mu      sync.Mutex
	cache   *ristretto.Cache
	timeout time.Duration
}

func newSessions(timeout time.Duration) (*sessions, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &sessions{cache: cache, timeout: timeout}, nil
}

// ID returns the current session of client on account and extends it.
func (s *sessions) ID(client, account string) string {
	key := client + "/" + account
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.cache.Get(key)
	if !ok {
		id = uuid.NewString()
	}
	s.cache.SetWithTTL(key, id, 1, s.timeout)
	s.cache.Wait()
	return id.(string)
}

func (s *sessions) Close() {
	s.cache.Close()
}
