package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/logger"
)

var (
	eventPrefix   = []byte("e/")
	consentPrefix = []byte("c/")
	secretPrefix  = []byte("s/")
)

// Badger is a Store backed by badger. Events are written with a TTL so the
// value log drops them once the retention period passes.
type Badger struct {
	db        *badger.DB
	retention time.Duration
	now       func() time.Time
}

var _ Store = (*Badger)(nil)

// Open opens the database under path. An empty path keeps everything in
// memory.
func Open(path string, retention time.Duration) (*Badger, error) {
	if path != "" {
		path = filepath.Join(path, "db")
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
	}
	db, err := badger.Open(badger.
		DefaultOptions(path).
		WithInMemory(path == "").
		WithCompactL0OnClose(true).
		WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return newBadger(db, retention), nil
}

func newBadger(db *badger.DB, retention time.Duration) *Badger {
	return &Badger{db: db, retention: retention, now: time.Now}
}

func (db *Badger) Start(ctx context.Context) {
	go db.runVlogGC(ctx)
}

func (db *Badger) Close() error {
	return db.db.Close()
}

func eventKey(account, id string) []byte {
	b := make([]byte, 0, len(eventPrefix)+len(account)+1+len(id))
	b = append(b, eventPrefix...)
	b = append(b, account...)
	b = append(b, '/')
	return append(b, id...)
}

func (db *Badger) Append(_ context.Context, ls ...events.Event) error {
	wb := db.db.NewWriteBatch()
	defer wb.Cancel()
	now := db.now()
	for i := range ls {
		e := &ls[i]
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		entry := badger.NewEntry(eventKey(e.AccountID, e.EventID), data)
		if db.retention > 0 {
			ttl := db.retention
			if ts, ok := events.Time(e.EventID); ok {
				ttl = ts.Add(db.retention).Sub(now)
			}
			if ttl <= 0 {
				continue
			}
			entry = entry.WithTTL(ttl)
		}
		if err := wb.SetEntry(entry); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (db *Badger) Query(ctx context.Context, c Criteria) (o []events.Event, err error) {
	prefix := eventKey(c.AccountID, "")
	err = db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		upper := eventKey(c.AccountID, c.Upper)
		for it.Seek(eventKey(c.AccountID, c.Lower)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if c.Upper != "" && bytes.Compare(item.Key(), upper) > 0 {
				return nil
			}
			var e events.Event
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			o = append(o, e)
		}
		return nil
	})
	return
}

func (db *Badger) Count(ctx context.Context, accountID string) (n int, err error) {
	prefix := eventKey(accountID, "")
	err = db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return ctx.Err()
	})
	return
}

func (db *Badger) Consent(_ context.Context, client string) (c Consent, err error) {
	err = db.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get(append(bytes.Clone(consentPrefix), client...))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return it.Value(func(val []byte) error {
			c = Consent(val)
			return nil
		})
	})
	return
}

func (db *Badger) SetConsent(_ context.Context, client string, c Consent) error {
	key := append(bytes.Clone(consentPrefix), client...)
	return db.db.Update(func(txn *badger.Txn) error {
		if c == ConsentUnknown {
			return txn.Delete(key)
		}
		return txn.Set(key, []byte(c))
	})
}

func secretKey(client, account string) []byte {
	b := append(bytes.Clone(secretPrefix), client...)
	b = append(b, '/')
	return append(b, account...)
}

// SecretID retries on transaction conflicts, concurrent first requests of
// the same client race to mint the id.
func (db *Badger) SecretID(ctx context.Context, client, account string) (id string, err error) {
	key := secretKey(client, account)
	op := func() error {
		return db.db.Update(func(txn *badger.Txn) error {
			it, err := txn.Get(key)
			if err == nil {
				return it.Value(func(val []byte) error {
					id = string(val)
					return nil
				})
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			id = newSecret()
			return txn.Set(key, []byte(id))
		})
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx,
	)
	err = backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, badger.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return
}

func (db *Badger) Forget(_ context.Context, client string) error {
	prefix := append(bytes.Clone(secretPrefix), client...)
	prefix = append(prefix, '/')
	return db.db.DropPrefix(prefix)
}

func (db *Badger) runVlogGC(ctx context.Context) {
	log := logger.Component(ctx, "store")
	log.WithField("interval", time.Minute).Info("starting gc check loop")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	abs := func(a, b int64) int64 {
		if a > b {
			return a - b
		}
		return b - a
	}

	var lastSz int64
	runGC := func() {
		for err := error(nil); err == nil; {
			// If a GC is successful, immediately run it again.
			err = db.db.RunValueLogGC(0.7)
		}
		_, sz := db.db.Size()
		if abs(lastSz, sz) > 512<<20 {
			log.WithFields(logrus.Fields{
				"size": humanize.IBytes(uint64(sz)),
			}).Info("value log")
			lastSz = sz
		}
	}

	runGC()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runGC()
		}
	}
}
