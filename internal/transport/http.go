package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vinceanalytics/vault/internal/logger"
)

const (
	// ClientCookie holds the pseudonymous client identifier.
	ClientCookie = "user"
	maxBodySize  = 1 << 20
	clientMaxAge = 365 * 24 * time.Hour
)

// Handler serves messages posted over HTTP. Each request carries one message
// and its reply is written as the response body. allowed lists the origins
// allowed to post, an empty list allows any origin.
func Handler(d Dispatcher, allowed []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.Component(ctx, "transport")
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		var m Message
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&m); err != nil {
			log.WithField(logrus.ErrorKey, err).Debug("failed decoding message")
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		reply := make(chan *Message, 1)
		d.Handle(ctx, Envelope{
			Message: &m,
			Origin:  r.Header.Get("Origin"),
			Client:  client(w, r),
			Reply: Once(PortFunc(func(_ context.Context, m *Message) error {
				reply <- m
				return nil
			})),
		})
		var res *Message
		select {
		case res = <-reply:
		case <-ctx.Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			log.WithField(logrus.ErrorKey, err).Error("failed writing reply")
		}
	}))
}

// client returns the client id of the request, minting and setting a new one
// when the request carries none.
func client(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ClientCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// Client sends messages to a vault over HTTP.
type Client struct {
	URL string
	// HTTP defaults to http.DefaultClient. Use a client with a cookie jar to
	// keep the same client identity across messages.
	HTTP *http.Client
	// Origin is sent as Origin header.
	Origin string
	// Retries is the number of times transport failures are retried. The zero
	// value sends each message once.
	Retries uint64
}

var _ Sender = (*Client)(nil)

func (c *Client) Send(ctx context.Context, m *Message) (*Message, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	var res Message
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.Origin != "" {
			req.Header.Set("Origin", c.Origin)
		}
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("transport: unexpected status %s", resp.Status)
			if resp.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		res = Message{}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&res); err != nil {
			return backoff.Permanent(fmt.Errorf("transport: decoding reply %w", err))
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.Retries), ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return &res, nil
}
