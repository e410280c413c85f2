package plug

import (
	"net/http"

	"github.com/oklog/ulid/v2"
	"github.com/vinceanalytics/vault/internal/logger"
)

type Plug func(http.Handler) http.Handler

type Pipeline []Plug

func (p Pipeline) Pass(h http.HandlerFunc) http.Handler {
	x := http.Handler(h)
	for i := range p {
		x = p[len(p)-1-i](x)
	}
	return x
}

func (p Pipeline) And(n ...Plug) Pipeline {
	return append(p, n...)
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

// Script sets the headers needed by pages embedding the vault from another
// origin.
func Script(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-content-type-options", "nosniff")
		w.Header().Set("cross-origin-resource-policy", "cross-origin")
		w.Header().Set("cache-control", "no-store")
		h.ServeHTTP(w, r)
	})
}

func PutSecureBrowserHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-frame-options", "SAMEORIGIN")
		w.Header().Set("x-xss-protection", "1; mode=block")
		w.Header().Set("x-content-type-options", "nosniff")
		w.Header().Set("x-download-options", "noopen")
		w.Header().Set("x-permitted-cross-domain-policies", "none")
		w.Header().Set("cross-origin-window-policy", "deny")
		h.ServeHTTP(w, r)
	})
}

// RequestID tags the request logger with the x-request-id header, minting
// one when the request carries none.
func RequestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("x-request-id")
		if id == "" {
			id = ulid.Make().String()
			r.Header.Set("x-request-id", id)
		}
		w.Header().Set("x-request-id", id)
		ctx := r.Context()
		ctx = logger.With(ctx, logger.Get(ctx).WithField("request_id", id))
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}
