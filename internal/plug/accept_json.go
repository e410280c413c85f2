package plug

import (
	"mime"
	"net/http"
)

// AcceptJSON rejects requests with a body that is not JSON. Preflight
// requests pass.
func AcceptJSON(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			mt, _, err := mime.ParseMediaType(r.Header.Get("content-type"))
			if err != nil || mt != "application/json" {
				http.Error(w, http.StatusText(http.StatusUnsupportedMediaType), http.StatusUnsupportedMediaType)
				return
			}
		}
		h.ServeHTTP(w, r)
	})
}
