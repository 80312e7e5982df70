package middleware

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/sandboxfirst/uom/errors"
)

// IsAuthorized requires a matching X-API-Key header on every request. An
// empty apiKey disables the check, which tests and local development rely
// on.
func IsAuthorized(apiKey string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if apiKey == "" {
			next(w, r, ps)
			return
		}

		got := r.Header.Get("X-API-Key")
		if got == "" {
			errors.WriteHTTPUnauthorized(w, "No X-API-Key header", nil)
			return
		}

		if got != apiKey {
			errors.WriteHTTPUnauthorized(w, "Invalid API key", nil)
			return
		}

		next(w, r, ps)
	}
}
