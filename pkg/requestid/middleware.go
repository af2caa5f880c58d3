package requestid

import (
	"net/http"

	"github.com/google/uuid"
)

// Header is read from the gateway and echoed on every response.
const Header = "X-Request-ID"

const maxIDLength = 128

// Middleware keeps a well-formed incoming id and replaces a missing or
// malformed one with a fresh UUID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if !validID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
	})
}

// validID accepts 1 to maxIDLength characters from [A-Za-z0-9_-].
func validID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
