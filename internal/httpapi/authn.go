package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"payline.org/internal/auth"
	"payline.org/internal/ids"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth verifies the bearer access token and attaches its claims to the request context.
func (a *API) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="payline"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.auth.Authenticate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="payline", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	})
}

// pathIDs names the identifier path values and the message used when one is malformed.
var pathIDs = []struct{ name, notFound string }{
	{"orgID", "organization not found"},
	{"userID", "member not found"},
	{"recipientID", "recipient not found"},
	{"runID", "run not found"},
}

// scoped is withAuth for organization routes. Path identifiers that could never
// have been issued are answered 404 before reaching a store.
func (a *API) scoped(next http.HandlerFunc) http.Handler {
	return a.withAuth(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range pathIDs {
			if v := r.PathValue(p.name); v != "" && !ids.Valid(v) {
				writeError(w, r, http.StatusNotFound, p.notFound)
				return
			}
		}
		next(w, r)
	})
}

// actor returns the authenticated user id. withAuth guarantees it is present.
func actor(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
