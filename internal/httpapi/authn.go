package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"accessdesk.org/internal/audit"
	"accessdesk.org/internal/directory"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errNoBearerToken = errors.New("missing bearer token")
	errBadAuthScheme = errors.New("invalid authorization scheme")
)

// resolveToken looks up the bearer token carried by the request. The
// interceptor uses it optionally, the guard mandatorily.
func (a *API) resolveToken(r *http.Request) (directory.Token, error) {
	value, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return directory.Token{}, err
	}
	return a.svc.TokenByValue(r.Context(), value)
}

// requireToken rejects requests that do not carry a known bearer token and
// attaches the resolved token to the request context.
func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := a.resolveToken(r)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) || errors.Is(err, directory.ErrInvalidInput) {
				challenge(w, r, "invalid token")
				return
			}
			if errors.Is(err, errNoBearerToken) || errors.Is(err, errBadAuthScheme) {
				challenge(w, r, err.Error())
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		ctx := ContextWithToken(r.Context(), tok)
		ctx = audit.WithTokenID(ctx, tok.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func challenge(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoBearerToken
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errBadAuthScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoBearerToken
	}
	return token, nil
}
