package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization")
	errBadAuthorization     = errors.New("bad authorization")
)

// tokenQueryParam carries the token for EventSource clients, which cannot set
// request headers.
const tokenQueryParam = "token"

// bearerTokenFromRequest returns the compact JWT presented with r. The
// Authorization header wins over the query parameter when both are set.
func bearerTokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		return parseBearer(h)
	}
	if q := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); q != "" {
		return compactJWT(q)
	}
	return "", errMissingAuthorization
}

// parseBearer reads "Bearer <jwt>". The scheme is matched case-insensitively.
func parseBearer(h string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", errBadAuthorization
	}
	return compactJWT(strings.TrimSpace(token))
}

// compactJWT accepts header.payload.signature and nothing else.
func compactJWT(token string) (string, error) {
	if strings.Count(token, ".") != 2 || strings.ContainsAny(token, " \t") {
		return "", errBadAuthorization
	}
	for _, part := range strings.Split(token, ".") {
		if part == "" {
			return "", errBadAuthorization
		}
	}
	return token, nil
}
