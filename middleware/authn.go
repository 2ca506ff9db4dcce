// Package middleware holds echo middleware shared by the HTTP surfaces.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/pilab-dev/lectio/idp"
	"github.com/rs/zerolog/log"
)

// sessionClaimsKey is the echo context key the validated claims are stored under.
const sessionClaimsKey = "lectio.session_claims"

// TokenVerifier validates a session token. *idp.TokenIssuer implements it.
type TokenVerifier interface {
	Parse(token string) (*idp.SessionClaims, error)
}

// TokenSource reports the token of the session currently signed in.
// *idp.LocalProvider implements it.
type TokenSource interface {
	Token() string
}

// Authenticator checks that a request carries the token of the active session.
type Authenticator struct {
	verifier TokenVerifier
	current  TokenSource
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(verifier TokenVerifier, current TokenSource) *Authenticator {
	return &Authenticator{verifier: verifier, current: current}
}

// Authenticate validates the bearer token of r. A token that verifies but
// belongs to an ended session is rejected too.
func (a *Authenticator) Authenticate(r *http.Request) (*idp.SessionClaims, error) {
	authHeader := r.Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		return nil, serrors.New(serrors.CodeUnauthenticated, nil)
	}

	scheme, tokenValue, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || tokenValue == "" {
		return nil, serrors.New(serrors.CodeUnauthenticated, nil)
	}

	claims, err := a.verifier.Parse(tokenValue)
	if err != nil {
		return nil, serrors.New(serrors.CodeUnauthenticated, err)
	}

	current := a.current.Token()
	if current == "" || subtle.ConstantTimeCompare([]byte(current), []byte(tokenValue)) != 1 {
		return nil, serrors.New(serrors.CodeRequiresRecentLogin, nil)
	}
	return claims, nil
}

// RequireSession rejects requests without the active session's bearer token
// with 401 and the usual error envelope.
func (a *Authenticator) RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := a.Authenticate(c.Request())
			if err != nil {
				authErr := serrors.FromError(err)
				log.Debug().Err(err).Str("path", c.Path()).Msg("Request without a valid session token")
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"success": false,
					"error":   authErr.Message,
					"code":    authErr.Code,
					"kind":    authErr.Kind,
				})
			}
			c.Set(sessionClaimsKey, claims)
			return next(c)
		}
	}
}

// SessionClaimsFromContext returns the claims stored by RequireSession.
func SessionClaimsFromContext(c echo.Context) (*idp.SessionClaims, bool) {
	claims, ok := c.Get(sessionClaimsKey).(*idp.SessionClaims)
	return claims, ok && claims != nil
}
