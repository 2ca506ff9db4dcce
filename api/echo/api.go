//nolint:varnamelen
package lectioecho

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pilab-dev/lectio"
	"github.com/pilab-dev/lectio/domain"
	serrors "github.com/pilab-dev/lectio/errors"
	lectiomw "github.com/pilab-dev/lectio/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// SessionProvider is the part of the identity provider the API talks to
// directly. *idp.LocalProvider implements it.
type SessionProvider interface {
	// ConfirmPasswordReset completes a reset started by Manager.RequestPasswordReset.
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	// Token is the bearer token of the signed-in session.
	Token() string
}

// HealthCheck reports whether the backing stores are reachable.
type HealthCheck func(ctx context.Context) error

// SessionAPI exposes one Manager over HTTP for the reading screens.
type SessionAPI struct {
	manager  *lectio.Manager
	provider SessionProvider
	authn    *lectiomw.Authenticator
	gatherer prometheus.Gatherer
	health   HealthCheck
}

// NewSessionAPI creates the API. A nil gatherer serves the default registry
// and a nil health check always passes.
func NewSessionAPI(
	manager *lectio.Manager,
	provider SessionProvider,
	verifier lectiomw.TokenVerifier,
	gatherer prometheus.Gatherer,
	health HealthCheck,
) *SessionAPI {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if health == nil {
		health = func(context.Context) error { return nil }
	}
	return &SessionAPI{
		manager:  manager,
		provider: provider,
		authn:    lectiomw.NewAuthenticator(verifier, provider),
		gatherer: gatherer,
		health:   health,
	}
}

// NewServer returns an echo instance with the API routes and the common
// middleware installed. Spans are named after serviceName.
func NewServer(api *SessionAPI, serviceName string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'self'; frame-ancestors 'none'",
	}))
	e.Use(requestLogger())

	api.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers the session routes. Logout and the profile
// routes need the bearer token returned by register and login.
func (a *SessionAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/register", a.RegisterHandler)
	e.POST("/auth/login", a.LoginHandler)
	e.POST("/auth/password-reset", a.PasswordResetHandler)
	e.POST("/auth/password-reset/confirm", a.PasswordResetConfirmHandler)
	e.GET("/session", a.SessionHandler)

	requireSession := a.authn.RequireSession()
	e.POST("/auth/logout", a.LogoutHandler, requireSession)
	e.GET("/profile", a.CurrentProfileHandler, requireSession)
	e.PATCH("/profile", a.UpdateProfileHandler, requireSession)
	e.GET("/profiles/:uid", a.ProfileHandler, requireSession)

	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
}

// RegisterRequest is the body of POST /auth/register. Fields holds the extra
// registration form values stored on the profile document.
type RegisterRequest struct {
	Email       string         `json:"email"`
	Password    string         `json:"password"`
	DisplayName string         `json:"displayName"`
	Fields      map[string]any `json:"fields"`
}

// CredentialsRequest is the body of POST /auth/login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordResetRequest is the body of POST /auth/password-reset.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest is the body of POST /auth/password-reset/confirm.
type PasswordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	Identity *domain.Identity `json:"identity"`
	Token    string           `json:"token"`
}

func (a *SessionAPI) session(identity *domain.Identity) SessionResponse {
	return SessionResponse{Identity: identity, Token: a.provider.Token()}
}

func bindError(c echo.Context, err error) error {
	log.Debug().Err(err).Str("path", c.Path()).Msg("Malformed request body")
	return fail(c, serrors.NewValidation(serrors.CodeInvalidArgument))
}

// RegisterHandler creates an identity and its profile document. When only
// the profile write failed the identity is still returned, with 202 and the
// profile-write-failed error next to it.
func (a *SessionAPI) RegisterHandler(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}

	identity, err := a.manager.Register(c.Request().Context(), req.Email, req.Password, req.DisplayName, req.Fields)
	if err != nil {
		authErr := serrors.FromError(err)
		if identity != nil && authErr.Kind == serrors.KindProfileWriteFailed {
			res := failure(authErr)
			res.Data = a.session(identity)
			return c.JSON(http.StatusAccepted, res)
		}
		return fail(c, authErr)
	}

	return ok(c, http.StatusCreated, a.session(identity))
}

// LoginHandler verifies credentials and signs the identity in.
func (a *SessionAPI) LoginHandler(c echo.Context) error {
	var req CredentialsRequest
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}

	identity, err := a.manager.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, a.session(identity))
}

// LogoutHandler ends the session. Local state is cleared even when the
// provider reports an error.
func (a *SessionAPI) LogoutHandler(c echo.Context) error {
	if err := a.manager.Logout(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, nil)
}

// PasswordResetHandler sends a password reset email.
func (a *SessionAPI) PasswordResetHandler(c echo.Context) error {
	var req PasswordResetRequest
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}

	if err := a.manager.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusAccepted, nil)
}

// PasswordResetConfirmHandler sets a new password with a reset token.
func (a *SessionAPI) PasswordResetConfirmHandler(c echo.Context) error {
	var req PasswordResetConfirmRequest
	if err := c.Bind(&req); err != nil {
		return bindError(c, err)
	}
	if req.Token == "" {
		return fail(c, serrors.New(serrors.CodeInvalidActionCode, nil))
	}

	if err := a.provider.ConfirmPasswordReset(c.Request().Context(), req.Token, req.Password); err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, nil)
}

// SessionHandler returns the current session snapshot. Identity and profile
// are only included for the bearer of the active session token.
func (a *SessionAPI) SessionHandler(c echo.Context) error {
	state := a.manager.State()
	if _, err := a.authn.Authenticate(c.Request()); err != nil {
		return ok(c, http.StatusOK, state.Public())
	}
	return ok(c, http.StatusOK, state)
}

// CurrentProfileHandler returns the attached profile of the signed-in
// identity, reading the store when none is attached yet.
func (a *SessionAPI) CurrentProfileHandler(c echo.Context) error {
	state := a.manager.State()
	if state.Identity == nil {
		return fail(c, serrors.New(serrors.CodeUnauthenticated, nil))
	}
	if state.Profile != nil {
		return ok(c, http.StatusOK, state.Profile)
	}

	profile, err := a.manager.GetProfile(c.Request().Context(), state.Identity.UID)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, profile)
}

// UpdateProfileHandler merges the JSON body into the signed-in identity's
// profile and returns the reloaded session profile.
func (a *SessionAPI) UpdateProfileHandler(c echo.Context) error {
	var fields map[string]any
	if err := c.Bind(&fields); err != nil {
		return bindError(c, err)
	}

	if err := a.manager.UpdateCurrentProfile(c.Request().Context(), fields); err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, a.manager.State().Profile)
}

// ProfileHandler reads the profile document of any uid.
func (a *SessionAPI) ProfileHandler(c echo.Context) error {
	profile, err := a.manager.GetProfile(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, profile)
}

// HealthHandler runs the health check.
func (a *SessionAPI) HealthHandler(c echo.Context) error {
	if err := a.health(c.Request().Context()); err != nil {
		log.Warn().Err(err).Msg("Health check failed")
		return fail(c, serrors.New(serrors.CodeNetworkRequestFailed, err))
	}
	return ok(c, http.StatusOK, echo.Map{"status": "ok"})
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("Request")
			return nil
		},
	})
}
