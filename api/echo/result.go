package lectioecho

import (
	"net/http"

	"github.com/labstack/echo/v4"
	serrors "github.com/pilab-dev/lectio/errors"
)

// Result is the envelope of every response. Data is set on success. On
// failure Error holds the user-facing message, Code and Kind identify it.
// A registration whose profile write failed carries both.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, Result{Success: true, Data: data})
}

func failure(authErr *serrors.AuthError) Result {
	return Result{Error: authErr.Message, Code: authErr.Code, Kind: string(authErr.Kind)}
}

func fail(c echo.Context, err error) error {
	authErr := serrors.FromError(err)
	return c.JSON(statusForKind(authErr.Kind), failure(authErr))
}

func statusForKind(kind serrors.Kind) int {
	switch kind {
	case serrors.KindValidation, serrors.KindInvalidEmail, serrors.KindWeakCredential:
		return http.StatusBadRequest
	case serrors.KindInvalidCredentials, serrors.KindUnauthenticated, serrors.KindRequiresRecentLogin:
		return http.StatusUnauthorized
	case serrors.KindAccountDisabled, serrors.KindOperationNotAllowed:
		return http.StatusForbidden
	case serrors.KindAccountNotFound, serrors.KindNotFound:
		return http.StatusNotFound
	case serrors.KindIdentityConflict:
		return http.StatusConflict
	case serrors.KindRateLimited:
		return http.StatusTooManyRequests
	case serrors.KindNetworkFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
