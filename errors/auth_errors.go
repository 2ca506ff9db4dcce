package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a failure surfaced by the session manager.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindIdentityConflict    Kind = "identity_conflict"
	KindWeakCredential      Kind = "weak_credential"
	KindInvalidCredentials  Kind = "invalid_credentials"
	KindAccountDisabled     Kind = "account_disabled"
	KindAccountNotFound     Kind = "account_not_found"
	KindInvalidEmail        Kind = "invalid_email"
	KindRateLimited         Kind = "rate_limited"
	KindNetworkFailure      Kind = "network_failure"
	KindRequiresRecentLogin Kind = "requires_recent_login"
	KindOperationNotAllowed Kind = "operation_not_allowed"
	KindNotFound            Kind = "not_found"
	KindProfileWriteFailed  Kind = "profile_write_failed"
	KindUnauthenticated     Kind = "unauthenticated"
	KindUnknown             Kind = "unknown"
)

// Identity provider error codes.
const (
	CodeUserNotFound         = "user-not-found"
	CodeWrongPassword        = "wrong-password"
	CodeEmailAlreadyInUse    = "email-already-in-use"
	CodeWeakPassword         = "weak-password"
	CodeInvalidEmail         = "invalid-email"
	CodeUserDisabled         = "user-disabled"
	CodeTooManyRequests      = "too-many-requests"
	CodeNetworkRequestFailed = "network-request-failed"
	CodeInvalidCredential    = "invalid-credential"
	CodeRequiresRecentLogin  = "requires-recent-login"
	CodeOperationNotAllowed  = "operation-not-allowed"
	CodeInternalError        = "internal-error"
	CodeInvalidActionCode    = "invalid-action-code"
	CodeInvalidArgument      = "invalid-argument"
)

// Session core codes. These never come from a provider.
const (
	CodeProfileNotFound    = "profile-not-found"
	CodeProfileWriteFailed = "profile-write-failed"
	CodeUnauthenticated    = "unauthenticated"
)

// UnexpectedMessage is shown for any code without a dedicated message.
const UnexpectedMessage = "Ocurrió un error inesperado"

var messages = map[string]string{
	CodeUserNotFound:         "No existe una cuenta con este email",
	CodeWrongPassword:        "Contraseña incorrecta",
	CodeEmailAlreadyInUse:    "Ya existe una cuenta con este email",
	CodeWeakPassword:         "La contraseña debe tener al menos 6 caracteres",
	CodeInvalidEmail:         "Email inválido",
	CodeUserDisabled:         "Esta cuenta ha sido deshabilitada",
	CodeTooManyRequests:      "Demasiados intentos. Intenta más tarde",
	CodeNetworkRequestFailed: "Error de conexión. Verifica tu internet",
	CodeInvalidCredential:    "Credenciales inválidas. Verifica tu email y contraseña",
	CodeRequiresRecentLogin:  "Necesitas iniciar sesión de nuevo para esta acción",
	CodeOperationNotAllowed:  "Operación no permitida. Contacta al administrador",
	CodeInvalidActionCode:    "El enlace no es válido o ha expirado",
	CodeInvalidArgument:      "Solicitud inválida",

	CodeProfileNotFound:    "No se encontraron datos del perfil",
	CodeProfileWriteFailed: "Tu cuenta fue creada, pero no pudimos guardar tu perfil. Se completará al iniciar sesión",
	CodeUnauthenticated:    "Usuario no autenticado",
}

var kinds = map[string]Kind{
	CodeUserNotFound:         KindAccountNotFound,
	CodeWrongPassword:        KindInvalidCredentials,
	CodeInvalidCredential:    KindInvalidCredentials,
	CodeEmailAlreadyInUse:    KindIdentityConflict,
	CodeWeakPassword:         KindWeakCredential,
	CodeInvalidEmail:         KindInvalidEmail,
	CodeUserDisabled:         KindAccountDisabled,
	CodeTooManyRequests:      KindRateLimited,
	CodeNetworkRequestFailed: KindNetworkFailure,
	CodeRequiresRecentLogin:  KindRequiresRecentLogin,
	CodeOperationNotAllowed:  KindOperationNotAllowed,
	CodeInvalidActionCode:    KindInvalidCredentials,
	CodeInvalidArgument:      KindValidation,
	CodeProfileNotFound:      KindNotFound,
	CodeProfileWriteFailed:   KindProfileWriteFailed,
	CodeUnauthenticated:      KindUnauthenticated,
}

// NormalizeCode strips the "auth/" namespace some providers put in front of their codes.
func NormalizeCode(code string) string {
	return strings.TrimPrefix(strings.TrimSpace(code), "auth/")
}

// MessageForCode returns the user-facing message for a provider or session code.
func MessageForCode(code string) string {
	if msg, ok := messages[NormalizeCode(code)]; ok {
		return msg
	}
	return UnexpectedMessage
}

// KindForCode returns the error kind a code belongs to.
func KindForCode(code string) Kind {
	if k, ok := kinds[NormalizeCode(code)]; ok {
		return k
	}
	return KindUnknown
}

// ProviderError is returned by identity providers. Code is one of the Code* constants.
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth/%s: %v", NormalizeCode(e.Code), e.Err)
	}
	return "auth/" + NormalizeCode(e.Code)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError for the given code.
func NewProviderError(code string, err error) *ProviderError {
	return &ProviderError{Code: code, Err: err}
}

// AuthError is the only error type that leaves the session manager.
type AuthError struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches another AuthError by kind, so callers can write errors.Is(err, &AuthError{Kind: ...}).
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an AuthError for a code with its table message.
func New(code string, err error) *AuthError {
	code = NormalizeCode(code)
	return &AuthError{
		Kind:    KindForCode(code),
		Code:    code,
		Message: MessageForCode(code),
		Err:     err,
	}
}

// NewValidation builds a ValidationError carrying the message of the failed rule.
func NewValidation(code string) *AuthError {
	code = NormalizeCode(code)
	return &AuthError{
		Kind:    KindValidation,
		Code:    code,
		Message: MessageForCode(code),
	}
}

// FromError maps any error into an AuthError. Provider errors keep their code,
// anything else becomes KindUnknown.
func FromError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return authErr
	}
	var provErr *ProviderError
	if stderrors.As(err, &provErr) {
		return New(provErr.Code, err)
	}
	return &AuthError{
		Kind:    KindUnknown,
		Code:    CodeInternalError,
		Message: UnexpectedMessage,
		Err:     err,
	}
}

// KindOf returns the kind of err, or KindUnknown when err is not an AuthError.
func KindOf(err error) Kind {
	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindUnknown
}

// Message returns the user-facing message carried by err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Message
}
