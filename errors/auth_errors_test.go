package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageForCode(t *testing.T) {
	table := map[string]string{
		"user-not-found":         "No existe una cuenta con este email",
		"wrong-password":         "Contraseña incorrecta",
		"email-already-in-use":   "Ya existe una cuenta con este email",
		"weak-password":          "La contraseña debe tener al menos 6 caracteres",
		"invalid-email":          "Email inválido",
		"user-disabled":          "Esta cuenta ha sido deshabilitada",
		"too-many-requests":      "Demasiados intentos. Intenta más tarde",
		"network-request-failed": "Error de conexión. Verifica tu internet",
		"invalid-credential":     "Credenciales inválidas. Verifica tu email y contraseña",
		"requires-recent-login":  "Necesitas iniciar sesión de nuevo para esta acción",
		"operation-not-allowed":  "Operación no permitida. Contacta al administrador",
	}

	for code, want := range table {
		t.Run(code, func(t *testing.T) {
			assert.Equal(t, want, serrors.MessageForCode(code))
			assert.Equal(t, want, serrors.MessageForCode("auth/"+code))
		})
	}

	t.Run("unmapped", func(t *testing.T) {
		assert.Equal(t, "Ocurrió un error inesperado", serrors.MessageForCode("quota-exceeded"))
		assert.Equal(t, "Ocurrió un error inesperado", serrors.MessageForCode("auth/app-deleted"))
		assert.Equal(t, "Ocurrió un error inesperado", serrors.MessageForCode(""))
	})
}

func TestKindForCode(t *testing.T) {
	assert.Equal(t, serrors.KindAccountNotFound, serrors.KindForCode("user-not-found"))
	assert.Equal(t, serrors.KindInvalidCredentials, serrors.KindForCode("wrong-password"))
	assert.Equal(t, serrors.KindInvalidCredentials, serrors.KindForCode("auth/invalid-credential"))
	assert.Equal(t, serrors.KindIdentityConflict, serrors.KindForCode("email-already-in-use"))
	assert.Equal(t, serrors.KindWeakCredential, serrors.KindForCode("weak-password"))
	assert.Equal(t, serrors.KindAccountDisabled, serrors.KindForCode("user-disabled"))
	assert.Equal(t, serrors.KindRateLimited, serrors.KindForCode("too-many-requests"))
	assert.Equal(t, serrors.KindNetworkFailure, serrors.KindForCode("network-request-failed"))
	assert.Equal(t, serrors.KindUnknown, serrors.KindForCode("something-else"))
}

func TestFromError(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	provErr := serrors.NewProviderError(serrors.CodeNetworkRequestFailed, cause)

	authErr := serrors.FromError(fmt.Errorf("login: %w", provErr))
	require.NotNil(t, authErr)
	assert.Equal(t, serrors.KindNetworkFailure, authErr.Kind)
	assert.Equal(t, "network-request-failed", authErr.Code)
	assert.Equal(t, "Error de conexión. Verifica tu internet", authErr.Message)
	assert.ErrorIs(t, authErr, cause)

	unknown := serrors.FromError(stderrors.New("boom"))
	assert.Equal(t, serrors.KindUnknown, unknown.Kind)
	assert.Equal(t, serrors.UnexpectedMessage, unknown.Message)

	assert.Nil(t, serrors.FromError(nil))
	assert.Same(t, authErr, serrors.FromError(authErr))
}

func TestAuthErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", serrors.New(serrors.CodeWrongPassword, nil))
	assert.ErrorIs(t, err, &serrors.AuthError{Kind: serrors.KindInvalidCredentials})
	assert.NotErrorIs(t, err, &serrors.AuthError{Kind: serrors.KindRateLimited})
	assert.Equal(t, serrors.KindInvalidCredentials, serrors.KindOf(err))
	assert.Equal(t, "Contraseña incorrecta", serrors.Message(err))
}

func TestNewValidation(t *testing.T) {
	err := serrors.NewValidation(serrors.CodeWeakPassword)
	assert.Equal(t, serrors.KindValidation, err.Kind)
	assert.Equal(t, "La contraseña debe tener al menos 6 caracteres", err.Message)
}

func TestRequestCodes(t *testing.T) {
	for _, code := range []string{serrors.CodeInvalidArgument, serrors.CodeInvalidActionCode} {
		err := serrors.NewValidation(code)
		assert.Equal(t, serrors.KindValidation, err.Kind, code)
		assert.NotEqual(t, serrors.UnexpectedMessage, err.Message, code)
	}
}
