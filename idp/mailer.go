package idp

import (
	"context"

	"github.com/rs/zerolog"
)

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogMailer writes reset tokens to the log instead of sending mail. Meant for
// development and the CLI.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.logger.Info().
		Ctx(ctx).
		Str("email", email).
		Str("reset_token", token).
		Msg("Password reset requested")
	return nil
}
