package lectio

import (
	"regexp"

	serrors "github.com/pilab-dev/lectio/errors"
)

// MinPasswordLength is the shortest password register accepts.
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether email looks like local@domain.tld.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func validateRegistration(email, password string) error {
	if !ValidEmail(email) {
		return serrors.NewValidation(serrors.CodeInvalidEmail)
	}
	if len(password) < MinPasswordLength {
		return serrors.NewValidation(serrors.CodeWeakPassword)
	}
	return nil
}
