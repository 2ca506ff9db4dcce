// Package auth holds the credential hashing used by the local identity
// provider.
package auth

import (
	"fmt"

	"github.com/pilab-dev/lectio/idp"
	"golang.org/x/crypto/bcrypt"
)

var _ idp.PasswordHasher = (*BcryptPasswordHasher)(nil)

// BcryptPasswordHasher stores account passwords as bcrypt hashes at a
// configured work factor.
type BcryptPasswordHasher struct {
	Cost int
}

// NewBcryptPasswordHasher returns a hasher for security.bcrypt_cost. Zero
// selects bcrypt.DefaultCost; other values are clamped to bcrypt's range.
func NewBcryptPasswordHasher(cost int) *BcryptPasswordHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &BcryptPasswordHasher{Cost: cost}
}

func (h *BcryptPasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash account password: %w", err)
	}
	return string(hash), nil
}

// Verify returns bcrypt.ErrMismatchedHashAndPassword for a wrong password.
func (h *BcryptPasswordHasher) Verify(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// NeedsRehash reports whether hash was made at a different cost than the
// configured one, so a successful login can upgrade it. Unreadable hashes
// are left alone.
func (h *BcryptPasswordHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost != h.Cost
}
