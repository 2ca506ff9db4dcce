package idp

// PasswordHasher hashes and checks credential secrets.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify returns nil when password matches hash.
	Verify(hash, password string) error
	// NeedsRehash reports whether hash should be replaced after the next
	// successful verification.
	NeedsRehash(hash string) bool
}
