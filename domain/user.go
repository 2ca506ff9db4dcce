package domain

import "time"

// UserStatus defines the possible statuses of a credential record.
type UserStatus string

const (
	UserStatusActive UserStatus = "ACTIVE"
	UserStatusLocked UserStatus = "LOCKED" // surfaces as user-disabled
)

// User is the credential record kept by the local identity provider.
type User struct {
	ID                  string     `bson:"_id,omitempty"`
	Email               string     `bson:"email"`
	PasswordHash        string     `bson:"password_hash"`
	DisplayName         string     `bson:"display_name,omitempty"`
	EmailVerified       bool       `bson:"email_verified"`
	Status              UserStatus `bson:"status"`
	CreatedAt           time.Time  `bson:"created_at"`
	UpdatedAt           time.Time  `bson:"updated_at"`
	LastLoginAt         *time.Time `bson:"last_login_at,omitempty"`
	FailedLoginAttempts int        `bson:"failed_login_attempts,omitempty"`
	LastFailedLoginAt   *time.Time `bson:"last_failed_login_at,omitempty"`
}

// Identity projects the credential record into the provider-facing identity.
func (u *User) Identity() *Identity {
	return &Identity{
		UID:           u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}
