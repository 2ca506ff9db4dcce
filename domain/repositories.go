package domain

import (
	"context"
	"errors"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user with this email already exists")
	// ErrUnavailable marks failures to reach a backing store (network, timeout).
	ErrUnavailable = errors.New("backend unavailable")
)

// WriteOptions controls how WriteDocument treats an existing document.
type WriteOptions struct {
	// Merge patches the stored document instead of replacing it. Nested maps
	// are merged key by key. A missing document is created either way.
	Merge bool
}

// ProfileStore is a document database keyed by collection and key.
type ProfileStore interface {
	WriteDocument(ctx context.Context, collection, key string, doc Document, opts WriteOptions) error
	// ReadDocument returns ErrDocumentNotFound when the key has no document.
	ReadDocument(ctx context.Context, collection, key string) (Document, error)
}

// UserRepository stores credential records for the local identity provider.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
}
