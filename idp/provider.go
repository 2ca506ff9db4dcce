// Package idp is a self-hosted identity provider: credential records with
// bcrypt hashes, signed session tokens and password reset by email.
package idp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pilab-dev/lectio/cache"
	"github.com/pilab-dev/lectio/domain"
	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/rs/zerolog/log"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Config tunes the provider. Zero values fall back to DefaultConfig.
type Config struct {
	MinPasswordLength int
	MaxFailedLogins   int
	LockoutWindow     time.Duration
	ResetTokenTTL     time.Duration
	ResetRateLimit    int
	ResetRateWindow   time.Duration
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		MinPasswordLength: 6,
		MaxFailedLogins:   5,
		LockoutWindow:     15 * time.Minute,
		ResetTokenTTL:     time.Hour,
		ResetRateLimit:    3,
		ResetRateWindow:   time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = d.MinPasswordLength
	}
	if c.MaxFailedLogins <= 0 {
		c.MaxFailedLogins = d.MaxFailedLogins
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = d.LockoutWindow
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = d.ResetTokenTTL
	}
	if c.ResetRateLimit <= 0 {
		c.ResetRateLimit = d.ResetRateLimit
	}
	if c.ResetRateWindow <= 0 {
		c.ResetRateWindow = d.ResetRateWindow
	}
	return c
}

// LocalProvider implements domain.IdentityProvider.
type LocalProvider struct {
	users    domain.UserRepository
	sessions cache.SessionStore
	hasher   PasswordHasher
	issuer   *TokenIssuer
	tokens   TokenStore
	mailer   Mailer
	cfg      Config
	now      func() time.Time

	mu        sync.Mutex
	current   *domain.Identity
	token     string
	resolved  bool
	listeners map[uint64]domain.SessionListener
	nextID    uint64

	// events waits for delivery in the order the changes happened. A
	// listener that changes the session has its event queued behind the
	// one being delivered.
	events      []*domain.Identity
	dispatching bool
}

var _ domain.IdentityProvider = (*LocalProvider)(nil)

// NewLocalProvider wires a provider. Call Restore once to resolve the
// persisted session before relying on CurrentIdentity.
func NewLocalProvider(
	users domain.UserRepository,
	sessions cache.SessionStore,
	hasher PasswordHasher,
	issuer *TokenIssuer,
	tokens TokenStore,
	mailer Mailer,
	cfg Config,
) *LocalProvider {
	return &LocalProvider{
		users:     users,
		sessions:  sessions,
		hasher:    hasher,
		issuer:    issuer,
		tokens:    tokens,
		mailer:    mailer,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		listeners: map[uint64]domain.SessionListener{},
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func providerError(code string, err error) error {
	return serrors.NewProviderError(code, err)
}

// backendError maps repository and cache failures to provider codes.
func backendError(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, domain.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return providerError(serrors.CodeNetworkRequestFailed, wrapped)
	}
	return providerError(serrors.CodeInternalError, wrapped)
}

// Restore resolves the initial session from the persisted token and delivers
// the first notification. A token that no longer verifies is discarded.
func (p *LocalProvider) Restore(ctx context.Context) error {
	identity, token, err := p.restoreIdentity(ctx)

	p.mu.Lock()
	p.current = identity
	p.token = token
	p.resolved = true
	p.mu.Unlock()

	p.notify(identity)
	return err
}

func (p *LocalProvider) restoreIdentity(ctx context.Context) (*domain.Identity, string, error) {
	token, err := p.tokens.Load(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("load persisted session: %w", err)
	}
	if token == "" {
		return nil, "", nil
	}

	claims, err := p.issuer.Parse(token)
	if err != nil {
		log.Info().Err(err).Msg("Discarding persisted session")
		p.clearPersisted(ctx)
		return nil, "", nil
	}

	if _, err := p.sessions.Get(ctx, token); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			log.Info().Str("uid", claims.Subject).Msg("Persisted session was revoked")
			p.clearPersisted(ctx)
			return nil, "", nil
		}
		// Offline start: the signed claims are enough to resume.
		log.Warn().Err(err).Str("uid", claims.Subject).Msg("Session store unreachable, trusting token claims")
	}

	return claims.Identity(), token, nil
}

func (p *LocalProvider) clearPersisted(ctx context.Context) {
	if err := p.tokens.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to clear persisted session")
	}
}

// OnSessionChange registers listener. If the session is already resolved the
// listener is called right away with the current identity.
func (p *LocalProvider) OnSessionChange(listener domain.SessionListener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	resolved := p.resolved
	current := p.current.Clone()
	p.mu.Unlock()

	if resolved {
		listener(current)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *LocalProvider) notify(identity *domain.Identity) {
	p.mu.Lock()
	p.events = append(p.events, identity.Clone())
	if p.dispatching {
		p.mu.Unlock()
		return
	}
	p.dispatching = true

	for len(p.events) > 0 {
		batch := p.events
		p.events = nil
		listeners := make([]domain.SessionListener, 0, len(p.listeners))
		for _, l := range p.listeners {
			listeners = append(listeners, l)
		}
		p.mu.Unlock()

		for _, event := range batch {
			for _, l := range listeners {
				l(event.Clone())
			}
		}

		p.mu.Lock()
	}

	p.dispatching = false
	p.mu.Unlock()
}

// CurrentIdentity returns the signed-in identity or nil.
func (p *LocalProvider) CurrentIdentity() *domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

// Token returns the current session token, "" when signed out.
func (p *LocalProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// CreateIdentity creates a credential record and signs it in.
func (p *LocalProvider) CreateIdentity(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, providerError(serrors.CodeInvalidEmail, nil)
	}
	if len(password) < p.cfg.MinPasswordLength {
		return nil, providerError(serrors.CodeWeakPassword, nil)
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return nil, providerError(serrors.CodeInternalError, err)
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		Status:       domain.UserStatusActive,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserExists) {
			return nil, providerError(serrors.CodeEmailAlreadyInUse, err)
		}
		return nil, backendError("create user", err)
	}

	log.Info().Str("uid", user.ID).Msg("Identity created")

	return p.signIn(ctx, user.Identity())
}

// VerifyCredentials checks email and password and signs the identity in.
func (p *LocalProvider) VerifyCredentials(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, providerError(serrors.CodeInvalidEmail, nil)
	}

	user, err := p.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, providerError(serrors.CodeUserNotFound, nil)
		}
		return nil, backendError("get user", err)
	}

	if user.Status == domain.UserStatusLocked {
		return nil, providerError(serrors.CodeUserDisabled, nil)
	}

	now := p.now().UTC()
	inWindow := user.LastFailedLoginAt != nil && now.Sub(*user.LastFailedLoginAt) < p.cfg.LockoutWindow
	if inWindow && user.FailedLoginAttempts >= p.cfg.MaxFailedLogins {
		return nil, providerError(serrors.CodeTooManyRequests, nil)
	}

	if err := p.hasher.Verify(user.PasswordHash, password); err != nil {
		if !inWindow {
			user.FailedLoginAttempts = 0
		}
		user.FailedLoginAttempts++
		user.LastFailedLoginAt = &now
		if uerr := p.users.UpdateUser(ctx, user); uerr != nil {
			log.Warn().Err(uerr).Str("uid", user.ID).Msg("Failed to record failed login")
		}
		return nil, providerError(serrors.CodeWrongPassword, nil)
	}

	user.FailedLoginAttempts = 0
	user.LastFailedLoginAt = nil
	user.LastLoginAt = &now
	if p.hasher.NeedsRehash(user.PasswordHash) {
		if hash, err := p.hasher.Hash(password); err != nil {
			log.Warn().Err(err).Str("uid", user.ID).Msg("Failed to upgrade password hash")
		} else {
			user.PasswordHash = hash
		}
	}
	if err := p.users.UpdateUser(ctx, user); err != nil {
		return nil, backendError("update user", err)
	}

	return p.signIn(ctx, user.Identity())
}

// signIn issues a token for identity, replaces any current session and notifies.
func (p *LocalProvider) signIn(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	token, claims, err := p.issuer.Issue(identity)
	if err != nil {
		return nil, providerError(serrors.CodeInternalError, err)
	}

	entry := &cache.SessionEntry{
		TokenValue: token,
		Kind:       cache.KindSession,
		UserID:     identity.UID,
		Email:      identity.Email,
		CreatedAt:  claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	if err := p.sessions.Set(ctx, entry); err != nil {
		return nil, backendError("store session", err)
	}
	if err := p.tokens.Save(ctx, token); err != nil {
		log.Warn().Err(err).Msg("Failed to persist session token")
	}

	p.mu.Lock()
	previous := p.token
	p.current = identity.Clone()
	p.token = token
	p.resolved = true
	p.mu.Unlock()

	if previous != "" && previous != token {
		p.revoke(ctx, previous)
	}

	p.notify(identity)
	return identity.Clone(), nil
}

func (p *LocalProvider) revoke(ctx context.Context, token string) {
	if err := p.sessions.Delete(ctx, token); err != nil && !errors.Is(err, cache.ErrNotFound) {
		log.Warn().Err(err).Msg("Failed to revoke session token")
	}
}

// EndSession signs out. Local state is cleared and listeners notified even
// when the server-side session cannot be revoked; that failure is returned.
func (p *LocalProvider) EndSession(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	hadSession := p.current != nil
	p.current = nil
	p.token = ""
	p.resolved = true
	p.mu.Unlock()

	var revokeErr error
	if token != "" {
		if err := p.sessions.Delete(ctx, token); err != nil && !errors.Is(err, cache.ErrNotFound) {
			revokeErr = backendError("revoke session", err)
		}
	}
	p.clearPersisted(ctx)

	if hadSession {
		p.notify(nil)
	}
	return revokeErr
}

// SetDisplayName updates the identity's display name. When identity is the
// signed-in one the token is reissued with the new claims and listeners are
// notified.
func (p *LocalProvider) SetDisplayName(ctx context.Context, identity *domain.Identity, name string) error {
	if identity == nil || identity.UID == "" {
		return providerError(serrors.CodeUserNotFound, nil)
	}

	user, err := p.users.GetUserByID(ctx, identity.UID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return providerError(serrors.CodeUserNotFound, err)
		}
		return backendError("get user", err)
	}

	user.DisplayName = name
	if err := p.users.UpdateUser(ctx, user); err != nil {
		return backendError("update user", err)
	}

	p.mu.Lock()
	isCurrent := p.current != nil && p.current.UID == user.ID
	p.mu.Unlock()

	if !isCurrent {
		return nil
	}
	_, err = p.signIn(ctx, user.Identity())
	return err
}

// SendResetEmail issues a password reset token and hands it to the mailer.
func (p *LocalProvider) SendResetEmail(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return providerError(serrors.CodeInvalidEmail, nil)
	}

	count, err := p.sessions.Incr(ctx, "reset:"+email, p.cfg.ResetRateWindow)
	if err != nil {
		return backendError("rate limit", err)
	}
	if count > int64(p.cfg.ResetRateLimit) {
		return providerError(serrors.CodeTooManyRequests, nil)
	}

	user, err := p.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return providerError(serrors.CodeUserNotFound, nil)
		}
		return backendError("get user", err)
	}
	if user.Status == domain.UserStatusLocked {
		return providerError(serrors.CodeUserDisabled, nil)
	}

	token, err := newResetToken()
	if err != nil {
		return providerError(serrors.CodeInternalError, err)
	}

	now := p.now().UTC()
	entry := &cache.SessionEntry{
		TokenValue: token,
		Kind:       cache.KindPasswordReset,
		UserID:     user.ID,
		Email:      user.Email,
		CreatedAt:  now,
		ExpiresAt:  now.Add(p.cfg.ResetTokenTTL),
	}
	if err := p.sessions.Set(ctx, entry); err != nil {
		return backendError("store reset token", err)
	}

	if err := p.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		return providerError(serrors.CodeNetworkRequestFailed, fmt.Errorf("send reset email: %w", err))
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a token from SendResetEmail.
// The token is single use. Failed login counters are reset.
func (p *LocalProvider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < p.cfg.MinPasswordLength {
		return providerError(serrors.CodeWeakPassword, nil)
	}

	entry, err := p.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return providerError(serrors.CodeInvalidActionCode, nil)
		}
		return backendError("get reset token", err)
	}
	if entry.Kind != cache.KindPasswordReset {
		return providerError(serrors.CodeInvalidActionCode, nil)
	}

	user, err := p.users.GetUserByID(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return providerError(serrors.CodeUserNotFound, err)
		}
		return backendError("get user", err)
	}

	hash, err := p.hasher.Hash(newPassword)
	if err != nil {
		return providerError(serrors.CodeInternalError, err)
	}
	user.PasswordHash = hash
	user.FailedLoginAttempts = 0
	user.LastFailedLoginAt = nil
	if err := p.users.UpdateUser(ctx, user); err != nil {
		return backendError("update user", err)
	}

	p.revoke(ctx, token)
	log.Info().Str("uid", user.ID).Msg("Password reset completed")
	return nil
}

func newResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
