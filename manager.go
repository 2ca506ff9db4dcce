// Package lectio keeps track of who is signed in to the reading app and what
// their profile says. A Manager sits between the screens and two external
// collaborators: an identity provider that owns credentials and sessions, and
// a profile store holding one document per user.
package lectio

import (
	"context"
	"sync"
	"time"

	"github.com/pilab-dev/lectio/domain"
	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/pilab-dev/lectio/internal/audit"
	"github.com/pilab-dev/lectio/internal/metrics"
	"github.com/pilab-dev/lectio/log"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pilab-dev/lectio"

// Listener receives a snapshot of the session state after every change.
type Listener func(state domain.SessionState)

// Unsubscribe removes a listener. Calling it more than once is a no-op.
type Unsubscribe func()

// Manager owns the session state of one application instance. Create it once
// at the application root and hand it to whatever needs it.
type Manager struct {
	idp        domain.IdentityProvider
	profiles   domain.ProfileStore
	logger     log.Logger
	tracer     trace.Tracer
	now        func() time.Time
	collection string

	fetchLatency metric.Float64Histogram

	// bgCtx is the parent of profile fetches. Close cancels it.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	state domain.SessionState
	// epoch changes whenever the signed-in identity or its attached profile
	// is replaced. Fetches started under an older epoch are discarded.
	epoch    uint64
	inFlight int
	// pending holds registration documents whose write failed, by uid.
	pending  map[string]domain.Document
	resolved chan struct{}
	closed   bool

	listeners    map[uint64]Listener
	nextListener uint64
	queue        []notification
	dispatching  bool

	reconcileMu sync.Mutex

	unsubscribeProvider func()
}

// NewManager creates a Manager and subscribes it to provider session changes.
// The manager starts in PhaseInitializing until the provider reports.
func NewManager(provider domain.IdentityProvider, profiles domain.ProfileStore, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		idp:        provider,
		profiles:   profiles,
		logger:     log.FromZerolog(zlog.Logger),
		tracer:     otel.Tracer(tracerName),
		now:        defaultClock,
		collection: domain.ProfilesCollection,
		bgCtx:      ctx,
		bgCancel:   cancel,
		state: domain.SessionState{
			Phase:   domain.PhaseInitializing,
			Loading: true,
		},
		pending:   map[string]domain.Document{},
		resolved:  make(chan struct{}),
		listeners: map[uint64]Listener{},
	}
	for _, opt := range opts {
		opt(m)
	}

	hist, err := otel.Meter(tracerName).Float64Histogram("lectio.profile.fetch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time to load the profile document after a session change."))
	if err != nil {
		m.logger.Warn(ctx, "Profile fetch histogram unavailable", map[string]any{"error": err.Error()})
	} else {
		m.fetchLatency = hist
	}

	m.unsubscribeProvider = provider.OnSessionChange(m.handleSessionChange)
	return m
}

// State returns a snapshot of the current session state.
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// CurrentIdentity returns the signed-in identity or nil.
func (m *Manager) CurrentIdentity() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Identity.Clone()
}

// IsAuthenticated reports whether an identity is signed in.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Identity != nil
}

// WaitResolved blocks until the provider has reported the initial session.
func (m *Manager) WaitResolved(ctx context.Context) (domain.SessionState, error) {
	select {
	case <-m.resolved:
		return m.State(), nil
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

// Close detaches from the provider and waits for background profile work.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.epoch++
	m.mu.Unlock()

	if m.unsubscribeProvider != nil {
		m.unsubscribeProvider()
	}
	m.bgCancel()
	m.wg.Wait()
	return nil
}

// Register creates an identity, sets its display name and writes its profile
// document. When the identity is created but the document write fails, the
// identity is returned together with a KindProfileWriteFailed error and the
// document is written on the next login or profile load.
func (m *Manager) Register(ctx context.Context, email, password, displayName string,
	fields map[string]any,
) (*domain.Identity, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Register")
	defer span.End()

	if err := validateRegistration(email, password); err != nil {
		return nil, m.fail(span, "register", email, "", err)
	}

	m.beginOperation()
	defer m.endOperation()

	identity, err := m.idp.CreateIdentity(ctx, email, password)
	if err != nil {
		return nil, m.fail(span, "register", email, "", err)
	}
	span.SetAttributes(attribute.String("lectio.uid", identity.UID))

	if displayName != "" {
		if err := m.idp.SetDisplayName(ctx, identity, displayName); err != nil {
			m.logger.Warn(ctx, "Failed to set display name", map[string]any{
				"uid": identity.UID, "error": err.Error(),
			})
		} else {
			identity.DisplayName = displayName
		}
	}

	doc := domain.NewProfileDocument(identity, displayName, fields, m.now())
	if err := m.profiles.WriteDocument(ctx, m.collection, identity.UID, doc, domain.WriteOptions{}); err != nil {
		m.mu.Lock()
		m.pending[identity.UID] = doc
		m.mu.Unlock()

		metrics.ProfileWriteFailureTotal.WithLabelValues("register").Inc()
		m.logger.Error(ctx, "Profile document write failed after identity creation", err, map[string]any{
			"uid": identity.UID,
		})
		return identity.Clone(), m.fail(span, "register", email, identity.UID,
			serrors.New(serrors.CodeProfileWriteFailed, err))
	}

	metrics.UserRegisteredTotal.Inc()
	audit.Log("session", "register", email, identity.UID, "", true, "", nil)
	m.attachProfile(identity.UID, doc)

	return identity.Clone(), nil
}

// Login verifies credentials. The profile's lastLogin is updated in the
// background; that update never fails the login.
func (m *Manager) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Login")
	defer span.End()

	m.beginOperation()
	defer m.endOperation()

	identity, err := m.idp.VerifyCredentials(ctx, email, password)
	if err != nil {
		authErr := m.fail(span, "login", email, "", err)
		metrics.LoginFailureTotal.WithLabelValues(authErr.Code).Inc()
		return nil, authErr
	}

	metrics.LoginSuccessTotal.Inc()
	audit.Log("session", "login", email, identity.UID, "", true, "", nil)
	span.SetAttributes(attribute.String("lectio.uid", identity.UID))

	m.mu.Lock()
	closed := m.closed
	if !closed {
		m.wg.Add(1)
	}
	m.mu.Unlock()
	if !closed {
		go m.touchLastLogin(context.WithoutCancel(ctx), identity.Clone())
	}

	return identity.Clone(), nil
}

// Logout ends the provider session. Local state is cleared even when the
// provider call fails; the mapped error is still returned.
func (m *Manager) Logout(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Logout")
	defer span.End()

	m.beginOperation()
	defer m.endOperation()

	user := ""
	if id := m.CurrentIdentity(); id != nil {
		user = id.Email
	}

	err := m.idp.EndSession(ctx)
	m.clearSession()

	if err != nil {
		return m.fail(span, "logout", user, "", err)
	}
	audit.Log("session", "logout", user, "", "", true, "", nil)
	return nil
}

// RequestPasswordReset asks the provider to send a password reset email.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.RequestPasswordReset")
	defer span.End()

	if !ValidEmail(email) {
		return m.fail(span, "password_reset", email, "", serrors.New(serrors.CodeInvalidEmail, nil))
	}
	if err := m.idp.SendResetEmail(ctx, email); err != nil {
		return m.fail(span, "password_reset", email, "", err)
	}

	metrics.PasswordResetRequestedTotal.Inc()
	audit.Log("session", "password_reset", email, "", "", true, "", nil)
	return nil
}

// fail maps err, records it on the span and in the audit log.
func (m *Manager) fail(span trace.Span, action, user, target string, err error) *serrors.AuthError {
	authErr := serrors.FromError(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, authErr.Code)
	audit.Log("session", action, user, target, authErr.Message, false, authErr.Code, err)
	return authErr
}

// beginOperation raises the loading flag for the duration of a credential call.
func (m *Manager) beginOperation() {
	m.mu.Lock()
	m.inFlight++
	changed := m.refreshLoadingLocked()
	m.mu.Unlock()
	if changed {
		m.flush()
	}
}

func (m *Manager) endOperation() {
	m.mu.Lock()
	m.inFlight--
	changed := m.refreshLoadingLocked()
	m.mu.Unlock()
	if changed {
		m.flush()
	}
}

// refreshLoadingLocked recomputes the loading flag and queues a notification
// when it changed.
func (m *Manager) refreshLoadingLocked() bool {
	loading := m.inFlight > 0 || m.state.Phase == domain.PhaseInitializing
	if loading == m.state.Loading {
		return false
	}
	m.state.Loading = loading
	m.publishLocked()
	return true
}
