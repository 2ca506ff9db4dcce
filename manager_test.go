package lectio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilab-dev/lectio/cache"
	"github.com/pilab-dev/lectio/domain"
	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/pilab-dev/lectio/idp"
	"github.com/pilab-dev/lectio/internal/auth"
	"github.com/pilab-dev/lectio/log"
	"github.com/pilab-dev/lectio/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// newLocalManager wires a Manager to the local identity provider with
// in-memory backends.
func newLocalManager(t *testing.T, store domain.ProfileStore, opts ...Option) (*Manager, *idp.LocalProvider) {
	t.Helper()

	issuer, err := idp.NewTokenIssuer("test-secret", "lectio-test", time.Hour)
	require.NoError(t, err)

	sessions := cache.NewMemorySessionStore()
	t.Cleanup(func() { _ = sessions.Close() })

	provider := idp.NewLocalProvider(
		memory.NewUserRepository(),
		sessions,
		auth.NewBcryptPasswordHasher(bcrypt.MinCost),
		issuer,
		idp.NewMemoryTokenStore(),
		idp.NewLogMailer(zerolog.Nop()),
		idp.Config{},
	)
	require.NoError(t, provider.Restore(context.Background()))

	opts = append([]Option{WithLogger(log.Nop())}, opts...)
	m := NewManager(provider, store, opts...)
	t.Cleanup(func() { _ = m.Close() })

	return m, provider
}

// waitIdle waits for background profile fetches and lastLogin updates.
func waitIdle(m *Manager) {
	m.wg.Wait()
}

func TestManager_ResolvesFromProvider(t *testing.T) {
	provider := &mockIdentityProvider{}
	var listener domain.SessionListener
	provider.On("OnSessionChange", mock.Anything).
		Run(func(args mock.Arguments) { listener = args.Get(0).(domain.SessionListener) }).
		Return(func() {})

	m := NewManager(provider, memory.NewProfileStore(), WithLogger(log.Nop()))
	defer m.Close()

	state := m.State()
	assert.Equal(t, domain.PhaseInitializing, state.Phase)
	assert.True(t, state.Loading)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.WaitResolved(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NotNil(t, listener)
	listener(nil)

	state, err = m.WaitResolved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseUnauthenticated, state.Phase)
	assert.False(t, state.Loading)
	assert.False(t, state.Authenticated)
}

func TestManager_RegisterThenGetProfile(t *testing.T) {
	cases := []struct {
		email, password, name string
	}{
		{"ana@example.com", "secret1", "Ana"},
		{"beto.perez@mail.co", "123456", "Beto Pérez"},
		{"c@x.io", "a-much-longer-password", ""},
	}

	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			ctx := context.Background()
			m, _ := newLocalManager(t, memory.NewProfileStore())

			id, err := m.Register(ctx, tc.email, tc.password, tc.name, map[string]any{"newsletter": true})
			require.NoError(t, err)
			require.NotNil(t, id)

			profile, err := m.GetProfile(ctx, id.UID)
			require.NoError(t, err)
			assert.Equal(t, tc.email, profile.Email)
			assert.Equal(t, tc.name, profile.DisplayName)
			assert.Equal(t, id.UID, profile.UID)
			assert.Equal(t, true, profile.Fields["newsletter"])
			assert.False(t, profile.CreatedAt.IsZero())

			waitIdle(m)
			state := m.State()
			assert.Equal(t, domain.PhaseAuthenticated, state.Phase)
			require.NotNil(t, state.Profile)
			assert.Equal(t, tc.email, state.Profile.Email)
			assert.Equal(t, tc.name, state.Identity.DisplayName)
			assert.False(t, state.Loading)
		})
	}
}

func TestManager_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	_, err := m.Register(ctx, "not an email", "secret1", "Ana", nil)
	require.Error(t, err)
	assert.Equal(t, serrors.KindValidation, serrors.KindOf(err))
	assert.Equal(t, "Email inválido", serrors.Message(err))

	_, err = m.Register(ctx, "ana@example.com", "123", "Ana", nil)
	require.Error(t, err)
	assert.Equal(t, serrors.KindValidation, serrors.KindOf(err))
	assert.Equal(t, "La contraseña debe tener al menos 6 caracteres", serrors.Message(err))

	assert.False(t, m.IsAuthenticated())
}

func TestManager_RegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	_, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)

	_, err = m.Register(ctx, "ana@example.com", "secret2", "Otra", nil)
	require.Error(t, err)
	assert.Equal(t, serrors.KindIdentityConflict, serrors.KindOf(err))
	assert.Equal(t, "Ya existe una cuenta con este email", serrors.Message(err))
}

func TestManager_LogoutClearsStateWhenProviderFails(t *testing.T) {
	provider := &mockIdentityProvider{}
	var listener domain.SessionListener
	provider.On("OnSessionChange", mock.Anything).
		Run(func(args mock.Arguments) { listener = args.Get(0).(domain.SessionListener) }).
		Return(func() {})
	provider.On("EndSession", mock.Anything).
		Return(serrors.NewProviderError(serrors.CodeNetworkRequestFailed, fmt.Errorf("dial tcp: timeout")))

	m := NewManager(provider, memory.NewProfileStore(), WithLogger(log.Nop()))
	defer m.Close()

	listener(&domain.Identity{UID: "u1", Email: "ana@example.com"})
	waitIdle(m)
	require.True(t, m.IsAuthenticated())

	err := m.Logout(context.Background())
	require.Error(t, err)
	assert.Equal(t, serrors.KindNetworkFailure, serrors.KindOf(err))
	assert.Equal(t, "Error de conexión. Verifica tu internet", serrors.Message(err))

	assert.False(t, m.IsAuthenticated())
	assert.Nil(t, m.CurrentIdentity())
	state := m.State()
	assert.Equal(t, domain.PhaseUnauthenticated, state.Phase)
	assert.Nil(t, state.Profile)
	assert.False(t, state.Loading)

	provider.AssertExpectations(t)
}

func TestManager_LogoutNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	_, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)
	waitIdle(m)

	var signedOut int
	unsubscribe := m.Subscribe(func(s domain.SessionState) {
		if s.Phase == domain.PhaseUnauthenticated && !s.Loading {
			signedOut++
		}
	})
	defer unsubscribe()

	require.NoError(t, m.Logout(ctx))
	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, 1, signedOut)
}

func TestManager_FailedLoginKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	id, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)
	waitIdle(m)

	_, err = m.Login(ctx, "ana@example.com", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, serrors.KindInvalidCredentials, serrors.KindOf(err))
	assert.Equal(t, "Contraseña incorrecta", serrors.Message(err))

	current := m.CurrentIdentity()
	require.NotNil(t, current)
	assert.Equal(t, id.UID, current.UID)

	require.NoError(t, m.Logout(ctx))

	_, err = m.Login(ctx, "ana@example.com", "wrong-password")
	require.Error(t, err)
	assert.Nil(t, m.CurrentIdentity())
	assert.False(t, m.IsAuthenticated())
}

func TestManager_UpdateProfileMerges(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	id, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", map[string]any{
		"fullName":      "Ana Pérez",
		"country":       "CR",
		"notifications": map[string]any{"daily": true, "weekly": false},
	})
	require.NoError(t, err)

	before, err := m.GetProfile(ctx, id.UID)
	require.NoError(t, err)

	require.NoError(t, m.UpdateProfile(ctx, id.UID, map[string]any{
		"country":       "X",
		"notifications": map[string]any{"weekly": true},
		"uid":           "hijack",
	}))

	after, err := m.GetProfile(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "X", after.String("country"))
	assert.Equal(t, "Ana", after.DisplayName)
	assert.Equal(t, "Ana Pérez", after.String("fullName"))
	assert.Equal(t, "ana@example.com", after.Email)
	assert.Equal(t, id.UID, after.UID)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, map[string]any{"daily": true, "weekly": true}, after.Fields["notifications"])
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))

	waitIdle(m)
	state := m.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, "X", state.Profile.String("country"))
}

func TestManager_UpdateProfileMissingDocument(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	err := m.UpdateProfile(ctx, "nobody", map[string]any{"country": "X"})
	require.Error(t, err)
	assert.Equal(t, serrors.KindNotFound, serrors.KindOf(err))

	_, err = m.GetProfile(ctx, "nobody")
	assert.Equal(t, serrors.KindNotFound, serrors.KindOf(err))
	assert.Equal(t, "No se encontraron datos del perfil", serrors.Message(err))

	assert.Equal(t, serrors.KindUnauthenticated, serrors.KindOf(m.UpdateCurrentProfile(ctx, nil)))
	assert.Equal(t, serrors.KindUnauthenticated, serrors.KindOf(m.ReloadProfile(ctx)))
}

func TestManager_UpdateCurrentProfileAndReload(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfileStore()
	m, _ := newLocalManager(t, store)

	id, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)
	waitIdle(m)

	require.NoError(t, m.UpdateCurrentProfile(ctx, map[string]any{"birthDate": "1990-04-01"}))
	assert.Equal(t, "1990-04-01", m.State().Profile.String("birthDate"))

	// A change made behind the manager's back shows up after a reload.
	require.NoError(t, store.WriteDocument(ctx, domain.ProfilesCollection, id.UID,
		domain.Document{"country": "PE"}, domain.WriteOptions{Merge: true}))
	require.NoError(t, m.ReloadProfile(ctx))
	assert.Equal(t, "PE", m.State().Profile.String("country"))
}

func TestManager_LogoutLoginRace(t *testing.T) {
	ctx := context.Background()

	store := newGatedStore()
	require.NoError(t, store.WriteDocument(ctx, domain.ProfilesCollection, "u1",
		domain.Document{"uid": "u1", "email": "one@example.com", "fullName": "Uno"}, domain.WriteOptions{}))
	require.NoError(t, store.WriteDocument(ctx, domain.ProfilesCollection, "u2",
		domain.Document{"uid": "u2", "email": "two@example.com", "fullName": "Dos"}, domain.WriteOptions{}))

	provider := newFakeProvider(
		&domain.Identity{UID: "u1", Email: "one@example.com"},
		&domain.Identity{UID: "u2", Email: "two@example.com"},
	)
	m := NewManager(provider, store, WithLogger(log.Nop()))
	defer m.Close()

	release := store.Gate("u1")
	defer release()

	_, err := m.Login(ctx, "one@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAuthenticatedLoadingProfile, m.State().Phase)

	require.NoError(t, m.Logout(ctx))

	_, err = m.Login(ctx, "two@example.com", "secret1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := m.State()
		return s.Phase == domain.PhaseAuthenticated && s.Profile != nil && s.Profile.UID == "u2"
	}, time.Second, 5*time.Millisecond)

	// Let the first session's fetch finish. It must be discarded.
	release()
	waitIdle(m)

	state := m.State()
	require.NotNil(t, state.Identity)
	assert.Equal(t, "u2", state.Identity.UID)
	require.NotNil(t, state.Profile)
	assert.Equal(t, "u2", state.Profile.UID)
	assert.Equal(t, "Dos", state.Profile.String("fullName"))
}

func TestManager_LoginStampsLastLogin(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	m, _ := newLocalManager(t, memory.NewProfileStore(), WithClock(clock.Now))

	id, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx))

	later := clock.Now().Add(48 * time.Hour)
	clock.Set(later)

	loggedIn, err := m.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", loggedIn.Email)
	waitIdle(m)

	profile, err := m.GetProfile(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, later, profile.LastLogin)
	assert.Equal(t, later, profile.UpdatedAt)
	assert.Equal(t, later.Add(-48*time.Hour), profile.CreatedAt)

	state := m.State()
	assert.True(t, state.Authenticated)
	require.NotNil(t, state.Profile)
	assert.Equal(t, later, state.Profile.LastLogin)
}

func TestManager_LoginSurvivesProfileStoreOutage(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	m, _ := newLocalManager(t, store)

	_, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx))

	store.failReads.Store(true)
	store.failWrites.Store(true)

	id, err := m.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", id.Email)

	waitIdle(m)
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, domain.PhaseAuthenticated, m.State().Phase)
}

func TestManager_RegisterProfileWriteFailureReconciles(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	m, _ := newLocalManager(t, store)

	store.failWrites.Store(true)
	id, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", map[string]any{"country": "MX"})
	require.Error(t, err)
	require.NotNil(t, id, "the identity exists even though the profile is missing")
	assert.Equal(t, serrors.KindProfileWriteFailed, serrors.KindOf(err))
	assert.Equal(t, serrors.CodeProfileWriteFailed, serrors.FromError(err).Code)

	waitIdle(m)
	store.failWrites.Store(false)

	require.NoError(t, m.Logout(ctx))
	_, err = m.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	waitIdle(m)

	profile, err := m.GetProfile(ctx, id.UID)
	require.NoError(t, err)
	assert.Equal(t, "MX", profile.String("country"))
	assert.Equal(t, "Ana", profile.DisplayName)

	state := m.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, id.UID, state.Profile.UID)
}

func TestManager_Scenarios(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	t.Run("register, login and read profile", func(t *testing.T) {
		id, err := m.Register(ctx, "a@x.com", "secret1", "Ana", map[string]any{"country": "MX"})
		require.NoError(t, err)

		loggedIn, err := m.Login(ctx, "a@x.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", loggedIn.Email)

		profile, err := m.GetProfile(ctx, id.UID)
		require.NoError(t, err)
		assert.Equal(t, "MX", profile.String("country"))
	})

	t.Run("login with unknown account", func(t *testing.T) {
		_, err := m.Login(ctx, "missing@x.com", "whatever")
		require.Error(t, err)
		assert.Equal(t, "No existe una cuenta con este email", serrors.Message(err))
		assert.Equal(t, serrors.KindAccountNotFound, serrors.KindOf(err))
	})
}

func TestManager_RequestPasswordReset(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	_, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)

	assert.NoError(t, m.RequestPasswordReset(ctx, "ana@example.com"))
	assert.Equal(t, serrors.KindInvalidEmail, serrors.KindOf(m.RequestPasswordReset(ctx, "nope")))
	assert.Equal(t, serrors.KindAccountNotFound, serrors.KindOf(m.RequestPasswordReset(ctx, "ghost@example.com")))
}

func TestManager_SubscribeAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	var mu sync.Mutex
	var phases []domain.Phase
	unsubscribe := m.Subscribe(func(s domain.SessionState) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, s.Phase)
	})

	_, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)
	waitIdle(m)

	mu.Lock()
	seen := len(phases)
	assert.Contains(t, phases, domain.PhaseAuthenticatedLoadingProfile)
	assert.Equal(t, domain.PhaseAuthenticated, phases[len(phases)-1])
	mu.Unlock()

	unsubscribe()
	unsubscribe()

	require.NoError(t, m.Logout(ctx))

	mu.Lock()
	assert.Len(t, phases, seen)
	mu.Unlock()
}

func TestManager_LoadingFlagDuringOperations(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	var sawLoading atomic.Bool
	unsubscribe := m.Subscribe(func(s domain.SessionState) {
		if s.Loading {
			sawLoading.Store(true)
		}
	})
	defer unsubscribe()

	_, err := m.Login(ctx, "missing@x.com", "whatever")
	require.Error(t, err)

	assert.True(t, sawLoading.Load())
	assert.False(t, m.State().Loading)
}

func TestManager_ListenerCanEndTheSessionItSees(t *testing.T) {
	ctx := context.Background()
	m, provider := newLocalManager(t, memory.NewProfileStore())

	_, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", nil)
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx))
	waitIdle(m)

	var triggered atomic.Bool
	logoutErr := make(chan error, 1)
	unsubscribe := m.Subscribe(func(s domain.SessionState) {
		if s.Identity != nil && triggered.CompareAndSwap(false, true) {
			logoutErr <- m.Logout(ctx)
		}
	})
	defer unsubscribe()

	done := make(chan error, 1)
	go func() {
		_, err := m.Login(ctx, "ana@example.com", "secret1")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Login blocked while a listener signed out")
	}
	require.NoError(t, <-logoutErr)
	waitIdle(m)

	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, domain.PhaseUnauthenticated, m.State().Phase)
	assert.Empty(t, provider.Token())

	// The provider keeps dispatching afterwards.
	_, err = m.Login(ctx, "ana@example.com", "secret1")
	require.NoError(t, err)
	assert.True(t, m.IsAuthenticated())
}

func TestManager_SubscribeReplaysCurrentState(t *testing.T) {
	ctx := context.Background()
	m, _ := newLocalManager(t, memory.NewProfileStore())

	_, err := m.Register(ctx, "ana@example.com", "secret1", "Ana", map[string]any{"country": "AR"})
	require.NoError(t, err)
	waitIdle(m)
	_, err = m.WaitResolved(ctx)
	require.NoError(t, err)

	var got []domain.SessionState
	unsubscribe := m.Subscribe(func(s domain.SessionState) {
		got = append(got, s)
	})
	defer unsubscribe()

	require.Len(t, got, 1)
	assert.Equal(t, domain.PhaseAuthenticated, got[0].Phase)
	assert.True(t, got[0].Authenticated)
	require.NotNil(t, got[0].Profile)
	assert.Equal(t, "AR", got[0].Profile.String("country"))
}

func TestManager_SubscribeBeforeResolutionWaits(t *testing.T) {
	provider := &mockIdentityProvider{}
	var listener domain.SessionListener
	provider.On("OnSessionChange", mock.Anything).
		Run(func(args mock.Arguments) { listener = args.Get(0).(domain.SessionListener) }).
		Return(func() {})

	m := NewManager(provider, memory.NewProfileStore(), WithLogger(log.Nop()))
	defer m.Close()

	var phases []domain.Phase
	unsubscribe := m.Subscribe(func(s domain.SessionState) {
		phases = append(phases, s.Phase)
	})
	defer unsubscribe()
	assert.Empty(t, phases)

	listener(nil)
	assert.Equal(t, []domain.Phase{domain.PhaseUnauthenticated}, phases)
}
