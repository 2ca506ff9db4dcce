package lectio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pilab-dev/lectio/domain"
	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/pilab-dev/lectio/memory"
	"github.com/stretchr/testify/mock"
)

// mockIdentityProvider is a testify mock of domain.IdentityProvider.
type mockIdentityProvider struct {
	mock.Mock
}

func (m *mockIdentityProvider) CreateIdentity(ctx context.Context, email, password string) (*domain.Identity, error) {
	args := m.Called(ctx, email, password)
	id, _ := args.Get(0).(*domain.Identity)
	return id, args.Error(1)
}

func (m *mockIdentityProvider) VerifyCredentials(ctx context.Context, email, password string) (*domain.Identity, error) {
	args := m.Called(ctx, email, password)
	id, _ := args.Get(0).(*domain.Identity)
	return id, args.Error(1)
}

func (m *mockIdentityProvider) EndSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockIdentityProvider) SendResetEmail(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockIdentityProvider) SetDisplayName(ctx context.Context, identity *domain.Identity, name string) error {
	return m.Called(ctx, identity, name).Error(0)
}

func (m *mockIdentityProvider) OnSessionChange(listener domain.SessionListener) func() {
	return m.Called(listener).Get(0).(func())
}

func (m *mockIdentityProvider) CurrentIdentity() *domain.Identity {
	id, _ := m.Called().Get(0).(*domain.Identity)
	return id
}

// fakeProvider signs in any known email with any password and notifies
// synchronously, like a provider whose session listener fires inline.
type fakeProvider struct {
	mu       sync.Mutex
	byEmail  map[string]*domain.Identity
	current  *domain.Identity
	listener domain.SessionListener
}

func newFakeProvider(identities ...*domain.Identity) *fakeProvider {
	p := &fakeProvider{byEmail: map[string]*domain.Identity{}}
	for _, id := range identities {
		p.byEmail[id.Email] = id
	}
	return p
}

func (p *fakeProvider) CreateIdentity(context.Context, string, string) (*domain.Identity, error) {
	return nil, serrors.NewProviderError(serrors.CodeOperationNotAllowed, nil)
}

func (p *fakeProvider) VerifyCredentials(_ context.Context, email, _ string) (*domain.Identity, error) {
	p.mu.Lock()
	id, ok := p.byEmail[email]
	if ok {
		p.current = id
	}
	listener := p.listener
	p.mu.Unlock()

	if !ok {
		return nil, serrors.NewProviderError(serrors.CodeUserNotFound, nil)
	}
	if listener != nil {
		listener(id.Clone())
	}
	return id.Clone(), nil
}

func (p *fakeProvider) EndSession(context.Context) error {
	p.mu.Lock()
	p.current = nil
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener(nil)
	}
	return nil
}

func (p *fakeProvider) SendResetEmail(context.Context, string) error { return nil }

func (p *fakeProvider) SetDisplayName(context.Context, *domain.Identity, string) error { return nil }

func (p *fakeProvider) OnSessionChange(listener domain.SessionListener) func() {
	p.mu.Lock()
	p.listener = listener
	current := p.current.Clone()
	p.mu.Unlock()

	listener(current)
	return func() {
		p.mu.Lock()
		p.listener = nil
		p.mu.Unlock()
	}
}

func (p *fakeProvider) CurrentIdentity() *domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

// gatedStore blocks reads of gated keys until released.
type gatedStore struct {
	*memory.ProfileStore
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{ProfileStore: memory.NewProfileStore(), gates: map[string]chan struct{}{}}
}

// Gate blocks reads of key. The returned func releases them and may be
// called more than once.
func (s *gatedStore) Gate(key string) func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[key] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *gatedStore) ReadDocument(ctx context.Context, collection, key string) (domain.Document, error) {
	s.mu.Lock()
	gate := s.gates[key]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return s.ProfileStore.ReadDocument(ctx, collection, key)
}

// flakyStore fails reads or writes on demand with a transport error.
type flakyStore struct {
	*memory.ProfileStore
	failReads  atomic.Bool
	failWrites atomic.Bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{ProfileStore: memory.NewProfileStore()}
}

func (s *flakyStore) ReadDocument(ctx context.Context, collection, key string) (domain.Document, error) {
	if s.failReads.Load() {
		return nil, fmt.Errorf("read %s/%s: %w", collection, key, domain.ErrUnavailable)
	}
	return s.ProfileStore.ReadDocument(ctx, collection, key)
}

func (s *flakyStore) WriteDocument(ctx context.Context, collection, key string,
	doc domain.Document, opts domain.WriteOptions,
) error {
	if s.failWrites.Load() {
		return fmt.Errorf("write %s/%s: %w", collection, key, domain.ErrUnavailable)
	}
	return s.ProfileStore.WriteDocument(ctx, collection, key, doc, opts)
}
