package lectio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pilab-dev/lectio/domain"
	"github.com/pilab-dev/lectio/internal/metrics"
)

// notification is a queued snapshot. A nil target means every listener.
type notification struct {
	state  domain.SessionState
	target Listener
}

// Subscribe registers fn to be called with a state snapshot after every
// change. Once the initial session is resolved fn first receives the current
// state. Notifications are delivered one at a time, in order.
func (m *Manager) Subscribe(fn Listener) Unsubscribe {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	replay := m.isResolvedLocked()
	if replay {
		m.queue = append(m.queue, notification{state: m.snapshotLocked(), target: fn})
	}
	m.mu.Unlock()

	if replay {
		m.flush()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) snapshotLocked() domain.SessionState {
	return domain.SessionState{
		Phase:         m.state.Phase,
		Authenticated: m.state.Identity != nil,
		Identity:      m.state.Identity.Clone(),
		Profile:       m.state.Profile.Clone(),
		Loading:       m.state.Loading,
	}
}

// publishLocked queues the current state for delivery. Callers must call
// flush after releasing m.mu.
func (m *Manager) publishLocked() {
	m.queue = append(m.queue, notification{state: m.snapshotLocked()})
}

// flush delivers queued snapshots. Only one goroutine delivers at a time; a
// listener that triggers another change has it queued behind the current one.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true

	for len(m.queue) > 0 {
		batch := m.queue
		m.queue = nil
		listeners := make([]Listener, 0, len(m.listeners))
		for _, l := range m.listeners {
			listeners = append(listeners, l)
		}
		m.mu.Unlock()

		for _, n := range batch {
			if n.target != nil {
				n.target(n.state)
				continue
			}
			for _, l := range listeners {
				l(n.state)
			}
		}

		m.mu.Lock()
	}

	m.dispatching = false
	m.mu.Unlock()
}

func (m *Manager) isResolvedLocked() bool {
	select {
	case <-m.resolved:
		return true
	default:
		return false
	}
}

// resolveLocked leaves PhaseInitializing for good.
func (m *Manager) resolveLocked() {
	select {
	case <-m.resolved:
	default:
		close(m.resolved)
	}
}

func (m *Manager) setSignedInGaugeLocked() {
	if m.state.Identity != nil {
		metrics.SignedInGauge.Set(1)
	} else {
		metrics.SignedInGauge.Set(0)
	}
}

// handleSessionChange applies one provider notification.
func (m *Manager) handleSessionChange(identity *domain.Identity) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	m.epoch++
	epoch := m.epoch

	if identity == nil {
		m.state.Identity = nil
		m.state.Profile = nil
		m.state.Phase = domain.PhaseUnauthenticated
	} else {
		sameUser := m.state.Identity != nil && m.state.Identity.UID == identity.UID
		m.state.Identity = identity.Clone()
		if !sameUser {
			m.state.Profile = nil
		}
		m.state.Phase = domain.PhaseAuthenticatedLoadingProfile
		m.wg.Add(1)
		go m.fetchProfile(epoch, identity.UID)
	}

	m.resolveLocked()
	m.setSignedInGaugeLocked()
	m.state.Loading = m.inFlight > 0
	m.publishLocked()
	m.mu.Unlock()

	m.flush()
}

// clearSession drops identity and profile locally. It is a no-op when the
// provider already reported the sign-out.
func (m *Manager) clearSession() {
	m.mu.Lock()
	if m.state.Identity == nil && m.state.Phase == domain.PhaseUnauthenticated {
		m.mu.Unlock()
		return
	}

	m.epoch++
	m.state.Identity = nil
	m.state.Profile = nil
	m.state.Phase = domain.PhaseUnauthenticated
	m.state.Loading = m.inFlight > 0
	m.resolveLocked()
	m.setSignedInGaugeLocked()
	m.publishLocked()
	m.mu.Unlock()

	m.flush()
}

// attachProfile sets doc as the profile of uid if uid is still signed in.
// Fetches already in flight are invalidated so they cannot overwrite it.
func (m *Manager) attachProfile(uid string, doc domain.Document) {
	m.mu.Lock()
	if m.closed || m.state.Identity == nil || m.state.Identity.UID != uid {
		m.mu.Unlock()
		return
	}

	m.epoch++
	m.state.Profile = domain.ProfileFromDocument(doc)
	m.state.Phase = domain.PhaseAuthenticated
	m.publishLocked()
	m.mu.Unlock()

	m.flush()
}

// fetchProfile loads the profile for uid and attaches it unless the session
// moved on while the read was in flight.
func (m *Manager) fetchProfile(epoch uint64, uid string) {
	defer m.wg.Done()

	ctx, span := m.tracer.Start(m.bgCtx, "Manager.fetchProfile")
	defer span.End()

	start := time.Now()
	doc, _, err := m.loadProfile(ctx, uid, nil)
	if m.fetchLatency != nil {
		m.fetchLatency.Record(ctx, time.Since(start).Seconds())
	}

	m.mu.Lock()
	if m.epoch != epoch || m.closed {
		m.mu.Unlock()
		metrics.StaleProfileDiscardedTotal.Inc()
		m.logger.Debug(ctx, "Discarding stale profile fetch", map[string]any{"uid": uid})
		return
	}

	switch {
	case err == nil:
		m.state.Profile = domain.ProfileFromDocument(doc)
	case errors.Is(err, domain.ErrDocumentNotFound):
		m.state.Profile = nil
		m.logger.Warn(ctx, "No profile document for signed-in identity", map[string]any{"uid": uid})
	default:
		// Keep whatever profile was attached; the identity is still valid.
		m.logger.Error(ctx, "Failed to load profile", err, map[string]any{"uid": uid})
	}
	m.state.Phase = domain.PhaseAuthenticated
	m.publishLocked()
	m.mu.Unlock()

	m.flush()
}

// touchLastLogin stamps lastLogin after a successful login. Failures are
// only logged.
func (m *Manager) touchLastLogin(ctx context.Context, identity *domain.Identity) {
	defer m.wg.Done()

	ctx, span := m.tracer.Start(ctx, "Manager.touchLastLogin")
	defer span.End()

	now := m.now()
	minimal := func() domain.Document {
		return domain.NewProfileDocument(identity, identity.DisplayName, nil, now)
	}

	doc, _, err := m.loadProfile(ctx, identity.UID, minimal)
	if err != nil {
		metrics.ProfileWriteFailureTotal.WithLabelValues("login").Inc()
		m.logger.Warn(ctx, "Failed to update last login", map[string]any{
			"uid": identity.UID, "error": err.Error(),
		})
		return
	}

	patch := domain.Document{
		domain.FieldLastLogin: now,
		domain.FieldUpdatedAt: now,
	}
	if err := m.profiles.WriteDocument(ctx, m.collection, identity.UID, patch, domain.WriteOptions{Merge: true}); err != nil {
		metrics.ProfileWriteFailureTotal.WithLabelValues("login").Inc()
		m.logger.Warn(ctx, "Failed to update last login", map[string]any{
			"uid": identity.UID, "error": err.Error(),
		})
		return
	}

	m.attachProfile(identity.UID, domain.MergeDocument(doc, patch))
}
