package lectio

import (
	"time"

	"github.com/pilab-dev/lectio/log"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to the global zerolog logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithClock overrides the timestamp source for profile documents.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithProfilesCollection stores profile documents in a different collection
// than domain.ProfilesCollection.
func WithProfilesCollection(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.collection = name
		}
	}
}

func defaultClock() time.Time {
	return time.Now().UTC()
}

