package lectio

import (
	"context"
	"errors"
	"strings"

	"github.com/pilab-dev/lectio/domain"
	serrors "github.com/pilab-dev/lectio/errors"
	"github.com/pilab-dev/lectio/internal/audit"
	"github.com/pilab-dev/lectio/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
)

// storeError maps a profile store failure to an AuthError.
func storeError(err error) *serrors.AuthError {
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		return serrors.New(serrors.CodeProfileNotFound, err)
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return serrors.New(serrors.CodeNetworkRequestFailed, err)
	default:
		return serrors.FromError(err)
	}
}

// loadProfile reads the document of uid. A missing document is created from
// the pending registration document, or from minimal when that is non-nil.
// created reports whether this call wrote the document.
func (m *Manager) loadProfile(ctx context.Context, uid string,
	minimal func() domain.Document,
) (doc domain.Document, created bool, err error) {
	doc, err = m.profiles.ReadDocument(ctx, m.collection, uid)
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		return doc, false, err
	}

	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	// Someone else may have created it while we waited.
	doc, err = m.profiles.ReadDocument(ctx, m.collection, uid)
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		return doc, false, err
	}

	m.mu.Lock()
	pending, ok := m.pending[uid]
	m.mu.Unlock()

	switch {
	case ok:
		doc = pending
	case minimal != nil:
		doc = minimal()
	default:
		return nil, false, domain.ErrDocumentNotFound
	}

	if err := m.profiles.WriteDocument(ctx, m.collection, uid, doc, domain.WriteOptions{}); err != nil {
		metrics.ProfileWriteFailureTotal.WithLabelValues("reconcile").Inc()
		return nil, false, err
	}

	m.mu.Lock()
	delete(m.pending, uid)
	m.mu.Unlock()

	m.logger.Info(ctx, "Profile document reconciled", map[string]any{
		"uid": uid, "from_registration": ok,
	})
	return domain.Document(domain.CloneDocument(doc)), true, nil
}

// GetProfile reads the profile document of uid. A missing document is a
// KindNotFound error that callers usually render as degraded UI.
func (m *Manager) GetProfile(ctx context.Context, uid string) (*domain.Profile, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("lectio.uid", uid))

	if uid == "" {
		return nil, serrors.New(serrors.CodeProfileNotFound, nil)
	}

	doc, _, err := m.loadProfile(ctx, uid, nil)
	if err != nil {
		authErr := storeError(err)
		if authErr.Kind == serrors.KindNotFound {
			m.logger.Warn(ctx, "Profile document not found", map[string]any{"uid": uid})
		} else {
			m.logger.Error(ctx, "Failed to read profile", err, map[string]any{"uid": uid})
		}
		span.RecordError(err)
		return nil, authErr
	}
	return domain.ProfileFromDocument(doc), nil
}

// UpdateProfile merges fields into the existing document of uid and stamps
// updatedAt. uid and createdAt cannot be changed. When uid is signed in the
// attached profile is reloaded.
func (m *Manager) UpdateProfile(ctx context.Context, uid string, fields map[string]any) error {
	ctx, span := m.tracer.Start(ctx, "Manager.UpdateProfile")
	defer span.End()
	span.SetAttributes(attribute.String("lectio.uid", uid))

	if uid == "" {
		return m.fail(span, "profile_update", "", uid, serrors.New(serrors.CodeProfileNotFound, nil))
	}

	if _, _, err := m.loadProfile(ctx, uid, nil); err != nil {
		return m.fail(span, "profile_update", uid, uid, storeError(err))
	}

	patch := domain.Document(domain.CloneDocument(fields))
	if patch == nil {
		patch = domain.Document{}
	}
	delete(patch, domain.FieldUID)
	delete(patch, domain.FieldCreatedAt)
	patch[domain.FieldUpdatedAt] = m.now()

	if err := m.profiles.WriteDocument(ctx, m.collection, uid, patch, domain.WriteOptions{Merge: true}); err != nil {
		metrics.ProfileWriteFailureTotal.WithLabelValues("update").Inc()
		return m.fail(span, "profile_update", uid, uid, storeError(err))
	}

	audit.Log("session", "profile_update", uid, uid,
		"fields="+strings.Join(domain.SortedKeys(patch), ","), true, "", nil)

	if current := m.CurrentIdentity(); current != nil && current.UID == uid {
		if err := m.reload(ctx, uid); err != nil {
			m.logger.Warn(ctx, "Failed to reload profile after update", map[string]any{
				"uid": uid, "error": err.Error(),
			})
		}
	}
	return nil
}

// UpdateCurrentProfile is UpdateProfile for the signed-in identity.
func (m *Manager) UpdateCurrentProfile(ctx context.Context, fields map[string]any) error {
	current := m.CurrentIdentity()
	if current == nil {
		return serrors.New(serrors.CodeUnauthenticated, nil)
	}
	return m.UpdateProfile(ctx, current.UID, fields)
}

// ReloadProfile re-reads the signed-in identity's document and attaches it.
func (m *Manager) ReloadProfile(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "Manager.ReloadProfile")
	defer span.End()

	current := m.CurrentIdentity()
	if current == nil {
		return serrors.New(serrors.CodeUnauthenticated, nil)
	}
	if err := m.reload(ctx, current.UID); err != nil {
		span.RecordError(err)
		return storeError(err)
	}
	return nil
}

func (m *Manager) reload(ctx context.Context, uid string) error {
	doc, _, err := m.loadProfile(ctx, uid, nil)
	if err != nil {
		return err
	}
	m.attachProfile(uid, doc)
	return nil
}
