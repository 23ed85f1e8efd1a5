// Package session owns the per-tenant transport lifecycle: one state machine
// and at most one live handle per tenant, persisted session state, and
// crash recovery on startup.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"blast/internal/domain"
	"blast/internal/observability"
	"blast/internal/relay"
	"blast/internal/store"
	"blast/internal/transport"
	"blast/internal/util"
)

type Store interface {
	GetTenant(ctx context.Context, tenantID string) (store.Tenant, bool, error)
	UpsertSession(ctx context.Context, in store.SessionUpdate) error
	GetSession(ctx context.Context, tenantID string) (store.Session, bool, error)
	ListRecoverableSessions(ctx context.Context) ([]store.Session, error)
}

type Publisher interface {
	Publish(tenantID string, ev relay.Event)
}

// Dispatcher is the queue surface the registry drives: re-load persisted jobs
// and schedule drains.
type Dispatcher interface {
	Kick(tenantID string)
	Restore(ctx context.Context, tenantID string) error
}

type Registry struct {
	store    Store
	pub      Publisher
	factory  transport.Factory
	dispatch Dispatcher
	now      func() time.Time
	ctx      context.Context

	mu      sync.Mutex
	tenants map[string]*tenantSession
}

// tenantSession serializes all registry operations for one tenant. gen
// fences events from handles that have since been destroyed.
type tenantSession struct {
	mu     sync.Mutex
	client transport.Client
	gen    uint64
}

func New(ctx context.Context, st Store, pub Publisher, factory transport.Factory, d Dispatcher) *Registry {
	return &Registry{
		store:    st,
		pub:      pub,
		factory:  factory,
		dispatch: d,
		now:      util.NowUTC,
		ctx:      ctx,
		tenants:  make(map[string]*tenantSession),
	}
}

func (r *Registry) tenant(tenantID string) *tenantSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.tenants[tenantID]
	if !ok {
		ts = &tenantSession{}
		r.tenants[tenantID] = ts
	}
	return ts
}

// Initialize starts (or restarts) a tenant's session. Idempotent: an existing
// handle is destroyed first, so at most one live handle exists per tenant
// even under concurrent calls.
func (r *Registry) Initialize(ctx context.Context, tenantID string) error {
	t, found, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrTenantNotFound
	}
	if !t.Active {
		return domain.ErrTenantInactive
	}

	ts := r.tenant(tenantID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.client != nil {
		slog.Info("session already exists, destroying before recreate", "tenant_id", tenantID)
		r.destroyLocked(ts, tenantID)
	}

	if err := r.store.UpsertSession(ctx, store.SessionUpdate{
		TenantID: tenantID,
		State:    domain.StateConnecting,
		Now:      r.now(),
	}); err != nil {
		return err
	}

	ts.gen++
	sink := &eventSink{r: r, tenantID: tenantID, gen: ts.gen}
	client := r.factory(tenantID, sink)
	ts.client = client
	observability.ActiveSessions.Inc()
	observability.SessionTransitions.WithLabelValues(string(domain.StateConnecting)).Inc()

	slog.Info("initializing session", "tenant_id", tenantID)

	// Connect is network-bound; run it off the request path. A failure is a
	// tenant-level event, resolved to disconnected, never fatal here.
	gen := ts.gen
	go func() {
		if err := client.Connect(r.ctx); err != nil {
			slog.Error("transport connect failed", "err", err, "tenant_id", tenantID)
			r.resolveDisconnected(tenantID, gen, "connect failed")
		}
	}()
	return nil
}

// destroyLocked tears the current handle down. Destroy errors are logged and
// swallowed; the state still resolves to disconnected.
func (r *Registry) destroyLocked(ts *tenantSession, tenantID string) {
	if ts.client == nil {
		return
	}
	destroyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ts.client.Destroy(destroyCtx); err != nil {
		slog.Error("transport destroy failed", "err", err, "tenant_id", tenantID)
	}
	ts.client = nil
	ts.gen++ // fence any late events from the old handle
	observability.ActiveSessions.Dec()
}

// Logout tears the session down and resolves it to disconnected. The QR
// payload is cleared and subscribers are notified.
func (r *Registry) Logout(ctx context.Context, tenantID string) error {
	ts := r.tenant(tenantID)
	ts.mu.Lock()
	r.destroyLocked(ts, tenantID)
	ts.mu.Unlock()

	if err := r.store.UpsertSession(ctx, store.SessionUpdate{
		TenantID: tenantID,
		State:    domain.StateDisconnected,
		Now:      r.now(),
	}); err != nil {
		return err
	}
	observability.SessionTransitions.WithLabelValues(string(domain.StateDisconnected)).Inc()
	r.pub.Publish(tenantID, relay.StatusEvent(domain.StateDisconnected, "Session logged out."))
	slog.Info("session logged out", "tenant_id", tenantID)
	return nil
}

// Status reads the persisted state. An uninitialized tenant reports
// disconnected.
func (r *Registry) Status(ctx context.Context, tenantID string) (domain.SessionStatus, error) {
	sess, found, err := r.store.GetSession(ctx, tenantID)
	if err != nil {
		return domain.SessionStatus{}, err
	}
	if !found {
		return domain.SessionStatus{
			State:   domain.StateDisconnected,
			Message: "Session not initialized.",
		}, nil
	}
	return domain.SessionStatus{
		State:        sess.State,
		Message:      domain.StatusMessage(sess.State),
		QRCode:       sess.QRCode,
		LastActivity: sess.LastActivity,
	}, nil
}

// IsAuthenticated reports whether the tenant may send right now.
func (r *Registry) IsAuthenticated(ctx context.Context, tenantID string) (bool, error) {
	sess, found, err := r.store.GetSession(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return found && sess.State == domain.StateAuthenticated, nil
}

// ClientFor returns the tenant's live handle, if any.
func (r *Registry) ClientFor(tenantID string) (transport.Client, bool) {
	ts := r.tenant(tenantID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.client == nil {
		return nil, false
	}
	return ts.client, true
}

// Recover re-initializes every tenant whose persisted session was live when
// the process stopped. Stale QR payloads are discarded; queued jobs are
// re-loaded without re-charging. Per-tenant failures are logged and skipped.
func (r *Registry) Recover(ctx context.Context) error {
	sessions, err := r.store.ListRecoverableSessions(ctx)
	if err != nil {
		return err
	}
	slog.Info("recovering sessions", "count", len(sessions))
	for _, sess := range sessions {
		if err := r.dispatch.Restore(ctx, sess.TenantID); err != nil {
			slog.Error("restore queued jobs failed", "err", err, "tenant_id", sess.TenantID)
		}
		if err := r.Initialize(ctx, sess.TenantID); err != nil {
			slog.Error("session recovery failed", "err", err, "tenant_id", sess.TenantID)
		}
	}
	return nil
}

// Shutdown destroys all live handles. Sessions stay persisted as live so the
// next start recovers them.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		ts := r.tenant(id)
		ts.mu.Lock()
		r.destroyLocked(ts, id)
		ts.mu.Unlock()
	}
}

// resolveDisconnected persists and announces a tenant-level failure, dropping
// the handle if the generation still matches.
func (r *Registry) resolveDisconnected(tenantID string, gen uint64, message string) {
	ts := r.tenant(tenantID)
	ts.mu.Lock()
	if ts.gen == gen && ts.client != nil {
		ts.client = nil
		observability.ActiveSessions.Dec()
	}
	ts.mu.Unlock()

	r.persistAndPublish(tenantID, domain.StateDisconnected, "", relay.StatusEvent(domain.StateDisconnected, message))
}

func (r *Registry) persistAndPublish(tenantID string, state domain.SessionState, qr string, ev relay.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.UpsertSession(ctx, store.SessionUpdate{
		TenantID: tenantID,
		State:    state,
		QRCode:   qr,
		Now:      r.now(),
	}); err != nil {
		slog.Error("persist session state failed", "err", err, "tenant_id", tenantID, "state", string(state))
	}
	observability.SessionTransitions.WithLabelValues(string(state)).Inc()
	r.pub.Publish(tenantID, ev)
}
