package session

import (
	"log/slog"

	"blast/internal/domain"
	"blast/internal/relay"
)

// eventSink receives transport callbacks for one tenant and maps them onto
// the session state machine. Each sink is pinned to the generation of the
// handle that produced it; events from a destroyed handle are dropped.
type eventSink struct {
	r        *Registry
	tenantID string
	gen      uint64
}

func (s *eventSink) current() bool {
	ts := s.r.tenant(s.tenantID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.gen == s.gen
}

func (s *eventSink) OnQR(qr string) {
	if !s.current() {
		return
	}
	slog.Info("qr code received", "tenant_id", s.tenantID)
	s.r.persistAndPublish(s.tenantID, domain.StateConnecting, qr, relay.QREvent(qr))
}

func (s *eventSink) OnAuthenticating() {
	if !s.current() {
		return
	}
	slog.Info("session authenticating", "tenant_id", s.tenantID)
	s.r.persistAndPublish(s.tenantID, domain.StateConnected, "",
		relay.StatusEvent(domain.StateConnected, domain.StatusMessage(domain.StateConnected)))
}

func (s *eventSink) OnReady() {
	if !s.current() {
		return
	}
	slog.Info("session ready", "tenant_id", s.tenantID)
	s.r.persistAndPublish(s.tenantID, domain.StateAuthenticated, "",
		relay.StatusEvent(domain.StateAuthenticated, domain.StatusMessage(domain.StateAuthenticated)))

	// Queued work may have accumulated while the session was down. Restore
	// re-loads persisted jobs; Kick schedules a drain either way.
	if err := s.r.dispatch.Restore(s.r.ctx, s.tenantID); err != nil {
		slog.Error("restore queued jobs failed", "err", err, "tenant_id", s.tenantID)
	}
	s.r.dispatch.Kick(s.tenantID)
}

func (s *eventSink) OnDisconnected(reason string) {
	if !s.current() {
		return
	}
	slog.Warn("session disconnected", "tenant_id", s.tenantID, "reason", reason)
	s.r.resolveDisconnected(s.tenantID, s.gen, "Session disconnected: "+reason)
}

func (s *eventSink) OnAuthFailure(err error) {
	if !s.current() {
		return
	}
	slog.Error("session auth failure", "err", err, "tenant_id", s.tenantID)
	s.r.resolveDisconnected(s.tenantID, s.gen, "Authentication failed.")
}
