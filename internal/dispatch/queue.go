// Package dispatch drains each tenant's job queue against its live transport
// handle: one worker per tenant, jobs in arrival order, sends paced and
// recorded per recipient.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"blast/internal/domain"
	"blast/internal/observability"
	"blast/internal/phone"
	"blast/internal/relay"
	"blast/internal/store"
	"blast/internal/transport"
	"blast/internal/util"
)

const sendTimeout = 30 * time.Second

// Sessions is the registry surface the queue needs: whether a tenant may
// send, and its live handle.
type Sessions interface {
	IsAuthenticated(ctx context.Context, tenantID string) (bool, error)
	ClientFor(tenantID string) (transport.Client, bool)
}

type Store interface {
	ListQueuedMessages(ctx context.Context, tenantID string) ([]store.Message, error)
	ListProcessingMessages(ctx context.Context, tenantID string) ([]store.Message, error)
	MarkMessageProcessing(ctx context.Context, jobID string, now time.Time) error
	CompleteMessage(ctx context.Context, in store.MessageResult) error
	FailMessage(ctx context.Context, jobID, reason string, now time.Time) error
}

type Publisher interface {
	Publish(tenantID string, ev relay.Event)
}

type Options struct {
	// Pause between recipient sends: base plus [0, jitter).
	DelayBase   time.Duration
	DelayJitter time.Duration

	// Hard ceiling on a tenant's send rate, applied before each send.
	RatePerTenant float64
	Burst         int
}

type Queue struct {
	store    Store
	pub      Publisher
	sessions Sessions
	opts     Options
	now      func() time.Time

	ctx context.Context
	wg  sync.WaitGroup

	mu      sync.Mutex
	tenants map[string]*tenantQueue
}

type tenantQueue struct {
	id   string
	kick chan struct{}

	mu      sync.Mutex
	jobs    []store.Message
	pending map[string]struct{} // job ids queued or mid-process; guards Restore against duplicates

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New builds a queue whose workers live until ctx is cancelled. The context
// is fixed here so it is visible to every worker goroutine without further
// synchronization.
func New(ctx context.Context, st Store, pub Publisher, opts Options) *Queue {
	if opts.RatePerTenant <= 0 {
		opts.RatePerTenant = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Queue{
		store:   st,
		pub:     pub,
		opts:    opts,
		now:     util.NowUTC,
		ctx:     ctx,
		tenants: make(map[string]*tenantQueue),
	}
}

// BindSessions wires the registry in after construction; the registry needs
// the queue first for its own wiring. Must happen before the first Enqueue.
func (q *Queue) BindSessions(s Sessions) { q.sessions = s }

// Wait blocks until every tenant worker has observed shutdown.
func (q *Queue) Wait() { q.wg.Wait() }

func (q *Queue) tenant(tenantID string) *tenantQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.tenants[tenantID]
	if !ok {
		tq = &tenantQueue{
			id:      tenantID,
			kick:    make(chan struct{}, 1),
			pending: make(map[string]struct{}),
			limiter: rate.NewLimiter(rate.Limit(q.opts.RatePerTenant), q.opts.Burst),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "transport-" + tenantID,
				MaxRequests: 1,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
			}),
		}
		q.tenants[tenantID] = tq
		q.wg.Add(1)
		go q.worker(tq)
	}
	return tq
}

// Enqueue appends a job to its tenant's FIFO and schedules a drain.
func (q *Queue) Enqueue(m store.Message) {
	tq := q.tenant(m.TenantID)
	tq.mu.Lock()
	if _, dup := tq.pending[m.ID]; !dup {
		tq.pending[m.ID] = struct{}{}
		tq.jobs = append(tq.jobs, m)
	}
	tq.mu.Unlock()
	q.Kick(m.TenantID)
}

// Kick schedules a drain if none is in flight. Safe to call from any
// goroutine; signals collapse into one.
func (q *Queue) Kick(tenantID string) {
	tq := q.tenant(tenantID)
	select {
	case tq.kick <- struct{}{}:
	default:
	}
}

// Restore reloads the tenant's persisted queued jobs, skipping any already
// held in memory. Called on startup recovery; the debit stays booked, so jobs
// are never re-charged. Jobs interrupted mid-processing are not resent (there
// is no per-recipient retry); their records are resolved to failed instead of
// staying stuck.
func (q *Queue) Restore(ctx context.Context, tenantID string) error {
	msgs, err := q.store.ListQueuedMessages(ctx, tenantID)
	if err != nil {
		return err
	}
	tq := q.tenant(tenantID)
	tq.mu.Lock()
	restored := 0
	for _, m := range msgs {
		if _, dup := tq.pending[m.ID]; dup {
			continue
		}
		tq.pending[m.ID] = struct{}{}
		tq.jobs = append(tq.jobs, m)
		restored++
	}
	tq.mu.Unlock()
	if restored > 0 {
		slog.Info("restored queued jobs", "tenant_id", tenantID, "count", restored)
		q.Kick(tenantID)
	}
	return q.sweepInterrupted(ctx, tq)
}

// sweepInterrupted fails processing records that no worker owns. A job in the
// pending set is live in this process and is left alone.
func (q *Queue) sweepInterrupted(ctx context.Context, tq *tenantQueue) error {
	msgs, err := q.store.ListProcessingMessages(ctx, tq.id)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		tq.mu.Lock()
		_, live := tq.pending[m.ID]
		tq.mu.Unlock()
		if live {
			continue
		}
		slog.Warn("failing job interrupted mid-processing", "tenant_id", tq.id, "job_id", m.ID)
		q.failJob(ctx, m, "processing interrupted by restart")
		if m.MediaPath != "" {
			if err := os.Remove(m.MediaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to remove media file", "err", err, "path", m.MediaPath, "job_id", m.ID)
			}
		}
	}
	return nil
}

func (q *Queue) worker(tq *tenantQueue) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-tq.kick:
			q.drain(tq)
		}
	}
}

// drain processes jobs one at a time while the tenant is authenticated. Jobs
// stay queued when the session is not ready; a future ready event re-kicks.
func (q *Queue) drain(tq *tenantQueue) {
	for {
		if q.ctx.Err() != nil {
			return
		}

		ok, err := q.sessions.IsAuthenticated(q.ctx, tq.id)
		if err != nil {
			slog.Error("session state check failed", "err", err, "tenant_id", tq.id)
			return
		}
		if !ok {
			return
		}

		tq.mu.Lock()
		if len(tq.jobs) == 0 {
			tq.mu.Unlock()
			return
		}
		job := tq.jobs[0]
		tq.jobs = tq.jobs[1:]
		tq.mu.Unlock()

		q.processJob(tq, job)
	}
}

func (q *Queue) processJob(tq *tenantQueue, m store.Message) {
	start := time.Now()
	defer func() {
		// The job is terminal either way; let Restore see it fresh.
		tq.mu.Lock()
		delete(tq.pending, m.ID)
		tq.mu.Unlock()

		// Media payloads are released exactly once per job, whatever happened.
		if m.MediaPath != "" {
			if err := os.Remove(m.MediaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to remove media file", "err", err, "path", m.MediaPath, "job_id", m.ID)
			}
		}
		observability.JobDuration.Observe(time.Since(start).Seconds())
	}()

	ctx := q.ctx

	if err := q.store.MarkMessageProcessing(ctx, m.ID, q.now()); err != nil {
		slog.Error("mark processing failed", "err", err, "job_id", m.ID)
		q.failJob(ctx, m, "store unavailable")
		return
	}

	client, ok := q.sessions.ClientFor(m.TenantID)
	if !ok {
		q.failJob(ctx, m, "transport handle unavailable")
		return
	}
	if m.MediaType != domain.MediaNone && m.MediaPath == "" {
		q.failJob(ctx, m, "media payload missing")
		return
	}

	var failures []domain.RecipientError
	success := 0
	for i, recipient := range m.Recipients {
		address := phone.Normalize(recipient)

		if err := q.sendOne(ctx, tq, client, m, address); err != nil {
			slog.Warn("send failed", "err", err, "tenant_id", m.TenantID, "job_id", m.ID, "recipient", recipient)
			failures = append(failures, domain.RecipientError{Number: recipient, Error: err.Error()})
			observability.Sends.WithLabelValues("error").Inc()
		} else {
			success++
			observability.Sends.WithLabelValues("ok").Inc()
		}

		if i < len(m.Recipients)-1 {
			q.pause(ctx)
		}
	}

	if err := q.store.CompleteMessage(ctx, store.MessageResult{
		JobID:        m.ID,
		SuccessCount: success,
		FailureCount: len(failures),
		Errors:       failures,
		Now:          q.now(),
	}); err != nil {
		slog.Error("complete message failed", "err", err, "job_id", m.ID)
	}

	observability.JobsProcessed.WithLabelValues(string(domain.MessageCompleted)).Inc()
	q.pub.Publish(m.TenantID, relay.JobProgressEvent(m.ID, domain.MessageCompleted, success, len(failures)))
	slog.Info("job completed",
		"tenant_id", m.TenantID,
		"job_id", m.ID,
		"success", success,
		"failure", len(failures),
		"duration", time.Since(start),
	)
}

// sendOne pushes one recipient through the tenant's rate limiter and circuit
// breaker. Failures are returned for recording, never raised further.
func (q *Queue) sendOne(ctx context.Context, tq *tenantQueue, client transport.Client, m store.Message, address string) error {
	if err := tq.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := tq.breaker.Execute(func() (any, error) {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if m.MediaType != domain.MediaNone {
			return client.SendMedia(sendCtx, address, m.MediaPath, m.Caption)
		}
		return client.SendText(sendCtx, address, m.Content)
	})
	return err
}

// failJob marks the record failed without touching per-recipient counts: this
// path is for errors outside the recipient loop. Draining continues with the
// next queued job.
func (q *Queue) failJob(ctx context.Context, m store.Message, reason string) {
	if err := q.store.FailMessage(ctx, m.ID, reason, q.now()); err != nil {
		slog.Error("fail message failed", "err", err, "job_id", m.ID)
	}
	observability.JobsProcessed.WithLabelValues(string(domain.MessageFailed)).Inc()
	q.pub.Publish(m.TenantID, relay.JobProgressEvent(m.ID, domain.MessageFailed, 0, 0))
}

func (q *Queue) pause(ctx context.Context) {
	d := q.opts.DelayBase
	if q.opts.DelayJitter > 0 {
		d += time.Duration(rand.Int63n(int64(q.opts.DelayJitter)))
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
