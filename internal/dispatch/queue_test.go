package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blast/internal/domain"
	"blast/internal/relay"
	"blast/internal/store"
	"blast/internal/store/mem"
	"blast/internal/transport"
	"blast/internal/util"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []string // addresses in send order
	media    []string // file paths for media sends
	failAddr map[string]error
}

func (c *fakeTransport) Connect(ctx context.Context) error { return nil }
func (c *fakeTransport) Destroy(ctx context.Context) error { return nil }

func (c *fakeTransport) SendText(ctx context.Context, address, body string) (string, error) {
	return c.record(address, "")
}

func (c *fakeTransport) SendMedia(ctx context.Context, address, filePath, caption string) (string, error) {
	return c.record(address, filePath)
}

func (c *fakeTransport) record(address, mediaPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failAddr[address]; ok {
		return "", err
	}
	c.sent = append(c.sent, address)
	if mediaPath != "" {
		c.media = append(c.media, mediaPath)
	}
	return "wire-id", nil
}

func (c *fakeTransport) sentAddresses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeSessions struct {
	authed atomic.Bool
	client transport.Client
}

func (s *fakeSessions) IsAuthenticated(ctx context.Context, tenantID string) (bool, error) {
	return s.authed.Load(), nil
}

func (s *fakeSessions) ClientFor(tenantID string) (transport.Client, bool) {
	if s.client == nil {
		return nil, false
	}
	return s.client, true
}

type capturePub struct {
	mu     sync.Mutex
	events []relay.Event
}

func (p *capturePub) Publish(tenantID string, ev relay.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func newTestQueue(t *testing.T) (*Queue, *mem.Store, *fakeSessions, *fakeTransport, *capturePub) {
	t.Helper()
	st := mem.New()
	if err := st.CreateTenant(context.Background(), store.Tenant{ID: "acme", Name: "Acme", Active: true}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	tr := &fakeTransport{failAddr: map[string]error{}}
	sess := &fakeSessions{client: tr}
	pub := &capturePub{}
	ctx, cancel := context.WithCancel(context.Background())
	q := New(ctx, st, pub, Options{RatePerTenant: 10000, Burst: 100})
	q.BindSessions(sess)

	t.Cleanup(func() {
		cancel()
		q.Wait()
	})
	return q, st, sess, tr, pub
}

func seedMessage(t *testing.T, st *mem.Store, recipients []string) store.Message {
	t.Helper()
	now := util.NowUTC()
	m := store.Message{
		ID:             util.NewJobID(),
		TenantID:       "acme",
		Content:        "hello",
		MediaType:      domain.MediaNone,
		Recipients:     recipients,
		RecipientCount: len(recipients),
		TokensUsed:     int64(len(recipients)),
		Status:         domain.MessageQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := st.SeedMessage(m); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

func waitStatus(t *testing.T, st *mem.Store, jobID string, want domain.MessageStatus) store.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m, found, err := st.GetMessage(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get message: %v", err)
		}
		if found && m.Status == want {
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	m, _, _ := st.GetMessage(context.Background(), jobID)
	t.Fatalf("job %s never reached %q, last seen %q", jobID, want, m.Status)
	return store.Message{}
}

func TestJobsWaitUntilAuthenticated(t *testing.T) {
	q, st, sess, tr, _ := newTestQueue(t)
	m := seedMessage(t, st, []string{"5511987654321"})
	q.Enqueue(m)

	// Session still connecting: the job must stay queued.
	time.Sleep(50 * time.Millisecond)
	got, _, _ := st.GetMessage(context.Background(), m.ID)
	if got.Status != domain.MessageQueued {
		t.Fatalf("status = %q, want queued while unauthenticated", got.Status)
	}
	if len(tr.sentAddresses()) != 0 {
		t.Fatalf("nothing should be sent while unauthenticated")
	}

	sess.authed.Store(true)
	q.Kick("acme")
	waitStatus(t, st, m.ID, domain.MessageCompleted)
}

func TestDrainIsFIFO(t *testing.T) {
	q, st, sess, tr, _ := newTestQueue(t)
	sess.authed.Store(true)
	first := seedMessage(t, st, []string{"5511000000001"})
	second := seedMessage(t, st, []string{"5511000000002"})
	q.Enqueue(first)
	q.Enqueue(second)

	waitStatus(t, st, second.ID, domain.MessageCompleted)
	waitStatus(t, st, first.ID, domain.MessageCompleted)

	sent := tr.sentAddresses()
	if len(sent) != 2 || sent[0] != "5511000000001" || sent[1] != "5511000000002" {
		t.Fatalf("send order = %v", sent)
	}
}

func TestPartialFailureCountsPerRecipient(t *testing.T) {
	q, st, sess, tr, _ := newTestQueue(t)
	sess.authed.Store(true)
	recipients := []string{
		"5511000000001", "5511000000002", "5511000000003",
		"5511000000004", "5511000000005",
	}
	tr.failAddr["5511000000003"] = errors.New("recipient rejected")

	m := seedMessage(t, st, recipients)
	q.Enqueue(m)

	got := waitStatus(t, st, m.ID, domain.MessageCompleted)
	if got.SuccessCount != 4 || got.FailureCount != 1 {
		t.Fatalf("success=%d failure=%d, want 4 and 1", got.SuccessCount, got.FailureCount)
	}
	if len(got.Errors) != 1 || got.Errors[0].Number != "5511000000003" {
		t.Fatalf("errors = %+v", got.Errors)
	}
}

func TestRecipientsAreNormalizedBeforeSend(t *testing.T) {
	q, st, sess, tr, _ := newTestQueue(t)
	sess.authed.Store(true)
	m := seedMessage(t, st, []string{"(11) 98765-4321"})
	q.Enqueue(m)

	waitStatus(t, st, m.ID, domain.MessageCompleted)
	sent := tr.sentAddresses()
	if len(sent) != 1 || sent[0] != "5511987654321" {
		t.Fatalf("sent = %v, want normalized address", sent)
	}
}

func TestMediaFileRemovedAfterJob(t *testing.T) {
	q, st, sess, tr, _ := newTestQueue(t)
	sess.authed.Store(true)

	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("bytes"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}

	m := seedMessage(t, st, []string{"5511987654321"})
	m.MediaType = domain.MediaImage
	m.MediaPath = path
	m.Caption = "look"
	if err := st.SeedMessage(m); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	q.Enqueue(m)

	waitStatus(t, st, m.ID, domain.MessageCompleted)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("media file should be removed after the job, stat err = %v", err)
	}
	tr.mu.Lock()
	media := len(tr.media)
	tr.mu.Unlock()
	if media != 1 {
		t.Fatalf("media sends = %d, want 1", media)
	}
}

func TestMissingMediaFailsJobAndDrainingContinues(t *testing.T) {
	q, st, sess, _, _ := newTestQueue(t)
	sess.authed.Store(true)

	broken := seedMessage(t, st, []string{"5511000000001"})
	broken.MediaType = domain.MediaImage
	broken.MediaPath = ""
	if err := st.SeedMessage(broken); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	healthy := seedMessage(t, st, []string{"5511000000002"})

	q.Enqueue(broken)
	q.Enqueue(healthy)

	waitStatus(t, st, broken.ID, domain.MessageFailed)
	waitStatus(t, st, healthy.ID, domain.MessageCompleted)
}

func TestRestoreSkipsInMemoryJobs(t *testing.T) {
	q, st, sess, tr, _ := newTestQueue(t)
	persisted := seedMessage(t, st, []string{"5511000000001"})
	q.Enqueue(persisted)

	// A restore racing the enqueue must not duplicate the job.
	if err := q.Restore(context.Background(), "acme"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	sess.authed.Store(true)
	q.Kick("acme")
	waitStatus(t, st, persisted.ID, domain.MessageCompleted)

	time.Sleep(50 * time.Millisecond)
	if got := len(tr.sentAddresses()); got != 1 {
		t.Fatalf("sends = %d, want exactly 1", got)
	}
}

func TestRestoreLoadsPersistedQueue(t *testing.T) {
	q, st, sess, _, _ := newTestQueue(t)
	m := seedMessage(t, st, []string{"5511000000001"})

	sess.authed.Store(true)
	if err := q.Restore(context.Background(), "acme"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	waitStatus(t, st, m.ID, domain.MessageCompleted)
}

func TestRestoreFailsJobsInterruptedMidProcessing(t *testing.T) {
	q, st, sess, tr, _ := newTestQueue(t)

	// A record left in processing by a crashed run. Its recipients may have
	// been partially sent, so it must be failed, never resent.
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("bytes"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	orphan := seedMessage(t, st, []string{"5511000000001"})
	orphan.Status = domain.MessageProcessing
	orphan.MediaType = domain.MediaImage
	orphan.MediaPath = path
	if err := st.SeedMessage(orphan); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	queued := seedMessage(t, st, []string{"5511000000002"})

	sess.authed.Store(true)
	if err := q.Restore(context.Background(), "acme"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	waitStatus(t, st, orphan.ID, domain.MessageFailed)
	waitStatus(t, st, queued.ID, domain.MessageCompleted)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("staged media for the interrupted job should be removed, stat err = %v", err)
	}
	for _, addr := range tr.sentAddresses() {
		if addr == "5511000000001" {
			t.Fatalf("interrupted job must not be resent")
		}
	}
}

func TestEnqueueIsDedupedByJobID(t *testing.T) {
	q, st, sess, tr, _ := newTestQueue(t)
	m := seedMessage(t, st, []string{"5511000000001"})
	q.Enqueue(m)
	q.Enqueue(m)

	sess.authed.Store(true)
	q.Kick("acme")
	waitStatus(t, st, m.ID, domain.MessageCompleted)

	time.Sleep(50 * time.Millisecond)
	if got := len(tr.sentAddresses()); got != 1 {
		t.Fatalf("sends = %d, want 1 despite duplicate enqueue", got)
	}
}
