package relay

import (
	"testing"
	"time"

	"blast/internal/domain"
)

func recvEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event within deadline")
		return Event{}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("acme")
	defer sub.Close()

	h.Publish("acme", QREvent("payload"))
	ev := recvEvent(t, sub)
	if ev.Type != EventQR {
		t.Fatalf("type = %q, want %q", ev.Type, EventQR)
	}
	data, ok := ev.Data.(map[string]string)
	if !ok || data["qrCode"] != "payload" {
		t.Fatalf("data = %#v", ev.Data)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	h := NewHub()
	acme := h.Subscribe("acme")
	defer acme.Close()
	beta := h.Subscribe("beta")
	defer beta.Close()

	h.Publish("acme", StatusEvent(domain.StateAuthenticated, "ready"))

	ev := recvEvent(t, acme)
	if ev.Type != EventStatus {
		t.Fatalf("type = %q", ev.Type)
	}
	select {
	case ev := <-beta.C:
		t.Fatalf("beta received foreign event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFanOutToAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("acme")
	defer a.Close()
	b := h.Subscribe("acme")
	defer b.Close()

	h.Publish("acme", JobProgressEvent("job_1", domain.MessageCompleted, 3, 1))
	if ev := recvEvent(t, a); ev.Type != EventJobProgress {
		t.Fatalf("a got %q", ev.Type)
	}
	if ev := recvEvent(t, b); ev.Type != EventJobProgress {
		t.Fatalf("b got %q", ev.Type)
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("acme")
	defer sub.Close()

	// Nobody reading: overflow past the buffer must drop, not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer*3; i++ {
			h.Publish("acme", StatusEvent(domain.StateConnecting, "tick"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}

	// The buffered prefix is still delivered in order.
	for i := 0; i < defaultBuffer; i++ {
		recvEvent(t, sub)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	h := NewHub()
	h.Publish("nobody", QREvent("payload")) // must not panic
}

func TestCloseIsIdempotent(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("acme")
	sub.Close()
	sub.Close()

	// A closed subscriber no longer receives.
	h.Publish("acme", QREvent("payload"))
	if _, ok := <-sub.C; ok {
		t.Fatalf("closed subscriber received an event")
	}
}
