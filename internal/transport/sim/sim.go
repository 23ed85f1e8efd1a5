// Package sim is a self-driving transport for local development and demos:
// it emits a QR payload shortly after connect, "scans" it after a delay, and
// then reports ready. Sends succeed after a small latency.
package sim

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"blast/internal/transport"
)

type Options struct {
	QRDelay     time.Duration // connect -> first QR
	AuthDelay   time.Duration // first QR -> authenticating
	ReadyDelay  time.Duration // authenticating -> ready
	SendLatency time.Duration
}

func DefaultOptions() Options {
	return Options{
		QRDelay:     500 * time.Millisecond,
		AuthDelay:   3 * time.Second,
		ReadyDelay:  time.Second,
		SendLatency: 100 * time.Millisecond,
	}
}

// Factory returns a transport.Factory producing simulated clients.
func Factory(opts Options) transport.Factory {
	return func(tenantID string, sink transport.EventSink) transport.Client {
		return &client{tenantID: tenantID, sink: sink, opts: opts}
	}
}

type client struct {
	tenantID string
	sink     transport.EventSink
	opts     Options

	mu        sync.Mutex
	destroyed bool
	ready     bool
	timers    []*time.Timer
}

func (c *client) Connect(ctx context.Context) error {
	c.after(c.opts.QRDelay, func() {
		c.sink.OnQR(fmt.Sprintf("sim-qr:%s:%s", c.tenantID, randomToken()))
	})
	c.after(c.opts.QRDelay+c.opts.AuthDelay, func() {
		c.sink.OnAuthenticating()
	})
	c.after(c.opts.QRDelay+c.opts.AuthDelay+c.opts.ReadyDelay, func() {
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.sink.OnReady()
	})
	return nil
}

func (c *client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	c.ready = false
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	return nil
}

func (c *client) SendText(ctx context.Context, address, body string) (string, error) {
	return c.send(ctx, address)
}

func (c *client) SendMedia(ctx context.Context, address, filePath, caption string) (string, error) {
	return c.send(ctx, address)
}

func (c *client) send(ctx context.Context, address string) (string, error) {
	c.mu.Lock()
	ok := c.ready && !c.destroyed
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("sim transport: handle not ready")
	}
	select {
	case <-time.After(c.opts.SendLatency):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "sim-" + randomToken(), nil
}

func (c *client) after(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	t := time.AfterFunc(d, func() {
		c.mu.Lock()
		dead := c.destroyed
		c.mu.Unlock()
		if !dead {
			fn()
		}
	})
	c.timers = append(c.timers, t)
}

func randomToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
