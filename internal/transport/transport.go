// Package transport defines the contract for the external chat-network
// client. The core only consumes this surface; real implementations live
// outside the repo, and sim provides a self-driving one for local use.
package transport

import "context"

// Client is one tenant's live handle onto the chat network. At most one
// exists per tenant; the session registry owns creation and teardown.
type Client interface {
	Connect(ctx context.Context) error
	Destroy(ctx context.Context) error
	SendText(ctx context.Context, address, body string) (messageID string, err error)
	SendMedia(ctx context.Context, address, filePath, caption string) (messageID string, err error)
}

// EventSink receives lifecycle events for one handle. Implementations must
// tolerate calls from transport-owned goroutines.
type EventSink interface {
	OnQR(payload string)
	OnAuthenticating()
	OnReady()
	OnDisconnected(reason string)
	OnAuthFailure(err error)
}

// Factory creates a fresh handle for a tenant, bound to its event sink.
type Factory func(tenantID string, sink EventSink) Client
