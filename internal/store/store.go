// Package store defines the persistence contract shared by the Postgres and
// in-memory implementations.
package store

import (
	"context"
	"time"
)

type Store interface {
	Ping(ctx context.Context) error

	// Tenants.
	CreateTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, tenantID string) (Tenant, bool, error)

	// Sessions. One row per tenant, upserted on first initialization.
	UpsertSession(ctx context.Context, in SessionUpdate) error
	GetSession(ctx context.Context, tenantID string) (Session, bool, error)
	ListRecoverableSessions(ctx context.Context) ([]Session, error)

	// Messages.
	GetMessage(ctx context.Context, jobID string) (Message, bool, error)
	ListQueuedMessages(ctx context.Context, tenantID string) ([]Message, error)
	ListProcessingMessages(ctx context.Context, tenantID string) ([]Message, error)
	MarkMessageProcessing(ctx context.Context, jobID string, now time.Time) error
	CompleteMessage(ctx context.Context, in MessageResult) error
	FailMessage(ctx context.Context, jobID, reason string, now time.Time) error

	// Ledger. Each call is serializable per tenant and appends exactly one
	// transaction row atomically with the balance update.
	CreditTokens(ctx context.Context, in TokenMutation) (LedgerResult, error)
	DebitTokens(ctx context.Context, in TokenMutation) (LedgerResult, error)
	AdjustTokens(ctx context.Context, in TokenMutation) (LedgerResult, error)
	DebitAndCreateMessage(ctx context.Context, in DebitAndCreate) (LedgerResult, error)
	GetBalance(ctx context.Context, tenantID string) (int64, error)
	ListTokenTransactions(ctx context.Context, tenantID string, limit, offset int) ([]TokenTransaction, error)
}
