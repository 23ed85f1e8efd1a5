package store

import (
	"time"

	"blast/internal/domain"
)

type Tenant struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

type Session struct {
	TenantID     string
	State        domain.SessionState
	QRCode       string
	LastActivity time.Time
}

// Message is one dispatch job together with its outcome record. Recipients
// and payload are persisted so queued jobs survive a process restart.
type Message struct {
	ID             string
	TenantID       string
	Content        string
	MediaType      domain.MediaType
	MediaPath      string
	Caption        string
	Recipients     []string
	RecipientCount int
	SuccessCount   int
	FailureCount   int
	TokensUsed     int64
	Status         domain.MessageStatus
	Errors         []domain.RecipientError
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type TokenTransaction struct {
	ID           string
	TenantID     string
	Amount       int64
	Kind         domain.TransactionKind
	Description  string
	BalanceAfter int64
	Actor        string
	CreatedAt    time.Time
}

type SessionUpdate struct {
	TenantID string
	State    domain.SessionState
	QRCode   string // empty clears any stored payload
	Now      time.Time
}

// TokenMutation describes one balance change; exactly one transaction row is
// appended in the same atomic unit as the balance update.
type TokenMutation struct {
	TxID        string
	TenantID    string
	Amount      int64 // positive for credit, the debit amount for debits, signed for adjust
	Kind        domain.TransactionKind
	Description string
	Actor       string
	Now         time.Time
}

type LedgerResult struct {
	TxID            string
	PreviousBalance int64
	NewBalance      int64
}

// DebitAndCreate books a consumption debit and creates the queued message
// record as one atomic unit.
type DebitAndCreate struct {
	Mutation TokenMutation
	Message  Message
}

type MessageResult struct {
	JobID        string
	SuccessCount int
	FailureCount int
	Errors       []domain.RecipientError
	Now          time.Time
}
