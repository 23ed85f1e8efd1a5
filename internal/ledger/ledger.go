// Package ledger owns each tenant's prepaid token balance and its append-only
// transaction history. Balances change only through here; the store makes each
// mutation atomic with its transaction row.
package ledger

import (
	"context"
	"fmt"
	"time"

	"blast/internal/domain"
	"blast/internal/observability"
	"blast/internal/store"
	"blast/internal/util"
)

type Store interface {
	CreditTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error)
	DebitTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error)
	AdjustTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error)
	DebitAndCreateMessage(ctx context.Context, in store.DebitAndCreate) (store.LedgerResult, error)
	GetBalance(ctx context.Context, tenantID string) (int64, error)
	ListTokenTransactions(ctx context.Context, tenantID string, limit, offset int) ([]store.TokenTransaction, error)
}

// Queue receives the message record once the paired debit has committed.
type Queue interface {
	Enqueue(m store.Message)
}

type Service struct {
	Store Store
	Queue Queue
	TxID  func() string
	JobID func() string
	Now   func() time.Time
}

func New(st Store, q Queue) *Service {
	return &Service{
		Store: st,
		Queue: q,
		TxID:  util.NewTransactionID,
		JobID: util.NewJobID,
		Now:   util.NowUTC,
	}
}

func (s *Service) Credit(ctx context.Context, tenantID string, amount int64, kind domain.TransactionKind, description, actor string) (store.LedgerResult, error) {
	if kind == "" {
		kind = domain.KindPurchase
	}
	res, err := s.Store.CreditTokens(ctx, store.TokenMutation{
		TxID: s.TxID(), TenantID: tenantID, Amount: amount,
		Kind: kind, Description: description, Actor: actor, Now: s.Now(),
	})
	if err == nil {
		observability.TokenMutations.WithLabelValues(string(kind)).Inc()
	}
	return res, err
}

func (s *Service) Debit(ctx context.Context, tenantID string, amount int64, description, actor string) (store.LedgerResult, error) {
	res, err := s.Store.DebitTokens(ctx, store.TokenMutation{
		TxID: s.TxID(), TenantID: tenantID, Amount: amount,
		Kind: domain.KindConsumption, Description: description, Actor: actor, Now: s.Now(),
	})
	if err == nil {
		observability.TokenMutations.WithLabelValues(string(domain.KindConsumption)).Inc()
	}
	return res, err
}

func (s *Service) Adjust(ctx context.Context, tenantID string, delta int64, description, actor string) (store.LedgerResult, error) {
	res, err := s.Store.AdjustTokens(ctx, store.TokenMutation{
		TxID: s.TxID(), TenantID: tenantID, Amount: delta,
		Kind: domain.KindAdjustment, Description: description, Actor: actor, Now: s.Now(),
	})
	if err == nil {
		observability.TokenMutations.WithLabelValues(string(domain.KindAdjustment)).Inc()
	}
	return res, err
}

func (s *Service) Balance(ctx context.Context, tenantID string) (int64, error) {
	return s.Store.GetBalance(ctx, tenantID)
}

func (s *Service) History(ctx context.Context, tenantID string, limit, offset int) ([]store.TokenTransaction, error) {
	return s.Store.ListTokenTransactions(ctx, tenantID, limit, offset)
}

// SubmitParams describes one batch-send request paid from the tenant balance.
type SubmitParams struct {
	TenantID   string
	Recipients []string
	Content    string
	MediaType  domain.MediaType
	MediaPath  string
	Caption    string
	TokenCost  int64
}

// DebitAndEnqueue books the consumption debit and creates the queued message
// record as one atomic unit, then hands the job to the dispatch queue. Either
// both the balance change and the job exist, or neither does.
func (s *Service) DebitAndEnqueue(ctx context.Context, p SubmitParams) (string, error) {
	now := s.Now()
	msg := store.Message{
		ID:             s.JobID(),
		TenantID:       p.TenantID,
		Content:        p.Content,
		MediaType:      p.MediaType,
		MediaPath:      p.MediaPath,
		Caption:        p.Caption,
		Recipients:     p.Recipients,
		RecipientCount: len(p.Recipients),
		TokensUsed:     p.TokenCost,
		Status:         domain.MessageQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if msg.MediaType == "" {
		msg.MediaType = domain.MediaNone
	}

	_, err := s.Store.DebitAndCreateMessage(ctx, store.DebitAndCreate{
		Mutation: store.TokenMutation{
			TxID:        s.TxID(),
			TenantID:    p.TenantID,
			Amount:      p.TokenCost,
			Kind:        domain.KindConsumption,
			Description: fmt.Sprintf("Consumed %d tokens sending %d messages", p.TokenCost, len(p.Recipients)),
			Actor:       p.TenantID,
			Now:         now,
		},
		Message: msg,
	})
	if err != nil {
		return "", err
	}

	observability.TokenMutations.WithLabelValues(string(domain.KindConsumption)).Inc()
	observability.JobsSubmitted.Inc()
	if s.Queue != nil {
		s.Queue.Enqueue(msg)
	}
	return msg.ID, nil
}
