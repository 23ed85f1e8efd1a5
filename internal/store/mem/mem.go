// Package mem implements the store contract in memory. It backs unit tests
// and the local dev mode; a single mutex gives the same per-tenant
// serialization the Postgres implementation gets from row locks.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"blast/internal/domain"
	"blast/internal/store"
)

type Store struct {
	mu       sync.Mutex
	tenants  map[string]store.Tenant
	balances map[string]int64
	sessions map[string]store.Session
	messages map[string]store.Message
	msgOrder []string
	txns     map[string][]store.TokenTransaction

	// FailDebitAndCreate, when set, fires after the debit is applied inside
	// DebitAndCreateMessage and forces a rollback. Used to prove the
	// debit-plus-enqueue unit is all-or-nothing.
	FailDebitAndCreate error
}

func New() *Store {
	return &Store{
		tenants:  make(map[string]store.Tenant),
		balances: make(map[string]int64),
		sessions: make(map[string]store.Session),
		messages: make(map[string]store.Message),
		txns:     make(map[string][]store.TokenTransaction),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) CreateTenant(ctx context.Context, t store.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	if _, ok := s.balances[t.ID]; !ok {
		s.balances[t.ID] = 0
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (store.Tenant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	return t, ok, nil
}

func (s *Store) UpsertSession(ctx context.Context, in store.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[in.TenantID] = store.Session{
		TenantID:     in.TenantID,
		State:        in.State,
		QRCode:       in.QRCode,
		LastActivity: in.Now,
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, tenantID string) (store.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tenantID]
	return sess, ok, nil
}

func (s *Store) ListRecoverableSessions(ctx context.Context) ([]store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Session
	for _, sess := range s.sessions {
		t, ok := s.tenants[sess.TenantID]
		if !ok || !t.Active {
			continue
		}
		if sess.State.Recoverable() {
			c := sess
			c.QRCode = "" // QR payloads never survive a restart
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// SeedMessage inserts or replaces a message record directly, bypassing the
// ledger. Test fixtures only.
func (s *Store) SeedMessage(m store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		s.msgOrder = append(s.msgOrder, m.ID)
	}
	s.messages[m.ID] = m
	return nil
}

func (s *Store) GetMessage(ctx context.Context, jobID string) (store.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[jobID]
	return m, ok, nil
}

func (s *Store) ListQueuedMessages(ctx context.Context, tenantID string) ([]store.Message, error) {
	return s.listMessagesByStatus(tenantID, domain.MessageQueued), nil
}

func (s *Store) ListProcessingMessages(ctx context.Context, tenantID string) ([]store.Message, error) {
	return s.listMessagesByStatus(tenantID, domain.MessageProcessing), nil
}

func (s *Store) listMessagesByStatus(tenantID string, status domain.MessageStatus) []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Message
	for _, id := range s.msgOrder {
		m := s.messages[id]
		if m.TenantID == tenantID && m.Status == status {
			out = append(out, m)
		}
	}
	return out
}

func (s *Store) MarkMessageProcessing(ctx context.Context, jobID string, now time.Time) error {
	return s.updateMessage(jobID, func(m *store.Message) {
		m.Status = domain.MessageProcessing
		m.UpdatedAt = now
	})
}

func (s *Store) CompleteMessage(ctx context.Context, in store.MessageResult) error {
	return s.updateMessage(in.JobID, func(m *store.Message) {
		m.Status = domain.MessageCompleted
		m.SuccessCount = in.SuccessCount
		m.FailureCount = in.FailureCount
		m.Errors = in.Errors
		m.UpdatedAt = in.Now
	})
}

func (s *Store) FailMessage(ctx context.Context, jobID, reason string, now time.Time) error {
	return s.updateMessage(jobID, func(m *store.Message) {
		m.Status = domain.MessageFailed
		m.Errors = []domain.RecipientError{{Error: reason}}
		m.UpdatedAt = now
	})
}

func (s *Store) updateMessage(jobID string, fn func(*store.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&m)
	s.messages[jobID] = m
	return nil
}

func (s *Store) CreditTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error) {
	if in.Amount <= 0 {
		return store.LedgerResult{}, domain.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(in)
}

func (s *Store) DebitTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error) {
	if in.Amount <= 0 {
		return store.LedgerResult{}, domain.ErrInvalidAmount
	}
	in.Amount = -in.Amount
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(in)
}

func (s *Store) AdjustTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(in)
}

func (s *Store) DebitAndCreateMessage(ctx context.Context, in store.DebitAndCreate) (store.LedgerResult, error) {
	if in.Mutation.Amount <= 0 {
		return store.LedgerResult{}, domain.ErrInvalidAmount
	}
	in.Mutation.Amount = -in.Mutation.Amount

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.applyLocked(in.Mutation)
	if err != nil {
		return store.LedgerResult{}, err
	}
	if s.FailDebitAndCreate != nil {
		// Undo the debit: nothing may be committed on failure.
		s.balances[in.Mutation.TenantID] = res.PreviousBalance
		txns := s.txns[in.Mutation.TenantID]
		s.txns[in.Mutation.TenantID] = txns[:len(txns)-1]
		return store.LedgerResult{}, s.FailDebitAndCreate
	}
	s.messages[in.Message.ID] = in.Message
	s.msgOrder = append(s.msgOrder, in.Message.ID)
	return res, nil
}

func (s *Store) applyLocked(in store.TokenMutation) (store.LedgerResult, error) {
	if _, ok := s.tenants[in.TenantID]; !ok {
		return store.LedgerResult{}, domain.ErrTenantNotFound
	}
	balance := s.balances[in.TenantID]
	newBalance := balance + in.Amount
	if newBalance < 0 {
		if in.Kind == domain.KindAdjustment {
			return store.LedgerResult{}, domain.ErrWouldGoNegative
		}
		return store.LedgerResult{}, domain.ErrInsufficientBalance
	}
	s.balances[in.TenantID] = newBalance
	s.txns[in.TenantID] = append(s.txns[in.TenantID], store.TokenTransaction{
		ID:           in.TxID,
		TenantID:     in.TenantID,
		Amount:       in.Amount,
		Kind:         in.Kind,
		Description:  in.Description,
		BalanceAfter: newBalance,
		Actor:        in.Actor,
		CreatedAt:    in.Now,
	})
	return store.LedgerResult{TxID: in.TxID, PreviousBalance: balance, NewBalance: newBalance}, nil
}

func (s *Store) GetBalance(ctx context.Context, tenantID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenantID]; !ok {
		return 0, domain.ErrTenantNotFound
	}
	return s.balances[tenantID], nil
}

func (s *Store) ListTokenTransactions(ctx context.Context, tenantID string, limit, offset int) ([]store.TokenTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.txns[tenantID]
	// Newest first.
	out := make([]store.TokenTransaction, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
