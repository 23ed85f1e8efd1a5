// Package pg implements the store contract on Postgres via pgx. Ledger
// mutations lock the tenant's balance row, so concurrent debits against the
// same tenant observe a consistent balance.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"blast/internal/domain"
	"blast/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

func (s *Store) CreateTenant(ctx context.Context, t store.Tenant) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO tenants (id, name, active, token_balance, created_at)
		VALUES ($1,$2,$3,0,$4)
	`, t.ID, t.Name, t.Active, t.CreatedAt)
	return err
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (store.Tenant, bool, error) {
	var t store.Tenant
	row := s.DB.QueryRow(ctx, `
		SELECT id, name, active, created_at FROM tenants WHERE id=$1
	`, tenantID)
	err := row.Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Tenant{}, false, nil
		}
		return store.Tenant{}, false, err
	}
	return t, true, nil
}

func (s *Store) UpsertSession(ctx context.Context, in store.SessionUpdate) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO sessions (tenant_id, state, qr_code, last_activity)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (tenant_id)
		DO UPDATE SET state=$2, qr_code=$3, last_activity=$4
	`, in.TenantID, string(in.State), nullIfEmpty(in.QRCode), in.Now)
	return err
}

func (s *Store) GetSession(ctx context.Context, tenantID string) (store.Session, bool, error) {
	var sess store.Session
	var state string
	row := s.DB.QueryRow(ctx, `
		SELECT tenant_id, state, COALESCE(qr_code,''), last_activity
		FROM sessions WHERE tenant_id=$1
	`, tenantID)
	err := row.Scan(&sess.TenantID, &state, &sess.QRCode, &sess.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, false, nil
		}
		return store.Session{}, false, err
	}
	sess.State = domain.SessionState(state)
	return sess, true, nil
}

// ListRecoverableSessions returns sessions worth re-initializing after a
// restart: live states only, active tenants only. QR payloads are not
// returned; they never survive a transport restart.
func (s *Store) ListRecoverableSessions(ctx context.Context) ([]store.Session, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT s.tenant_id, s.state, s.last_activity
		FROM sessions s
		JOIN tenants t ON t.id = s.tenant_id
		WHERE s.state IN ('connecting','connected','authenticated') AND t.active
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		var sess store.Session
		var state string
		if err := rows.Scan(&sess.TenantID, &state, &sess.LastActivity); err != nil {
			return nil, err
		}
		sess.State = domain.SessionState(state)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) GetMessage(ctx context.Context, jobID string) (store.Message, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, COALESCE(content,''), media_type, COALESCE(media_path,''),
		       COALESCE(caption,''), recipients_json, recipient_count, success_count,
		       failure_count, tokens_used, status, errors_json, created_at, updated_at
		FROM messages WHERE id=$1
	`, jobID)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Message{}, false, nil
		}
		return store.Message{}, false, err
	}
	return m, true, nil
}

func (s *Store) ListQueuedMessages(ctx context.Context, tenantID string) ([]store.Message, error) {
	return s.listMessagesByStatus(ctx, tenantID, domain.MessageQueued)
}

func (s *Store) ListProcessingMessages(ctx context.Context, tenantID string) ([]store.Message, error) {
	return s.listMessagesByStatus(ctx, tenantID, domain.MessageProcessing)
}

func (s *Store) listMessagesByStatus(ctx context.Context, tenantID string, status domain.MessageStatus) ([]store.Message, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant_id, COALESCE(content,''), media_type, COALESCE(media_path,''),
		       COALESCE(caption,''), recipients_json, recipient_count, success_count,
		       failure_count, tokens_used, status, errors_json, created_at, updated_at
		FROM messages
		WHERE tenant_id=$1 AND status=$2
		ORDER BY created_at ASC
	`, tenantID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkMessageProcessing(ctx context.Context, jobID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE messages SET status='processing', updated_at=$2 WHERE id=$1
	`, jobID, now)
	return err
}

func (s *Store) CompleteMessage(ctx context.Context, in store.MessageResult) error {
	b, _ := json.Marshal(in.Errors)
	_, err := s.DB.Exec(ctx, `
		UPDATE messages
		SET status='completed', success_count=$2, failure_count=$3, errors_json=$4, updated_at=$5
		WHERE id=$1
	`, in.JobID, in.SuccessCount, in.FailureCount, b, in.Now)
	return err
}

func (s *Store) FailMessage(ctx context.Context, jobID, reason string, now time.Time) error {
	b, _ := json.Marshal([]domain.RecipientError{{Error: reason}})
	_, err := s.DB.Exec(ctx, `
		UPDATE messages SET status='failed', errors_json=$2, updated_at=$3 WHERE id=$1
	`, jobID, b, now)
	return err
}

func (s *Store) CreditTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error) {
	if in.Amount <= 0 {
		return store.LedgerResult{}, domain.ErrInvalidAmount
	}
	return s.mutateBalance(ctx, in, nil)
}

func (s *Store) DebitTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error) {
	if in.Amount <= 0 {
		return store.LedgerResult{}, domain.ErrInvalidAmount
	}
	in.Amount = -in.Amount
	return s.mutateBalance(ctx, in, nil)
}

func (s *Store) AdjustTokens(ctx context.Context, in store.TokenMutation) (store.LedgerResult, error) {
	return s.mutateBalance(ctx, in, nil)
}

func (s *Store) DebitAndCreateMessage(ctx context.Context, in store.DebitAndCreate) (store.LedgerResult, error) {
	if in.Mutation.Amount <= 0 {
		return store.LedgerResult{}, domain.ErrInvalidAmount
	}
	in.Mutation.Amount = -in.Mutation.Amount
	return s.mutateBalance(ctx, in.Mutation, func(tx pgx.Tx) error {
		return insertMessageTx(ctx, tx, in.Message)
	})
}

// mutateBalance applies one signed balance change plus its transaction row,
// and optionally an extra statement, inside a single database transaction.
// The balance row is locked first; insufficient funds or a negative result
// roll everything back.
func (s *Store) mutateBalance(ctx context.Context, in store.TokenMutation, extra func(pgx.Tx) error) (store.LedgerResult, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return store.LedgerResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	row := tx.QueryRow(ctx, `SELECT token_balance FROM tenants WHERE id=$1 FOR UPDATE`, in.TenantID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.LedgerResult{}, domain.ErrTenantNotFound
		}
		return store.LedgerResult{}, err
	}

	newBalance := balance + in.Amount
	if newBalance < 0 {
		if in.Kind == domain.KindAdjustment {
			return store.LedgerResult{}, domain.ErrWouldGoNegative
		}
		return store.LedgerResult{}, domain.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `UPDATE tenants SET token_balance=$2 WHERE id=$1`, in.TenantID, newBalance); err != nil {
		return store.LedgerResult{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO token_transactions (id, tenant_id, amount, kind, description, balance_after, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, in.TxID, in.TenantID, in.Amount, string(in.Kind), nullIfEmpty(in.Description), newBalance, nullIfEmpty(in.Actor), in.Now); err != nil {
		return store.LedgerResult{}, err
	}

	if extra != nil {
		if err := extra(tx); err != nil {
			return store.LedgerResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return store.LedgerResult{}, err
	}
	return store.LedgerResult{TxID: in.TxID, PreviousBalance: balance, NewBalance: newBalance}, nil
}

func insertMessageTx(ctx context.Context, tx pgx.Tx, m store.Message) error {
	rb, _ := json.Marshal(m.Recipients)
	_, err := tx.Exec(ctx, `
		INSERT INTO messages (id, tenant_id, content, media_type, media_path, caption,
		                      recipients_json, recipient_count, tokens_used, status,
		                      created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, m.ID, m.TenantID, nullIfEmpty(m.Content), string(m.MediaType), nullIfEmpty(m.MediaPath),
		nullIfEmpty(m.Caption), rb, m.RecipientCount, m.TokensUsed, string(m.Status), m.CreatedAt)
	return err
}

func (s *Store) GetBalance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	row := s.DB.QueryRow(ctx, `SELECT token_balance FROM tenants WHERE id=$1`, tenantID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrTenantNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (s *Store) ListTokenTransactions(ctx context.Context, tenantID string, limit, offset int) ([]store.TokenTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant_id, amount, kind, COALESCE(description,''), balance_after, COALESCE(actor,''), created_at
		FROM token_transactions
		WHERE tenant_id=$1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TokenTransaction
	for rows.Next() {
		var t store.TokenTransaction
		var kind string
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Amount, &kind, &t.Description, &t.BalanceAfter, &t.Actor, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = domain.TransactionKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (store.Message, error) {
	var m store.Message
	var mediaType, status string
	var recipientsJSON, errorsJSON []byte
	err := row.Scan(&m.ID, &m.TenantID, &m.Content, &mediaType, &m.MediaPath, &m.Caption,
		&recipientsJSON, &m.RecipientCount, &m.SuccessCount, &m.FailureCount,
		&m.TokensUsed, &status, &errorsJSON, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return store.Message{}, err
	}
	m.MediaType = domain.MediaType(mediaType)
	m.Status = domain.MessageStatus(status)
	_ = json.Unmarshal(recipientsJSON, &m.Recipients)
	if len(errorsJSON) > 0 {
		_ = json.Unmarshal(errorsJSON, &m.Errors)
	}
	return m, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
