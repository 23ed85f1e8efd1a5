package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"blast/internal/domain"
	"blast/internal/store"
	"blast/internal/store/mem"
)

type captureQueue struct {
	mu   sync.Mutex
	jobs []store.Message
}

func (q *captureQueue) Enqueue(m store.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, m)
}

func (q *captureQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func newTestService(t *testing.T) (*Service, *mem.Store, *captureQueue) {
	t.Helper()
	st := mem.New()
	if err := st.CreateTenant(context.Background(), store.Tenant{ID: "acme", Name: "Acme", Active: true}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	q := &captureQueue{}
	return New(st, q), st, q
}

func TestCreditThenDebit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Credit(ctx, "acme", 100, domain.KindPurchase, "Purchased basic package", "admin")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if res.PreviousBalance != 0 || res.NewBalance != 100 {
		t.Fatalf("credit result = %+v", res)
	}

	res, err = svc.Debit(ctx, "acme", 30, "Consumed 30 tokens", "acme")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if res.NewBalance != 70 {
		t.Fatalf("balance after debit = %d, want 70", res.NewBalance)
	}

	balance, err := svc.Balance(ctx, "acme")
	if err != nil || balance != 70 {
		t.Fatalf("Balance = %d, %v; want 70", balance, err)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "acme", 10, domain.KindPurchase, "seed", "admin"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Debit(ctx, "acme", 11, "too much", "acme"); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if balance, _ := svc.Balance(ctx, "acme"); balance != 10 {
		t.Fatalf("failed debit must not move the balance, got %d", balance)
	}
}

func TestAdjustWouldGoNegative(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "acme", 5, domain.KindPurchase, "seed", "admin"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Adjust(ctx, "acme", -6, "correction", "admin"); !errors.Is(err, domain.ErrWouldGoNegative) {
		t.Fatalf("err = %v, want ErrWouldGoNegative", err)
	}
	if _, err := svc.Adjust(ctx, "acme", -5, "correction", "admin"); err != nil {
		t.Fatalf("adjust to exactly zero should succeed: %v", err)
	}
}

func TestInvalidAmounts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "acme", 0, domain.KindPurchase, "", "admin"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("zero credit: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.Debit(ctx, "acme", -3, "", "acme"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("negative debit: err = %v, want ErrInvalidAmount", err)
	}
}

func TestUnknownTenant(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Credit(context.Background(), "ghost", 10, domain.KindPurchase, "", "admin"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("err = %v, want ErrTenantNotFound", err)
	}
}

// The sum of all transaction amounts must always equal the live balance, even
// under concurrent mixed traffic.
func TestHistorySumMatchesBalance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "acme", 10_000, domain.KindPurchase, "seed", "admin"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				switch n % 3 {
				case 0:
					svc.Credit(ctx, "acme", 3, domain.KindPurchase, "topup", "admin")
				case 1:
					svc.Debit(ctx, "acme", 2, "spend", "acme")
				default:
					svc.Adjust(ctx, "acme", -1, "correction", "admin")
				}
			}
		}(i)
	}
	wg.Wait()

	balance, err := svc.Balance(ctx, "acme")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	history, err := svc.History(ctx, "acme", 1000, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var sum int64
	for _, txn := range history {
		sum += txn.Amount
	}
	if sum != balance {
		t.Fatalf("sum of amounts = %d, balance = %d", sum, balance)
	}
	// Newest first: each entry's BalanceAfter equals the next older entry's
	// BalanceAfter plus this entry's amount.
	for i := 0; i+1 < len(history); i++ {
		if history[i].BalanceAfter != history[i+1].BalanceAfter+history[i].Amount {
			t.Fatalf("running balance broken at %d: %+v then %+v", i, history[i], history[i+1])
		}
	}
}

func TestHistoryPagination(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := svc.Credit(ctx, "acme", int64(i+1), domain.KindPurchase, fmt.Sprintf("credit %d", i), "admin"); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	page, err := svc.History(ctx, "acme", 2, 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	// Newest first with offset 1 skips the last credit (amount 5).
	if page[0].Amount != 4 || page[1].Amount != 3 {
		t.Fatalf("page amounts = %d, %d; want 4, 3", page[0].Amount, page[1].Amount)
	}
}

func TestHistoryNegativeOffsetTreatedAsZero(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "acme", 10, domain.KindPurchase, "seed", "admin"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	history, err := svc.History(ctx, "acme", 10, -1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Amount != 10 {
		t.Fatalf("history = %+v, want the seed credit from offset zero", history)
	}
}

func TestDebitAndEnqueue(t *testing.T) {
	svc, st, q := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "acme", 100, domain.KindPurchase, "seed", "admin"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	jobID, err := svc.DebitAndEnqueue(ctx, SubmitParams{
		TenantID:   "acme",
		Recipients: []string{"5511987654321", "5511987654322"},
		Content:    "hello",
		TokenCost:  2,
	})
	if err != nil {
		t.Fatalf("debit and enqueue: %v", err)
	}
	if jobID == "" {
		t.Fatalf("empty job id")
	}

	if balance, _ := svc.Balance(ctx, "acme"); balance != 98 {
		t.Fatalf("balance = %d, want 98", balance)
	}
	msg, found, err := st.GetMessage(ctx, jobID)
	if err != nil || !found {
		t.Fatalf("message record missing: found=%v err=%v", found, err)
	}
	if msg.Status != domain.MessageQueued || msg.RecipientCount != 2 || msg.MediaType != domain.MediaNone {
		t.Fatalf("message = %+v", msg)
	}
	if q.len() != 1 {
		t.Fatalf("queue received %d jobs, want 1", q.len())
	}
}

// A failure after the debit must leave no trace: no balance change, no
// transaction row, no message record, nothing enqueued.
func TestDebitAndEnqueueAllOrNothing(t *testing.T) {
	svc, st, q := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "acme", 100, domain.KindPurchase, "seed", "admin"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	st.FailDebitAndCreate = errors.New("storage failure")
	_, err := svc.DebitAndEnqueue(ctx, SubmitParams{
		TenantID:   "acme",
		Recipients: []string{"5511987654321"},
		Content:    "hello",
		TokenCost:  1,
	})
	if err == nil {
		t.Fatalf("expected failure")
	}

	if balance, _ := svc.Balance(ctx, "acme"); balance != 100 {
		t.Fatalf("balance = %d, want 100 untouched", balance)
	}
	history, _ := svc.History(ctx, "acme", 10, 0)
	if len(history) != 1 {
		t.Fatalf("history has %d entries, want only the seed credit", len(history))
	}
	if q.len() != 0 {
		t.Fatalf("nothing should reach the queue, got %d", q.len())
	}
}

func TestDebitAndEnqueueInsufficientBalance(t *testing.T) {
	svc, _, q := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Credit(ctx, "acme", 1, domain.KindPurchase, "seed", "admin"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := svc.DebitAndEnqueue(ctx, SubmitParams{
		TenantID:   "acme",
		Recipients: []string{"5511987654321", "5511987654322"},
		Content:    "hello",
		TokenCost:  2,
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if q.len() != 0 {
		t.Fatalf("rejected submit must not enqueue")
	}
}
