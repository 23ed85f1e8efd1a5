package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"blast/internal/domain"
	"blast/internal/store"
)

type creditRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Actor       string `json:"actor"`
}

type adjustRequest struct {
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
	Actor       string `json:"actor"`
}

type purchaseRequest struct {
	PackageID string `json:"packageId"`
}

type mutationResponse struct {
	TransactionID string `json:"transactionId"`
	Balance       int64  `json:"balance"`
}

type transactionResponse struct {
	ID           string                 `json:"id"`
	Amount       int64                  `json:"amount"`
	Kind         domain.TransactionKind `json:"type"`
	Description  string                 `json:"description,omitempty"`
	BalanceAfter int64                  `json:"balanceAfter"`
	Actor        string                 `json:"actor,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

func toTransactionResponses(txns []store.TokenTransaction) []transactionResponse {
	out := make([]transactionResponse, len(txns))
	for i, txn := range txns {
		out[i] = transactionResponse{
			ID:           txn.ID,
			Amount:       txn.Amount,
			Kind:         txn.Kind,
			Description:  txn.Description,
			BalanceAfter: txn.BalanceAfter,
			Actor:        txn.Actor,
			CreatedAt:    txn.CreatedAt,
		}
	}
	return out
}

// paginationParam reads a non-negative integer query parameter; absent means 0.
func paginationParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	balance, err := a.Ledger.Balance(r.Context(), id)
	if err != nil {
		slog.Error("get balance failed", "err", err, "tenant_id", id)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	limit, err := paginationParam(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := paginationParam(r, "offset")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	txns, err := a.Ledger.History(r.Context(), id, limit, offset)
	if err != nil {
		slog.Error("token history failed", "err", err, "tenant_id", id)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": toTransactionResponses(txns),
		"limit":        limit,
		"offset":       offset,
	})
}

func (a *API) handleCredit(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	res, err := a.Ledger.Credit(r.Context(), id, req.Amount, domain.KindPurchase, req.Description, req.Actor)
	if err != nil {
		slog.Error("credit failed", "err", err, "tenant_id", id, "amount", req.Amount)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{TransactionID: res.TxID, Balance: res.NewBalance})
}

func (a *API) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	res, err := a.Ledger.Adjust(r.Context(), id, req.Delta, req.Description, req.Actor)
	if err != nil {
		slog.Error("adjust failed", "err", err, "tenant_id", id, "delta", req.Delta)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{TransactionID: res.TxID, Balance: res.NewBalance})
}

func (a *API) handlePackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": domain.TokenPackages()})
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	pkg, found := domain.FindTokenPackage(req.PackageID)
	if !found {
		http.Error(w, "unknown package", http.StatusBadRequest)
		return
	}
	res, err := a.Ledger.Credit(r.Context(), id, pkg.Tokens, domain.KindPurchase,
		"Purchased "+pkg.Name+" package", id)
	if err != nil {
		slog.Error("purchase failed", "err", err, "tenant_id", id, "package", pkg.ID)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactionId": res.TxID,
		"package":       pkg,
		"balance":       res.NewBalance,
	})
}
