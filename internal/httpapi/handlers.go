package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"blast/internal/domain"
	"blast/internal/ledger"
	"blast/internal/store"
)

// SessionManager is the registry surface the handlers drive.
type SessionManager interface {
	Initialize(ctx context.Context, tenantID string) error
	Logout(ctx context.Context, tenantID string) error
	Status(ctx context.Context, tenantID string) (domain.SessionStatus, error)
}

// Ledger books token mutations and paid message submissions.
type Ledger interface {
	Credit(ctx context.Context, tenantID string, amount int64, kind domain.TransactionKind, description, actor string) (store.LedgerResult, error)
	Adjust(ctx context.Context, tenantID string, delta int64, description, actor string) (store.LedgerResult, error)
	Balance(ctx context.Context, tenantID string) (int64, error)
	History(ctx context.Context, tenantID string, limit, offset int) ([]store.TokenTransaction, error)
	DebitAndEnqueue(ctx context.Context, p ledger.SubmitParams) (string, error)
}

type MessageStore interface {
	GetMessage(ctx context.Context, jobID string) (store.Message, bool, error)
}

type API struct {
	Sessions SessionManager
	Ledger   Ledger
	Store    MessageStore
	Events   http.Handler

	// Media uploads are staged here until the dispatch worker releases them.
	UploadDir string
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/tenants/{tenantId}/session", a.handleInitSession).Methods(http.MethodPost)
	mux.HandleFunc("/v1/tenants/{tenantId}/session", a.handleSessionStatus).Methods(http.MethodGet)
	mux.HandleFunc("/v1/tenants/{tenantId}/session", a.handleLogout).Methods(http.MethodDelete)

	mux.HandleFunc("/v1/tenants/{tenantId}/messages", a.handleSubmitJob).Methods(http.MethodPost)
	mux.HandleFunc("/v1/tenants/{tenantId}/messages/file", a.handleSubmitMediaJob).Methods(http.MethodPost)
	mux.HandleFunc("/v1/tenants/{tenantId}/messages/{id}", a.handleGetMessage).Methods(http.MethodGet)

	mux.HandleFunc("/v1/tenants/{tenantId}/tokens", a.handleBalance).Methods(http.MethodGet)
	mux.HandleFunc("/v1/tenants/{tenantId}/tokens/history", a.handleHistory).Methods(http.MethodGet)
	mux.HandleFunc("/v1/tenants/{tenantId}/tokens/credit", a.handleCredit).Methods(http.MethodPost)
	mux.HandleFunc("/v1/tenants/{tenantId}/tokens/adjust", a.handleAdjust).Methods(http.MethodPost)
	mux.HandleFunc("/v1/tenants/{tenantId}/tokens/purchase", a.handlePurchase).Methods(http.MethodPost)
	mux.HandleFunc("/v1/tokens/packages", a.handlePackages).Methods(http.MethodGet)

	mux.HandleFunc("/v1/numbers/analyze", a.handleAnalyzeNumber).Methods(http.MethodPost)
	mux.HandleFunc("/v1/numbers/analyze-batch", a.handleAnalyzeBatch).Methods(http.MethodPost)

	if a.Events != nil {
		mux.Handle("/v1/tenants/{tenantId}/events", a.Events).Methods(http.MethodGet)
	}
}

func tenantID(r *http.Request) string {
	return mux.Vars(r)["tenantId"]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps ledger and session errors onto HTTP statuses.
// Anything unrecognized is treated as a dependency failure.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrWouldGoNegative):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrNoRecipients),
		errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrCostMismatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrTenantNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrTenantInactive):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		http.Error(w, ErrDependency, http.StatusServiceUnavailable)
	}
}

func (a *API) handleInitSession(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	if err := a.Sessions.Initialize(r.Context(), id); err != nil {
		slog.Error("session initialize failed", "err", err, "tenant_id", id)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  string(domain.StateConnecting),
		"message": "Session initialization started.",
	})
}

func (a *API) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	status, err := a.Sessions.Status(r.Context(), id)
	if err != nil {
		slog.Error("session status failed", "err", err, "tenant_id", id)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	if err := a.Sessions.Logout(r.Context(), id); err != nil {
		slog.Error("session logout failed", "err", err, "tenant_id", id)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  string(domain.StateDisconnected),
		"message": "Session logged out.",
	})
}

func (a *API) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)
	var req domain.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobID, err := a.Ledger.DebitAndEnqueue(r.Context(), ledger.SubmitParams{
		TenantID:   id,
		Recipients: req.Recipients,
		Content:    req.Content,
		TokenCost:  req.TokenCost,
	})
	if err != nil {
		slog.Error("submit job failed", "err", err, "tenant_id", id, "recipients", len(req.Recipients))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, domain.SubmitJobResponse{
		JobID:  jobID,
		Status: string(domain.MessageQueued),
	})
}

// messageResponse is the wire shape of a job record.
type messageResponse struct {
	ID             string                  `json:"id"`
	TenantID       string                  `json:"tenantId"`
	Content        string                  `json:"content,omitempty"`
	MediaType      domain.MediaType        `json:"mediaType"`
	Caption        string                  `json:"caption,omitempty"`
	RecipientCount int                     `json:"recipientCount"`
	SuccessCount   int                     `json:"successCount"`
	FailureCount   int                     `json:"failureCount"`
	TokensUsed     int64                   `json:"tokensUsed"`
	Status         domain.MessageStatus    `json:"status"`
	Errors         []domain.RecipientError `json:"errors,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
}

func toMessageResponse(m store.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		TenantID:       m.TenantID,
		Content:        m.Content,
		MediaType:      m.MediaType,
		Caption:        m.Caption,
		RecipientCount: m.RecipientCount,
		SuccessCount:   m.SuccessCount,
		FailureCount:   m.FailureCount,
		TokensUsed:     m.TokensUsed,
		Status:         m.Status,
		Errors:         m.Errors,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if jobID == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	msg, found, err := a.Store.GetMessage(r.Context(), jobID)
	if err != nil {
		slog.Error("get message failed", "err", err, "job_id", jobID)
		http.Error(w, ErrDependency, http.StatusServiceUnavailable)
		return
	}
	if !found || msg.TenantID != tenantID(r) {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}
