package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"blast/internal/domain"
	"blast/internal/ledger"
)

const maxUploadBytes = 64 << 20

// handleSubmitMediaJob accepts a multipart form with the media payload and
// the job fields. The file is staged under UploadDir; the dispatch worker
// removes it once the job is terminal. If the debit is rejected the staged
// file is removed here instead.
func (a *API) handleSubmitMediaJob(w http.ResponseWriter, r *http.Request) {
	id := tenantID(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, ErrBadForm, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	recipients, err := parseRecipients(r.FormValue("recipients"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tokenCost, err := strconv.ParseInt(r.FormValue("tokenCost"), 10, 64)
	if err != nil {
		http.Error(w, "invalid tokenCost", http.StatusBadRequest)
		return
	}
	if tokenCost != int64(len(recipients)) {
		http.Error(w, domain.ErrCostMismatch.Error(), http.StatusBadRequest)
		return
	}
	caption := r.FormValue("caption")

	ext := strings.ToLower(filepath.Ext(header.Filename))
	mediaType := domain.MediaTypeForFile(ext)

	if err := os.MkdirAll(a.UploadDir, 0o755); err != nil {
		slog.Error("upload dir unavailable", "err", err, "dir", a.UploadDir)
		http.Error(w, ErrDependency, http.StatusServiceUnavailable)
		return
	}
	path := filepath.Join(a.UploadDir, ulid.Make().String()+ext)
	dst, err := os.Create(path)
	if err != nil {
		slog.Error("stage upload failed", "err", err, "path", path)
		http.Error(w, ErrDependency, http.StatusServiceUnavailable)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(path)
		slog.Error("stage upload failed", "err", err, "path", path)
		http.Error(w, ErrDependency, http.StatusServiceUnavailable)
		return
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		http.Error(w, ErrDependency, http.StatusServiceUnavailable)
		return
	}

	jobID, err := a.Ledger.DebitAndEnqueue(r.Context(), ledger.SubmitParams{
		TenantID:   id,
		Recipients: recipients,
		Content:    caption,
		MediaType:  mediaType,
		MediaPath:  path,
		Caption:    caption,
		TokenCost:  tokenCost,
	})
	if err != nil {
		os.Remove(path)
		slog.Error("submit media job failed", "err", err, "tenant_id", id, "recipients", len(recipients))
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, domain.SubmitJobResponse{
		JobID:  jobID,
		Status: string(domain.MessageQueued),
	})
}

// parseRecipients reads the recipients form field as either a JSON array or
// a comma-separated list.
func parseRecipients(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrNoRecipients
	}
	if strings.HasPrefix(raw, "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, domain.ErrNoRecipients
		}
		if len(out) == 0 {
			return nil, domain.ErrNoRecipients
		}
		return out, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNoRecipients
	}
	return out, nil
}
