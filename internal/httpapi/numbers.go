package httpapi

import (
	"encoding/json"
	"net/http"

	"blast/internal/phone"
)

type analyzeRequest struct {
	Number string `json:"number"`
}

type analyzeBatchRequest struct {
	Numbers []string `json:"numbers"`
}

const maxBatchNumbers = 10_000

func (a *API) handleAnalyzeNumber(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.Number == "" {
		http.Error(w, "missing number", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, phone.Analyze(req.Number))
}

func (a *API) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req analyzeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if len(req.Numbers) == 0 {
		http.Error(w, "missing numbers", http.StatusBadRequest)
		return
	}
	if len(req.Numbers) > maxBatchNumbers {
		http.Error(w, "too many numbers", http.StatusRequestEntityTooLarge)
		return
	}
	results, stats := phone.AnalyzeBatch(req.Numbers)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"stats":   stats,
	})
}
