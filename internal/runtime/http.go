package runtime

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/studentpilot/interviewd/internal/history"
)

// handleInterviewList serves past interviews from the history store.
// GET /interviews returns summaries; GET /interviews/{id} hydrates one.
func handleInterviewList(w http.ResponseWriter, req *http.Request, store *history.Store) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if id := strings.TrimPrefix(req.URL.Path, "/interviews/"); id != "" && id != req.URL.Path && id != "interviews" {
		rec, err := store.GetInterview(req.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, rec)
		return
	}

	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	list, err := store.ListInterviews(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
