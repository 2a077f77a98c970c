package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/people-tracker/internal/constants"
	"github.com/kozaktomas/people-tracker/internal/results"
)

// ResultsHandler serves the aggregated plugin results.
type ResultsHandler struct {
	results *results.Aggregator
}

// NewResultsHandler creates a results handler.
func NewResultsHandler(agg *results.Aggregator) *ResultsHandler {
	return &ResultsHandler{results: agg}
}

// List returns every latest result, or one plugin's results with ?plugin=.
func (h *ResultsHandler) List(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("plugin")
	if name == "" {
		respondJSON(w, http.StatusOK, h.results.All())
		return
	}

	byID := h.results.GetByPlugin(name)
	out := make([]results.Result, 0, len(byID))
	for _, res := range byID {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	respondJSON(w, http.StatusOK, out)
}

// ForIdentity returns the latest result of every plugin for one identity.
func (h *ResultsHandler) ForIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := identityIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.results.Get(id))
}

// History returns the most recent completed results of one plugin for one
// identity, oldest first. ?limit= caps the count.
func (h *ResultsHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := identityIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intQuery(r, "limit", constants.DefaultHistoryLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	history := h.results.History(id, chi.URLParam(r, "plugin"))
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	if history == nil {
		history = []results.Result{}
	}
	respondJSON(w, http.StatusOK, history)
}
