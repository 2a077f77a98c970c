package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/pipeline"
	"github.com/kozaktomas/people-tracker/internal/results"
)

// IdentitiesHandler serves identity state and renames.
type IdentitiesHandler struct {
	tracker *pipeline.Tracker
	logger  *slog.Logger
}

// NewIdentitiesHandler creates an identities handler.
func NewIdentitiesHandler(tracker *pipeline.Tracker, logger *slog.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{tracker: tracker, logger: logger}
}

// IdentityResponse is an identity with its latest plugin results.
type IdentityResponse struct {
	identity.Snapshot
	Results map[string]results.Result `json:"results,omitempty"`
}

// CandidateResponse describes a face waiting for confirmation.
type CandidateResponse struct {
	Hits       int       `json:"hits"`
	Box        []float64 `json:"box,omitempty"`
	AdmittedAt time.Time `json:"admitted_at"`
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *IdentitiesHandler) withResults(snaps []identity.Snapshot) []IdentityResponse {
	agg := h.tracker.Results()
	out := make([]IdentityResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, IdentityResponse{Snapshot: s, Results: agg.Get(s.ID)})
	}
	return out
}

// List returns identities. Optional filters: name (normalized match) and
// state (active or lost).
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	engine := h.tracker.Engine()

	var snaps []identity.Snapshot
	if name := r.URL.Query().Get("name"); name != "" {
		snaps = engine.FindByName(name)
	} else {
		snaps = engine.Identities()
	}

	if state := r.URL.Query().Get("state"); state != "" {
		if state != identity.Active.String() && state != identity.Lost.String() {
			respondError(w, http.StatusBadRequest, "state must be active or lost")
			return
		}
		filtered := snaps[:0]
		for _, s := range snaps {
			if s.State.String() == state {
				filtered = append(filtered, s)
			}
		}
		snaps = filtered
	}

	respondJSON(w, http.StatusOK, h.withResults(snaps))
}

// Visible returns the identities seen in the last tick with their results.
func (h *IdentitiesHandler) Visible(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.withResults(h.tracker.Engine().Visible()))
}

// Get returns one identity.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := identityIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, ok := h.tracker.Engine().Identity(id)
	if !ok {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	respondJSON(w, http.StatusOK, IdentityResponse{Snapshot: snap, Results: h.tracker.Results().Get(id)})
}

// Rename sets or clears the display name of an identity.
func (h *IdentitiesHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id, err := identityIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	snap, err := h.tracker.Rename(r.Context(), id, req.Name)
	switch {
	case errors.Is(err, identity.ErrUnknownIdentity):
		respondError(w, http.StatusNotFound, "identity not found")
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("identity renamed via API", "identity_id", id, "name", sanitizeForLog(snap.DisplayName))
	respondJSON(w, http.StatusOK, snap)
}

// Thumbnail serves the JPEG of one stored fingerprint (?n=, default 0).
func (h *IdentitiesHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := identityIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := intQuery(r, "n", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, ok := h.tracker.Engine().Thumbnail(id, n)
	if !ok {
		respondError(w, http.StatusNotFound, "thumbnail not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Candidates lists faces waiting to be confirmed as new identities.
func (h *IdentitiesHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	cands := h.tracker.Engine().Candidates()
	out := make([]CandidateResponse, 0, len(cands))
	for _, c := range cands {
		out = append(out, CandidateResponse{Hits: c.Hits, Box: c.Box, AdmittedAt: c.AdmittedAt})
	}
	respondJSON(w, http.StatusOK, out)
}
