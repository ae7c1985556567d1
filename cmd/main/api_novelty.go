package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/paremia/trawl/pkg/novelty"
	"github.com/paremia/trawl/pkg/phrase"
)

// NoveltyAPI holds the dependencies for the novelty scoring API handlers.
type NoveltyAPI struct {
	store  *phrase.Store
	scorer *novelty.Scorer
	logger *slog.Logger
}

// NewNoveltyAPI creates a new instance of the NoveltyAPI.
func NewNoveltyAPI(store *phrase.Store, scorer *novelty.Scorer, logger *slog.Logger) *NoveltyAPI {
	return &NoveltyAPI{
		store:  store,
		scorer: scorer,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for the novelty endpoints.
func (n *NoveltyAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/novelty/score", n.handleScore)
}

// ScoreRequest selects the corpus pair to compare and optionally narrows the scan.
type ScoreRequest struct {
	Generated string `json:"generated"`
	Reference string `json:"reference"`
	MinN      int    `json:"min_n,omitempty"`
	MaxN      int    `json:"max_n,omitempty"`
	MinFreq   int    `json:"min_freq,omitempty"`
	Maximal   *bool  `json:"maximal,omitempty"`
}

// ScoreResponse pairs the scored candidates with the stage thresholds they
// were judged against, so clients can render verdicts without a second call.
type ScoreResponse struct {
	Candidates []novelty.Candidate   `json:"candidates"`
	Stages     novelty.VerdictStages `json:"stages"`
}

func (n *NoveltyAPI) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "novelty:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'novelty:read' scope")
		return
	}

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if req.Generated == "" || req.Reference == "" {
		respondWithError(w, http.StatusBadRequest, "Both 'generated' and 'reference' corpus names are required")
		return
	}

	generated, err := n.store.GetCorpusInfo(r.Context(), req.Generated)
	if err != nil {
		n.respondCorpusError(w, req.Generated, err)
		return
	}
	reference, err := n.store.GetCorpusInfo(r.Context(), req.Reference)
	if err != nil {
		n.respondCorpusError(w, req.Reference, err)
		return
	}
	if generated.Kind != phrase.KindGenerated {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Corpus '%s' is not a generated corpus", req.Generated))
		return
	}
	if reference.Kind != phrase.KindReference {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Corpus '%s' is not a reference corpus", req.Reference))
		return
	}

	var opts []novelty.ScoreOption
	if req.MinN > 0 || req.MaxN > 0 {
		opts = append(opts, novelty.WithWindowBounds(req.MinN, req.MaxN))
	}
	if req.MinFreq > 0 {
		opts = append(opts, novelty.WithMinFrequency(req.MinFreq))
	}
	if req.Maximal != nil && !*req.Maximal {
		opts = append(opts, novelty.WithoutMaximalFilter())
	}

	candidates, err := n.scorer.Score(r.Context(), generated, reference, opts...)
	if err != nil {
		n.logger.Error("Scoring run failed", "generated", req.Generated, "reference", req.Reference, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Scoring failed: %v", err))
		return
	}

	respondWithJSON(w, http.StatusOK, ScoreResponse{
		Candidates: candidates,
		Stages:     n.scorer.Stages(),
	})
}

func (n *NoveltyAPI) respondCorpusError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Corpus '%s' not found", name))
		return
	}
	n.logger.Error("Failed to look up corpus", "name", name, "error", err)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
}
