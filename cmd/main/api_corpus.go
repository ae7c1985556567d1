package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/paremia/trawl/pkg/phrase"
)

// CorpusAPI holds the dependencies for the corpus API handlers.
type CorpusAPI struct {
	store  *phrase.Store
	logger *slog.Logger
}

// NewCorpusAPI creates a new instance of the CorpusAPI.
func NewCorpusAPI(store *phrase.Store, logger *slog.Logger) *CorpusAPI {
	return &CorpusAPI{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/corpora endpoints.
func (c *CorpusAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/corpora", c.handleListAndCreateCorpora)
	mux.HandleFunc("/api/corpora/", c.handleCorpusByName)
	mux.HandleFunc("/api/corpora/import", c.handleImport)
	mux.HandleFunc("/api/vocabulary/prune", c.handleVocabPrune)
	mux.HandleFunc("/api/stats", c.handleStats)
}

type CreateCorpusRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	MinN int    `json:"min_n"`
	MaxN int    `json:"max_n"`
}

type PruneRequest struct {
	MinFreq int `json:"min_freq"`
}

// TopPhraseEntry is one decoded row of a top-phrases response.
type TopPhraseEntry struct {
	Phrase    string `json:"phrase"`
	N         int    `json:"n"`
	Frequency int    `json:"frequency"`
}

// handleListAndCreateCorpora handles GET for listing and POST for creating corpora.
func (c *CorpusAPI) handleListAndCreateCorpora(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !hasScope(r, "corpus:read") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:read' scope")
			return
		}
		corpora, err := c.store.GetCorpusInfos(r.Context())
		if err != nil {
			c.logger.Error("Failed to get corpus infos", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve corpora: %v", err))
			return
		}
		// Convert map to slice for consistent JSON output
		corpusList := make([]phrase.CorpusInfo, 0, len(corpora))
		for _, corpus := range corpora {
			corpusList = append(corpusList, corpus)
		}
		respondWithJSON(w, http.StatusOK, corpusList)

	case http.MethodPost:
		if !hasScope(r, "corpus:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:write' scope")
			return
		}
		var req CreateCorpusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}

		corpus := phrase.CorpusInfo{Name: req.Name, Kind: req.Kind, MinN: req.MinN, MaxN: req.MaxN}
		if err := corpus.Validate(); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := c.store.InsertCorpus(r.Context(), corpus); err != nil {
			c.logger.Error("Failed to insert new corpus", "name", req.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create corpus: %v", err))
			return
		}
		newCorpus, err := c.store.GetCorpusInfo(r.Context(), req.Name)
		if err != nil {
			c.logger.Error("Failed to retrieve newly created corpus", "name", req.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to verify corpus creation: %v", err))
			return
		}
		respondWithJSON(w, http.StatusCreated, newCorpus)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCorpusByName routes actions for a specific corpus, e.g., extract, top, prune, export, delete.
func (c *CorpusAPI) handleCorpusByName(w http.ResponseWriter, r *http.Request) {

	path := strings.TrimPrefix(r.URL.Path, "/api/corpora/")
	parts := strings.Split(path, "/")
	corpusName := parts[0]

	if corpusName == "" {
		respondWithError(w, http.StatusBadRequest, "Corpus name not specified")
		return
	}
	if corpusName == "import" {
		c.handleImport(w, r)
		return
	}

	corpus, err := c.store.GetCorpusInfo(r.Context(), corpusName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Corpus not found")
			return
		}
		c.logger.Error("Failed to get corpus info by name", "name", corpusName, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}

	if len(parts) == 1 { // Path is just /api/corpora/{name}
		switch r.Method {
		case http.MethodGet:
			if !hasScope(r, "corpus:read") {
				respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:read' scope")
				return
			}
			respondWithJSON(w, http.StatusOK, corpus)
		case http.MethodDelete:
			if !hasScope(r, "corpus:write") {
				respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:write' scope")
				return
			}
			if err = c.store.RemoveCorpus(r.Context(), corpus); err != nil {
				c.logger.Error("Failed to remove corpus", "name", corpusName, "error", err)
				respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove corpus: %v", err))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	action := parts[1]
	switch action {
	case "extract":
		c.extractCorpus(w, r, corpus)
	case "top":
		c.topPhrases(w, r, corpus)
	case "prune":
		c.pruneCorpus(w, r, corpus)
	case "export":
		c.exportCorpus(w, r, corpus)
	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

// extractCorpus counts the n-gram windows of the raw text request body into the corpus.
func (c *CorpusAPI) extractCorpus(w http.ResponseWriter, r *http.Request, corpus phrase.CorpusInfo) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "corpus:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:write' scope")
		return
	}

	stats, err := c.store.Extract(r.Context(), corpus, r.Body)
	if err != nil {
		c.logger.Error("Failed to extract into corpus", "name", corpus.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Extraction failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusAccepted, stats)
}

// topPhrases returns the most frequent phrases of the corpus, decoded to text.
func (c *CorpusAPI) topPhrases(w http.ResponseWriter, r *http.Request, corpus phrase.CorpusInfo) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "corpus:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:read' scope")
		return
	}

	q := phrase.TopQuery{
		MinN:    queryInt(r, "min_n"),
		MaxN:    queryInt(r, "max_n"),
		MinFreq: queryInt(r, "min_freq"),
		Limit:   queryInt(r, "limit"),
	}
	counts, err := c.store.TopPhrases(r.Context(), corpus, q)
	if err != nil {
		c.logger.Error("Failed to query top phrases", "name", corpus.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}

	entries := make([]TopPhraseEntry, 0, len(counts))
	for _, pc := range counts {
		text, err := c.store.PhraseText(r.Context(), pc.Key)
		if err != nil {
			c.logger.Error("Failed to decode phrase key", "key", pc.Key, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to decode phrase")
			return
		}
		entries = append(entries, TopPhraseEntry{Phrase: text, N: pc.N, Frequency: pc.Frequency})
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// pruneCorpus drops low-frequency counts from the corpus.
func (c *CorpusAPI) pruneCorpus(w http.ResponseWriter, r *http.Request, corpus phrase.CorpusInfo) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "corpus:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:write' scope")
		return
	}
	var req PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if err := c.store.PruneCorpus(r.Context(), corpus, req.MinFreq); err != nil {
		c.logger.Error("Failed to prune corpus", "name", corpus.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Pruning failed: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportCorpus streams the corpus as a portable JSON document.
func (c *CorpusAPI) exportCorpus(w http.ResponseWriter, r *http.Request, corpus phrase.CorpusInfo) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "corpus:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:read' scope")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", corpus.Name))
	if err := c.store.ExportCorpus(r.Context(), corpus, w); err != nil {
		c.logger.Error("Failed to export corpus", "name", corpus.Name, "error", err)
	}
}

// handleImport imports a corpus from an uploaded JSON file, merging counts if
// a corpus of the same name already exists.
func (c *CorpusAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "corpus:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:write' scope")
		return
	}

	if err := c.store.ImportCorpus(r.Context(), r.Body); err != nil {
		c.logger.Error("Failed to import corpus", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Import failed: %v", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleVocabPrune performs a global vocabulary prune.
func (c *CorpusAPI) handleVocabPrune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "corpus:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:write' scope")
		return
	}
	var req PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body for min_freq")
		return
	}
	if err := c.store.VocabularyPrune(r.Context(), req.MinFreq); err != nil {
		c.logger.Error("Failed to prune vocabulary", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Vocabulary prune failed: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns a database-wide summary across all corpora.
func (c *CorpusAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "corpus:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'corpus:read' scope")
		return
	}
	stats, err := c.store.GetStats(r.Context())
	if err != nil {
		c.logger.Error("Failed to gather database stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to gather stats: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// queryInt parses an integer query parameter, returning 0 when absent or malformed.
func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
