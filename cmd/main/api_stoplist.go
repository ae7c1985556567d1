package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

const stoplistSchema = `
CREATE TABLE IF NOT EXISTS stoplist (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL CHECK(kind IN ('token', 'phrase')),
    value TEXT NOT NULL UNIQUE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// setupStoplistSchema creates the stoplist table if it doesn't exist.
func setupStoplistSchema(db *sql.DB) error {
	_, err := db.Exec(stoplistSchema)
	if err != nil {
		return fmt.Errorf("failed to create stoplist schema: %w", err)
	}
	return nil
}

// StoplistCache keeps the stoplist in memory so the scorer never touches the
// database on the hot path. Reload repopulates it after any mutation.
type StoplistCache struct {
	mu      sync.RWMutex
	tokens  map[string]struct{}
	phrases map[string]struct{}
	db      *sql.DB
}

// NewStoplistCache creates a stoplist cache backed by the given database.
func NewStoplistCache(db *sql.DB) *StoplistCache {
	return &StoplistCache{
		tokens:  make(map[string]struct{}),
		phrases: make(map[string]struct{}),
		db:      db,
	}
}

// Reload replaces the in-memory sets with the current database contents.
func (sc *StoplistCache) Reload() error {
	rows, err := sc.db.Query("SELECT kind, value FROM stoplist")
	if err != nil {
		return fmt.Errorf("failed to load stoplist: %w", err)
	}
	defer rows.Close()

	tokens := make(map[string]struct{})
	phrases := make(map[string]struct{})
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return fmt.Errorf("failed to scan stoplist row: %w", err)
		}
		switch kind {
		case "token":
			tokens[strings.ToLower(value)] = struct{}{}
		case "phrase":
			phrases[strings.ToLower(value)] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate stoplist rows: %w", err)
	}

	sc.mu.Lock()
	sc.tokens = tokens
	sc.phrases = phrases
	sc.mu.Unlock()
	return nil
}

// Blocked reports whether the phrase matches the stoplist, either as an exact
// phrase entry or by containing any blocked token.
func (sc *StoplistCache) Blocked(phraseText string) bool {
	lowered := strings.ToLower(phraseText)

	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if _, ok := sc.phrases[lowered]; ok {
		return true
	}
	for _, word := range strings.Fields(lowered) {
		if _, ok := sc.tokens[word]; ok {
			return true
		}
	}
	return false
}

// StoplistEntry is one row of the stoplist as returned by the API.
type StoplistEntry struct {
	ID    int    `json:"id"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// StoplistAPI holds the dependencies for the stoplist API handlers.
type StoplistAPI struct {
	db     *sql.DB
	cache  *StoplistCache
	logger *slog.Logger
}

// NewStoplistAPI creates a new instance of the StoplistAPI.
func NewStoplistAPI(db *sql.DB, cache *StoplistCache, logger *slog.Logger) *StoplistAPI {
	return &StoplistAPI{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for the stoplist endpoints.
func (s *StoplistAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stoplist/token", func(w http.ResponseWriter, r *http.Request) {
		s.handleStoplist(w, r, "token")
	})
	mux.HandleFunc("/api/stoplist/phrase", func(w http.ResponseWriter, r *http.Request) {
		s.handleStoplist(w, r, "phrase")
	})
}

type stoplistMutation struct {
	Value string `json:"value"`
}

func (s *StoplistAPI) handleStoplist(w http.ResponseWriter, r *http.Request, kind string) {
	switch r.Method {
	case http.MethodGet:
		if !hasScope(r, "stoplist:read") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'stoplist:read' scope")
			return
		}
		s.listEntries(w, r, kind)
	case http.MethodPost:
		if !hasScope(r, "stoplist:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'stoplist:write' scope")
			return
		}
		s.addEntry(w, r, kind)
	case http.MethodDelete:
		if !hasScope(r, "stoplist:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'stoplist:write' scope")
			return
		}
		s.removeEntry(w, r, kind)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *StoplistAPI) listEntries(w http.ResponseWriter, r *http.Request, kind string) {
	rows, err := s.db.QueryContext(r.Context(), "SELECT id, kind, value FROM stoplist WHERE kind = ? ORDER BY value", kind)
	if err != nil {
		s.logger.Error("Failed to query stoplist", "kind", kind, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to query stoplist")
		return
	}
	defer rows.Close()

	entries := []StoplistEntry{}
	for rows.Next() {
		var e StoplistEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Value); err != nil {
			s.logger.Error("Failed to scan stoplist entry", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to read stoplist")
			return
		}
		entries = append(entries, e)
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (s *StoplistAPI) addEntry(w http.ResponseWriter, r *http.Request, kind string) {
	var req stoplistMutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	value := strings.ToLower(strings.TrimSpace(req.Value))
	if value == "" {
		respondWithError(w, http.StatusBadRequest, "Value cannot be empty")
		return
	}
	if kind == "token" && strings.ContainsAny(value, " \t") {
		respondWithError(w, http.StatusBadRequest, "Token entries cannot contain whitespace")
		return
	}

	var id int
	err := s.db.QueryRowContext(r.Context(),
		"INSERT INTO stoplist (kind, value) VALUES (?, ?) RETURNING id", kind, value).Scan(&id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			respondWithError(w, http.StatusConflict, "Entry already exists")
			return
		}
		s.logger.Error("Failed to insert stoplist entry", "kind", kind, "value", value, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to insert entry")
		return
	}

	if err := s.cache.Reload(); err != nil {
		s.logger.Error("Failed to reload stoplist cache", "error", err)
	}
	respondWithJSON(w, http.StatusCreated, StoplistEntry{ID: id, Kind: kind, Value: value})
}

func (s *StoplistAPI) removeEntry(w http.ResponseWriter, r *http.Request, kind string) {
	var req stoplistMutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	value := strings.ToLower(strings.TrimSpace(req.Value))

	result, err := s.db.ExecContext(r.Context(), "DELETE FROM stoplist WHERE kind = ? AND value = ?", kind, value)
	if err != nil {
		s.logger.Error("Failed to delete stoplist entry", "kind", kind, "value", value, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete entry")
		return
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		respondWithError(w, http.StatusNotFound, "Entry not found")
		return
	}

	if err := s.cache.Reload(); err != nil {
		s.logger.Error("Failed to reload stoplist cache", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
