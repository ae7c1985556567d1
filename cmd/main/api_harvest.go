package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/paremia/trawl/pkg/harvest"
	"github.com/paremia/trawl/pkg/phrase"
	"github.com/paremia/trawl/pkg/prompt"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    target INTEGER NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    duplicates INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    done BOOLEAN NOT NULL DEFAULT 0,
    output_path TEXT NOT NULL
);
`

// setupRunsSchema creates the harvest run history table if it doesn't exist.
func setupRunsSchema(db *sql.DB) error {
	_, err := db.Exec(runsSchema)
	if err != nil {
		return fmt.Errorf("failed to create harvest runs schema: %w", err)
	}
	return nil
}

// HarvestRun is one row of the run history as returned by the API.
type HarvestRun struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Target     int        `json:"target"`
	Completed  int        `json:"completed"`
	Duplicates int        `json:"duplicates"`
	Errors     int        `json:"errors"`
	Done       bool       `json:"done"`
	OutputPath string     `json:"output_path"`
}

// HarvestAPI holds the dependencies for the harvest API handlers. At most one
// run is active at a time.
type HarvestAPI struct {
	db     *sql.DB
	cm     *ConfigManager
	pm     *prompt.Manager
	store  *phrase.Store
	logger *slog.Logger

	mu     sync.Mutex
	active *harvest.Harvester
	cancel context.CancelFunc
	runID  int64
}

// NewHarvestAPI creates a new instance of the HarvestAPI.
func NewHarvestAPI(db *sql.DB, cm *ConfigManager, pm *prompt.Manager, store *phrase.Store, logger *slog.Logger) *HarvestAPI {
	return &HarvestAPI{
		db:     db,
		cm:     cm,
		pm:     pm,
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for the harvest endpoints.
func (h *HarvestAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/harvest/start", h.handleStart)
	mux.HandleFunc("/api/harvest/stop", h.handleStop)
	mux.HandleFunc("/api/harvest/status", h.handleStatus)
	mux.HandleFunc("/api/harvest/runs", h.handleRuns)
}

// Stop cancels any active run and waits for nothing; the run goroutine
// finalizes its own row. Called during server shutdown.
func (h *HarvestAPI) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
	}
}

// renderPrompt renders the named template, falling back to the configured
// literal when the template is missing or fails.
func (h *HarvestAPI) renderPrompt(name, fallback string) string {
	if name == "" {
		return fallback
	}
	rendered, err := h.pm.Render(name, prompt.Input{})
	if err != nil {
		h.logger.Warn("Prompt template render failed, using configured literal", "template", name, "error", err)
		return fallback
	}
	if strings.TrimSpace(rendered) == "" {
		return fallback
	}
	return rendered
}

func (h *HarvestAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "harvest:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'harvest:write' scope")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil {
		respondWithError(w, http.StatusConflict, "A harvest run is already active")
		return
	}

	cfg := *h.cm.Get().Harvest
	runConfig := cfg.Run
	runConfig.SystemPrompt = h.renderPrompt(cfg.SystemTemplate, runConfig.SystemPrompt)
	runConfig.UserPrompt = h.renderPrompt(cfg.UserTemplate, runConfig.UserPrompt)

	client := harvest.NewClient(cfg.Client)
	client.SetLogger(h.logger)
	harvester := harvest.NewHarvester(client, runConfig)
	harvester.SetLogger(h.logger)

	var runID int64
	err := h.db.QueryRowContext(r.Context(),
		"INSERT INTO harvest_runs (started_at, target, output_path) VALUES (?, ?, ?) RETURNING id",
		time.Now().UTC(), runConfig.Target, runConfig.OutputPath).Scan(&runID)
	if err != nil {
		h.logger.Error("Failed to record harvest run", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to record harvest run")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.active = harvester
	h.cancel = cancel
	h.runID = runID

	go h.runHarvest(ctx, harvester, runID, cfg)

	respondWithJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"target": runConfig.Target,
	})
}

// runHarvest drives a run to completion in the background and finalizes its
// history row, then optionally extracts the output into a corpus.
func (h *HarvestAPI) runHarvest(ctx context.Context, harvester *harvest.Harvester, runID int64, cfg HarvestConfig) {
	err := harvester.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("Harvest run failed", "run_id", runID, "error", err)
	}

	progress := harvester.Snapshot()
	_, dbErr := h.db.Exec(
		"UPDATE harvest_runs SET finished_at = ?, completed = ?, duplicates = ?, errors = ?, done = ? WHERE id = ?",
		time.Now().UTC(), progress.Completed, progress.Duplicates, progress.Errors, progress.Done, runID)
	if dbErr != nil {
		h.logger.Error("Failed to finalize harvest run row", "run_id", runID, "error", dbErr)
	}

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.active = nil
	h.cancel = nil
	h.mu.Unlock()

	h.logger.Info("Harvest run finished",
		"run_id", runID, "completed", progress.Completed,
		"duplicates", progress.Duplicates, "errors", progress.Errors, "done", progress.Done)

	if err == nil && progress.Done && cfg.AutoExtract {
		if extractErr := h.extractOutput(context.Background(), cfg); extractErr != nil {
			h.logger.Error("Auto-extract of harvest output failed", "run_id", runID, "error", extractErr)
		}
	}
}

// extractOutput counts the completed output file into the configured corpus,
// creating the corpus on first use.
func (h *HarvestAPI) extractOutput(ctx context.Context, cfg HarvestConfig) error {
	corpus, err := h.store.GetCorpusInfo(ctx, cfg.ExtractCorpus)
	if errors.Is(err, sql.ErrNoRows) {
		corpus = phrase.CorpusInfo{Name: cfg.ExtractCorpus, Kind: phrase.KindGenerated, MinN: 2, MaxN: 20}
		if err = h.store.InsertCorpus(ctx, corpus); err != nil {
			return fmt.Errorf("failed to create extract corpus: %w", err)
		}
		if corpus, err = h.store.GetCorpusInfo(ctx, cfg.ExtractCorpus); err != nil {
			return fmt.Errorf("failed to reload extract corpus: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up extract corpus: %w", err)
	}

	data, err := os.ReadFile(cfg.Run.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to read harvest output: %w", err)
	}
	var proverbs []string
	if err := json.Unmarshal(data, &proverbs); err != nil {
		return fmt.Errorf("failed to parse harvest output: %w", err)
	}

	stats, err := h.store.Extract(ctx, corpus, strings.NewReader(strings.Join(proverbs, "\n")))
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	h.logger.Info("Harvest output extracted",
		"corpus", corpus.Name, "sentences", stats.Sentences, "tokens", stats.Tokens, "windows", stats.Windows)
	return nil
}

func (h *HarvestAPI) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "harvest:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'harvest:write' scope")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		respondWithError(w, http.StatusConflict, "No harvest run is active")
		return
	}
	h.cancel()
	respondWithJSON(w, http.StatusAccepted, map[string]any{"run_id": h.runID})
}

func (h *HarvestAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "harvest:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'harvest:read' scope")
		return
	}

	h.mu.Lock()
	active := h.active
	runID := h.runID
	h.mu.Unlock()

	if active == nil {
		respondWithJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"active":   true,
		"run_id":   runID,
		"progress": active.Snapshot(),
	})
}

func (h *HarvestAPI) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "harvest:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'harvest:read' scope")
		return
	}

	rows, err := h.db.QueryContext(r.Context(),
		"SELECT id, started_at, finished_at, target, completed, duplicates, errors, done, output_path FROM harvest_runs ORDER BY id DESC LIMIT 100")
	if err != nil {
		h.logger.Error("Failed to query harvest runs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to query harvest runs")
		return
	}
	defer rows.Close()

	runs := []HarvestRun{}
	for rows.Next() {
		var run HarvestRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.StartedAt, &finished, &run.Target,
			&run.Completed, &run.Duplicates, &run.Errors, &run.Done, &run.OutputPath); err != nil {
			h.logger.Error("Failed to scan harvest run row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to read harvest runs")
			return
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	respondWithJSON(w, http.StatusOK, runs)
}
