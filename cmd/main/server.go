package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/paremia/trawl/pkg/novelty"
	"github.com/paremia/trawl/pkg/phrase"
	"github.com/paremia/trawl/pkg/prompt"
)

// Server wires the phrase store, scorer, prompt engine and all API groups
// behind a single authenticated mux.
type Server struct {
	cm         *ConfigManager
	db         *sql.DB
	logger     *slog.Logger
	store      *phrase.Store
	scorer     *novelty.Scorer
	pm         *prompt.Manager
	slc        *StoplistCache
	authAPI    *AuthAPI
	corpusAPI  *CorpusAPI
	noveltyAPI *NoveltyAPI
	harvestAPI *HarvestAPI
	stopAPI    *StoplistAPI
	promptAPI  *PromptAPI
	serverAPI  *ServerAPI
	apiMux     *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	store, err := phrase.NewStore(db, phrase.NewDefaultTokenizer())
	if err != nil {
		return nil, fmt.Errorf("error creating phrase store: %w", err)
	}
	store.SetLogger(logger)

	slc := NewStoplistCache(db)
	if err = slc.Reload(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load stoplist from db: %w", err)
	}

	scorer := novelty.NewScorer(store, config.Scoring)
	scorer.SetLogger(logger)
	scorer.SetStoplist(slc)
	cm.SetScorer(scorer)

	pm, err := prompt.NewManager(logger, *config.Prompts, config.Server.DataDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create prompt manager: %w", err)
	}
	cm.SetPromptManager(pm)

	// api initialization
	authAPI := NewAuthAPI(db, logger)
	corpusAPI := NewCorpusAPI(store, logger)
	noveltyAPI := NewNoveltyAPI(store, scorer, logger)
	harvestAPI := NewHarvestAPI(db, cm, pm, store, logger)
	stopAPI := NewStoplistAPI(db, slc, logger)
	promptAPI := NewPromptAPI(pm, logger)
	serverAPI := NewServerAPI(cm, actionChan, logger)

	server := &Server{
		cm:         cm,
		db:         db,
		logger:     logger,
		store:      store,
		scorer:     scorer,
		pm:         pm,
		slc:        slc,
		authAPI:    authAPI,
		corpusAPI:  corpusAPI,
		noveltyAPI: noveltyAPI,
		harvestAPI: harvestAPI,
		stopAPI:    stopAPI,
		promptAPI:  promptAPI,
		serverAPI:  serverAPI,
		apiMux:     http.NewServeMux(),
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.corpusAPI.RegisterRoutes(apiMux)
	server.noveltyAPI.RegisterRoutes(apiMux)
	server.harvestAPI.RegisterRoutes(apiMux)
	server.stopAPI.RegisterRoutes(apiMux)
	server.promptAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)

	server.apiMux.Handle("/api/", authedAPI)
	server.apiMux.HandleFunc("/healthz", server.handleHealth)

	return server, nil
}

// handleHealth answers liveness probes without authentication.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := s.db.Ping(); err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Close stops any active harvest run and releases the store's prepared
// statements. The database itself is closed by the run loop.
func (s *Server) Close() {
	s.harvestAPI.Stop()
	s.store.Close()
}
