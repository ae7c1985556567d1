package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/paremia/trawl/pkg/phrase"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const defaultWordList = `forums
feeds
timelines
threads
comment sections
group chats
marketplaces
livestreams
`

const defaultSystemTemplate = `You are {{if .Persona}}{{.Persona}}{{else}}a wizened online denizen{{end}} and a person who crafts pithy proverbs about modern life.`

const defaultUserTemplate = `Create a proverb about {{if .Topic}}{{.Topic}}{{else}}life{{end}}, especially as it occurs on the internet in social media, online {{randomWord}}, and other venues. Every proverb you generate must be a single, complete sentence up to 100 tokens.`

// ensureDataFiles creates the data directory layout the prompt manager
// expects, seeding default files the same way missing config is seeded.
func ensureDataFiles(dataDir string) error {
	promptDir := filepath.Join(dataDir, "prompts")
	if err := os.MkdirAll(promptDir, 0755); err != nil {
		return err
	}
	defaults := map[string]string{
		filepath.Join(dataDir, "wordlist.txt"):      defaultWordList,
		filepath.Join(promptDir, "system.tmpl.txt"): defaultSystemTemplate,
		filepath.Join(promptDir, "user.tmpl.txt"):   defaultUserTemplate,
	}
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			break
		}

		if action == actionRestart {
			baseLogger.Info("--- Server Restarting ---")
			continue
		} else {
			break
		}
	}

	baseLogger.Info("Trawl has shut down.")
}

// run is the main loop that hosts the API server, and returns whenever the
// server is shutdown or restarted
func run(actionChan chan string) (string, error) {

	cm, err := NewConfigManager("./config.json")
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	var logLevel slog.Level
	switch strings.ToLower(config.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...")

	if err = ensureDataFiles(config.Server.DataDir); err != nil {
		return "", fmt.Errorf("failed to prepare data directory: %w", err)
	}

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	if err = phrase.SetupSchema(db); err != nil {
		logger.Error("Failed to setup phrase schema", "error", err)
	}
	if err = setupAuthSchema(db); err != nil {
		logger.Error("Failed to setup auth schema", "error", err)
	}
	if err = setupStoplistSchema(db); err != nil {
		logger.Error("Failed to setup stoplist schema", "error", err)
	}
	if err = setupRunsSchema(db); err != nil {
		logger.Error("Failed to setup harvest runs schema", "error", err)
	}

	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr}

	server, err := NewServer(cm, logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	apiHttpServer.Handler = server.apiMux

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	server.Close()

	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}
