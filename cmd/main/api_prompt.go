package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/paremia/trawl/pkg/prompt"
)

// PromptAPI holds the dependencies for the prompt template API handlers.
type PromptAPI struct {
	pm     *prompt.Manager
	logger *slog.Logger
}

// NewPromptAPI creates a new instance of the PromptAPI.
func NewPromptAPI(pm *prompt.Manager, logger *slog.Logger) *PromptAPI {
	return &PromptAPI{
		pm:     pm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/prompts endpoints.
func (p *PromptAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/prompts/refresh", p.handleRefresh)
	mux.HandleFunc("/api/prompts/test", p.handleTest)
	mux.HandleFunc("/api/prompts/preview", p.handlePreview)
	mux.HandleFunc("/api/prompts", p.handleList)
	mux.HandleFunc("/api/prompts/", p.handleFile)
}

// inputFromQuery builds a template input from the persona and topic query
// parameters, leaving either empty if unset.
func inputFromQuery(r *http.Request) prompt.Input {
	return prompt.Input{
		Persona: r.URL.Query().Get("persona"),
		Topic:   r.URL.Query().Get("topic"),
	}
}

// handleRefresh triggers a manual refresh of prompt templates from disk.
func (p *PromptAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "prompts:write") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'prompts:write' scope")
		return
	}
	if err := p.pm.Refresh(); err != nil {
		p.logger.Error("API triggered prompt refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh prompts: %v", err))
		return
	}
	p.logger.Info("Prompt templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns a list of all available prompt template names.
func (p *PromptAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "prompts:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'prompts:read' scope")
		return
	}
	respondWithJSON(w, http.StatusOK, p.pm.GetTemplateNames())
}

// handleTest validates template syntax without saving the file by executing it as a string.
func (p *PromptAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "prompts:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'prompts:read' scope")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	var buf bytes.Buffer
	err = p.pm.ExecuteTemplateString(&buf, string(body), inputFromQuery(r))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePreview renders a named template with the given persona and topic.
func (p *PromptAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !hasScope(r, "prompts:read") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'prompts:read' scope")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}

	var buf bytes.Buffer
	if err := p.pm.Execute(&buf, name, inputFromQuery(r)); err != nil {
		if strings.Contains(err.Error(), "is undefined") {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
			return
		}
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render preview: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleFile manages CRUD operations for a single prompt template file.
func (p *PromptAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/prompts/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	if strings.Contains(name, "..") || (!strings.HasSuffix(name, ".tmpl.txt") && !strings.HasSuffix(name, ".part.txt")) {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	templateDir, err := filepath.Abs(p.pm.GetTemplateDir())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve template directory")
		return
	}

	path := filepath.Join(templateDir, name)
	absPath, err := filepath.Abs(path)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid path")
		return
	}

	if !strings.HasPrefix(absPath, templateDir) {
		respondWithError(w, http.StatusForbidden, "Access denied: Path outside template directory")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !hasScope(r, "prompts:read") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'prompts:read' scope")
			return
		}
		content, err := os.ReadFile(path)
		if err != nil {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		if !hasScope(r, "prompts:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'prompts:write' scope")
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = os.WriteFile(path, body, 0644); err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write template file: %v", err))
			return
		}
		_ = p.pm.Refresh()
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !hasScope(r, "prompts:write") {
			respondWithError(w, http.StatusForbidden, "Forbidden: requires 'prompts:write' scope")
			return
		}
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template file: %v", err))
			return
		}
		_ = p.pm.Refresh()
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
