package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const (
	apiKeyHeader = "trawl-auth"
	apiKeyPrefix = "trawl_"
	masterScope  = "*"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id          INTEGER PRIMARY KEY,
    key_hash    TEXT    NOT NULL UNIQUE,
    scopes      TEXT    NOT NULL,
    description TEXT    NOT NULL
);
`

// knownScopes is the full permission catalog. Key creation validates against
// it so a typo'd scope fails loudly instead of silently never matching.
var knownScopes = []string{
	"corpus:read", "corpus:write",
	"novelty:read",
	"harvest:read", "harvest:write",
	"stoplist:read", "stoplist:write",
	"prompts:read", "prompts:write",
	"server:config", "server:control",
	"auth:manage",
}

// rolePresets are shorthand scope bundles for the usual key holders: an
// observer watches corpora and runs, a curator additionally maintains the
// data, and an admin holds everything.
var rolePresets = map[string][]string{
	"observer": {"corpus:read", "novelty:read", "harvest:read", "stoplist:read", "prompts:read"},
	"curator": {"corpus:read", "corpus:write", "novelty:read", "harvest:read", "harvest:write",
		"stoplist:read", "stoplist:write", "prompts:read", "prompts:write"},
	"admin": {masterScope},
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

type contextKey string

const contextKeyPermissions = contextKey("permissions")

// Permissions is the scope set attached to an authenticated request.
type Permissions struct {
	ScopeSet map[string]struct{}
}

// AuthAPI manages API keys and provides the authentication middleware the
// rest of the API sits behind.
type AuthAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{db: db, logger: logger}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/scopes", a.handleScopes)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
}

// APIKeyInfo describes a stored key. The raw key itself is only ever shown
// once, at creation.
type APIKeyInfo struct {
	ID          int      `json:"id"`
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyRequest mints a key either from an explicit scope list or from a
// named role preset.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes,omitempty"`
	Role        string   `json:"role,omitempty"`
	Description string   `json:"description"`
}

type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

// Authenticate wraps a handler with key authentication from the trawl-auth
// header. A database with no keys at all leaves the API open, so a fresh
// install can mint its first key; that first key is always created with the
// master scope.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, err := a.keyCount(r.Context())
		if err != nil {
			a.logger.Error("Could not count API keys during authentication", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Authentication unavailable")
			return
		}
		if count == 0 {
			next.ServeHTTP(w, r.WithContext(withPermissions(r.Context(), masterScope)))
			return
		}

		rawKey := r.Header.Get(apiKeyHeader)
		if rawKey == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing "+apiKeyHeader+" header")
			return
		}

		var scopesStr string
		err = a.db.QueryRowContext(r.Context(),
			"SELECT scopes FROM api_keys WHERE key_hash = ?", hashAPIKey(rawKey)).Scan(&scopesStr)
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusUnauthorized, "Unknown API key")
			return
		}
		if err != nil {
			a.logger.Error("Could not look up API key", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Authentication unavailable")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPermissions(r.Context(), strings.Split(scopesStr, " ")...)))
	})
}

func (a *AuthAPI) keyCount(ctx context.Context) (int, error) {
	var count int
	err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&count)
	return count, err
}

func withPermissions(ctx context.Context, scopes ...string) context.Context {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return context.WithValue(ctx, contextKeyPermissions, &Permissions{ScopeSet: set})
}

// handleCheckMe echoes the scopes of the presented key, which is the easiest
// way for a client to find out what it is allowed to do.
func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}

	scopes := make([]string, 0, len(perms.ScopeSet))
	for s := range perms.ScopeSet {
		scopes = append(scopes, s)
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"scopes": scopes})
}

// handleScopes lists the scope catalog and the role presets.
func (a *AuthAPI) handleScopes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"scopes": knownScopes,
		"roles":  rolePresets,
	})
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listKeys(w, r)
	case http.MethodPost:
		a.createKey(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID in URL")
		return
	}

	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	a.deleteKey(w, r, id)
}

func (a *AuthAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	if !hasScope(r, "auth:manage") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'auth:manage' scope")
		return
	}

	rows, err := a.db.QueryContext(r.Context(), "SELECT id, scopes, description FROM api_keys ORDER BY id")
	if err != nil {
		a.logger.Error("Could not list API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}
	defer rows.Close()

	keys := []APIKeyInfo{}
	for rows.Next() {
		var key APIKeyInfo
		var scopesStr string
		if err = rows.Scan(&key.ID, &scopesStr, &key.Description); err != nil {
			a.logger.Error("Could not scan API key row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to list keys")
			return
		}
		key.Scopes = strings.Split(scopesStr, " ")
		keys = append(keys, key)
	}
	respondWithJSON(w, http.StatusOK, keys)
}

// resolveScopes turns a creation request into the scope list to store,
// expanding a role preset and rejecting scopes outside the catalog.
func resolveScopes(req CreateKeyRequest) ([]string, error) {
	if req.Role != "" {
		if len(req.Scopes) > 0 {
			return nil, errors.New("give either 'role' or 'scopes', not both")
		}
		preset, ok := rolePresets[req.Role]
		if !ok {
			return nil, fmt.Errorf("unknown role %q", req.Role)
		}
		return preset, nil
	}

	if len(req.Scopes) == 0 {
		return nil, errors.New("a 'role' or a non-empty 'scopes' list is required")
	}
	valid := make(map[string]struct{}, len(knownScopes)+1)
	valid[masterScope] = struct{}{}
	for _, s := range knownScopes {
		valid[s] = struct{}{}
	}
	for _, s := range req.Scopes {
		if _, ok := valid[s]; !ok {
			return nil, fmt.Errorf("unknown scope %q", s)
		}
	}
	return req.Scopes, nil
}

func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	count, err := a.keyCount(r.Context())
	if err != nil {
		a.logger.Error("Could not count API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create key")
		return
	}

	var scopes []string
	if count == 0 {
		// The very first key gets the master scope no matter what was
		// requested, so the install cannot lock itself out.
		scopes = []string{masterScope}
	} else {
		if scopes, err = resolveScopes(req); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		a.logger.Error("Could not generate API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Key generation failed")
		return
	}

	var id int
	err = a.db.QueryRowContext(r.Context(),
		"INSERT INTO api_keys (key_hash, scopes, description) VALUES (?, ?, ?) RETURNING id",
		hashAPIKey(rawKey), strings.Join(scopes, " "), req.Description).Scan(&id)
	if err != nil {
		a.logger.Error("Could not store API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create key")
		return
	}

	a.logger.Info("API key created", "id", id, "scopes", strings.Join(scopes, " "))
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{ID: id, RawKey: rawKey, Scopes: scopes})
}

func (a *AuthAPI) deleteKey(w http.ResponseWriter, r *http.Request, id int) {
	if !hasScope(r, "auth:manage") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'auth:manage' scope")
		return
	}
	// Key 1 is the bootstrap master key; deleting it would re-open the API.
	if id == 1 {
		respondWithError(w, http.StatusBadRequest, "The bootstrap master key cannot be deleted")
		return
	}

	res, err := a.db.ExecContext(r.Context(), "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		a.logger.Error("Could not delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}

	a.logger.Info("API key deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// hasScope reports whether the request's key carries the required scope or
// the master scope.
func hasScope(r *http.Request, requiredScope string) bool {
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		return false
	}
	if _, master := perms.ScopeSet[masterScope]; master {
		return true
	}
	_, has := perms.ScopeSet[requiredScope]
	return has
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		// The status line is already out, so an encode failure here can
		// only be dropped.
		_ = json.NewEncoder(w).Encode(payload)
	}
}
