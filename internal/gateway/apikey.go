// Credential handlers.
package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/auth"
	"github.com/modguard/filter-gateway/internal/storage"
)

// handleAPIKeyIssue returns the caller IP's active credential, minting one
// on first contact.
func (g *Gateway) handleAPIKeyIssue(w http.ResponseWriter, r *http.Request) {
	cred, err := g.auth.GetOrCreate(r.Context(), clientIP(r))
	if err != nil {
		log.Error().Err(err).Msg("credential issue failed")
		writeError(w, "could not issue credential", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":       cred.APIKey,
		"userId":    cred.UserID,
		"createdAt": cred.CreatedAt.Format(time.RFC3339),
	})
}

func (g *Gateway) handleAPIKeyRevoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := g.auth.Revoke(r.Context(), body.Key)
	if errors.Is(err, auth.ErrInvalidKey) {
		writeError(w, "unknown api key", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("credential revoke failed")
		writeError(w, "could not revoke credential", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAPIKeyValidate reports whether the presented key is active, with
// its timestamps. Unknown keys answer valid=false rather than an error so
// clients can probe their stored key cheaply.
func (g *Gateway) handleAPIKeyValidate(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r)
	if key == "" {
		writeError(w, "api key required", http.StatusUnauthorized)
		return
	}

	if _, err := g.auth.Validate(r.Context(), key); err != nil {
		if errors.Is(err, auth.ErrInvalidKey) {
			writeJSON(w, http.StatusOK, map[string]any{"valid": false})
			return
		}
		log.Error().Err(err).Msg("credential validation failed")
		writeError(w, "validation unavailable", http.StatusInternalServerError)
		return
	}

	// The cache layers carry only the identity; timestamps come from the
	// credential row.
	cred, err := g.db.CredentialByKey(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("credential lookup failed")
		writeError(w, "validation unavailable", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"valid":     true,
		"userId":    cred.UserID,
		"createdAt": cred.CreatedAt.Format(time.RFC3339),
	}
	if cred.LastUsedAt.Valid {
		resp["lastUsedAt"] = cred.LastUsedAt.Time.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
