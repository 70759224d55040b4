package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/credbroker/broker/internal/store"
	"github.com/credbroker/broker/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Credential Handlers ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type createCredentialRequest struct {
	Provider string `json:"provider" validate:"required,oneof=google_calendar gemini"`
	Name     string `json:"name" validate:"required"`
	ClientID string `json:"client_id,omitempty"`
}

// tokenSummary describes a bundle without exposing its secrets.
type tokenSummary struct {
	HasAccessToken  bool      `json:"has_access_token"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	Expiry          *int64    `json:"expiry,omitempty"`
	Scope           string    `json:"scope,omitempty"`
	TokenType       string    `json:"token_type,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type credentialDetail struct {
	models.Credential
	Token         *tokenSummary `json:"token,omitempty"`
	GeminiKeyTail string        `json:"gemini_key_tail,omitempty"`
}

func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.Store.ListCredentials(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if creds == nil {
		creds = []models.Credential{}
	}
	respondJSON(w, http.StatusOK, creds)
}

// CreateCredential registers a draft credential. It becomes connected once
// a token bundle is stored for it.
func (h *Handlers) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if !h.bind(w, r, &req) {
		return
	}
	now := time.Now().UTC()
	cred := models.Credential{
		ID:        uuid.New().String(),
		Provider:  req.Provider,
		Name:      req.Name,
		Status:    models.CredentialStatusDraft,
		ClientID:  req.ClientID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.CreateCredential(r.Context(), &cred); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("credential", cred.ID).Str("provider", cred.Provider).Msg("Credential created")
	respondJSON(w, http.StatusCreated, cred)
}

func (h *Handlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialId")
	cred, err := h.Store.GetCredential(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	detail := credentialDetail{Credential: *cred}
	bundle, err := h.Store.GetTokenBundle(r.Context(), id)
	var nf *store.ErrNotFound
	switch {
	case err == nil:
		detail.Token = &tokenSummary{
			HasAccessToken:  bundle.AccessToken != "",
			HasRefreshToken: bundle.RefreshToken != "",
			Expiry:          bundle.Expiry,
			Scope:           bundle.Scope,
			TokenType:       bundle.TokenType,
			UpdatedAt:       bundle.UpdatedAt,
		}
		if cred.Provider == models.ProviderGemini && len(bundle.AccessToken) >= 4 {
			detail.GeminiKeyTail = bundle.AccessToken[len(bundle.AccessToken)-4:]
		}
	case !errors.As(err, &nf):
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialId")
	if err := h.Store.DeleteCredential(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("credential", id).Msg("Credential deleted")
	w.WriteHeader(http.StatusNoContent)
}

type geminiKeyRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// SaveGeminiKey stores a static API key for a gemini credential.
func (h *Handlers) SaveGeminiKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialId")
	var req geminiKeyRequest
	if !h.bind(w, r, &req) {
		return
	}
	cred, err := h.Store.GetCredential(r.Context(), id)
	if err != nil || cred.Provider != models.ProviderGemini {
		respondError(w, http.StatusBadRequest, "invalid credential")
		return
	}
	h.putBundle(w, r, &models.TokenBundle{
		CredentialID: id,
		AccessToken:  req.APIKey,
		TokenType:    models.TokenTypeAPIKey,
	})
}

type storeTokenRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresIn is relative to now; Expiry is absolute epoch seconds and wins.
	ExpiresIn int64  `json:"expires_in,omitempty" validate:"gte=0"`
	Expiry    *int64 `json:"expiry,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// StoreToken stores an externally obtained OAuth token bundle.
func (h *Handlers) StoreToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "credentialId")
	var req storeTokenRequest
	if !h.bind(w, r, &req) {
		return
	}
	bundle := &models.TokenBundle{
		CredentialID: id,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Expiry:       req.Expiry,
		Scope:        req.Scope,
		TokenType:    req.TokenType,
	}
	if bundle.Expiry == nil && req.ExpiresIn > 0 {
		exp := time.Now().Unix() + req.ExpiresIn
		bundle.Expiry = &exp
	}
	h.putBundle(w, r, bundle)
}

func (h *Handlers) putBundle(w http.ResponseWriter, r *http.Request, bundle *models.TokenBundle) {
	bundle.UpdatedAt = time.Now().UTC()
	if err := h.Store.PutTokenBundle(r.Context(), bundle); err != nil {
		respondStoreError(w, err)
		return
	}
	cred, err := h.Store.GetCredential(r.Context(), bundle.CredentialID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("credential", cred.ID).Str("token_type", bundle.TokenType).Msg("Credential connected")
	respondJSON(w, http.StatusOK, cred)
}
