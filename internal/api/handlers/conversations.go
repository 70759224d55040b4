package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/credbroker/broker/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Conversation Handlers ────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type createConversationRequest struct {
	Name            string `json:"name" validate:"required"`
	LLMProvider     string `json:"llm_provider" validate:"required"`
	LLMCredentialID string `json:"llm_credential_id,omitempty"`
	// Providers maps provider name to credential ID. An empty ID attaches the
	// provider without a credential.
	Providers map[string]string `json:"providers,omitempty"`
}

type conversationDetail struct {
	models.Conversation
	Providers []models.ProviderAttachment `json:"providers"`
	Messages  []models.Message            `json:"messages"`
}

func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Store.ListConversations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	respondJSON(w, http.StatusOK, convs)
}

func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !h.bind(w, r, &req) {
		return
	}
	now := time.Now().UTC()
	conv := models.Conversation{
		ID:              uuid.New().String(),
		Name:            req.Name,
		LLMProvider:     req.LLMProvider,
		LLMCredentialID: req.LLMCredentialID,
		CreatedAt:       now,
	}
	if err := h.Store.CreateConversation(r.Context(), &conv); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	providers := make([]string, 0, len(req.Providers))
	for p := range req.Providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		att := &models.ProviderAttachment{
			ConversationID: conv.ID,
			Provider:       p,
			CredentialID:   req.Providers[p],
			CreatedAt:      now,
		}
		if err := h.Store.AttachProvider(r.Context(), att); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	log.Info().Str("conversation", conv.ID).Str("llm_provider", conv.LLMProvider).Int("providers", len(providers)).Msg("Conversation created")
	h.writeConversation(w, r, conv.ID, http.StatusCreated)
}

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	h.writeConversation(w, r, chi.URLParam(r, "conversationId"), http.StatusOK)
}

func (h *Handlers) writeConversation(w http.ResponseWriter, r *http.Request, id string, status int) {
	conv, err := h.Store.GetConversation(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	atts, err := h.Store.ListAttachments(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	msgs, err := h.Store.ListMessages(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if atts == nil {
		atts = []models.ProviderAttachment{}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	respondJSON(w, status, conversationDetail{Conversation: *conv, Providers: atts, Messages: msgs})
}

type attachRequest struct {
	CredentialID string `json:"credential_id"`
}

// AttachProvider binds a provider to the conversation, replacing any
// existing attachment for it.
func (h *Handlers) AttachProvider(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	att := &models.ProviderAttachment{
		ConversationID: chi.URLParam(r, "conversationId"),
		Provider:       chi.URLParam(r, "provider"),
		CredentialID:   req.CredentialID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.AttachProvider(r.Context(), att); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, att)
}

type messageRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

// PostMessage runs one chat turn and returns the persisted exchange.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.bind(w, r, &req) {
		return
	}
	res, err := h.Chat.Turn(r.Context(), chi.URLParam(r, "conversationId"), req.Prompt)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}
