package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

type tokenRequest struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// IssueToken exchanges client credentials for a short-lived bearer token.
func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !h.bind(w, r, &req) {
		return
	}
	if !h.Clients.Match(req.ClientID, req.ClientSecret) {
		log.Warn().Str("client_id", req.ClientID).Msg("Rejected client credentials")
		respondError(w, http.StatusUnauthorized, "invalid client credentials")
		return
	}

	token, _, err := h.Issuer.IssueDefault(req.ClientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.Issuer.TTL().Seconds()),
	})
}
