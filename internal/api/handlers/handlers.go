// Package handlers implements the HTTP handlers of the broker's app server:
// the client-credentials token endpoint, the JWT-gated provider API used by
// the tool server, and the admin API for credentials and conversations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/credbroker/broker/internal/auth"
	"github.com/credbroker/broker/internal/gcal"
	"github.com/credbroker/broker/internal/gemini"
	"github.com/credbroker/broker/internal/orchestrator"
	"github.com/credbroker/broker/internal/store"
	"github.com/credbroker/broker/internal/tokens"
	"github.com/go-playground/validator/v10"
)

// ChatService runs one conversation turn.
type ChatService interface {
	Turn(ctx context.Context, conversationID, prompt string) (*orchestrator.TurnResult, error)
}

// TokenSource yields a usable access token for a credential.
type TokenSource interface {
	AccessToken(ctx context.Context, credentialID string) (string, error)
}

var (
	_ ChatService = (*orchestrator.Orchestrator)(nil)
	_ TokenSource = (*tokens.Resolver)(nil)
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Issuer   *auth.Issuer
	Clients  auth.ClientCredentials
	Tokens   TokenSource
	Calendar *gcal.Client
	Gemini   *gemini.Client
	Chat     ChatService

	validate *validator.Validate
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, issuer *auth.Issuer, clients auth.ClientCredentials, tok TokenSource, cal *gcal.Client, gm *gemini.Client, chat ChatService) *Handlers {
	return &Handlers{
		Store:    s,
		Issuer:   issuer,
		Clients:  clients,
		Tokens:   tok,
		Calendar: cal,
		Gemini:   gm,
		Chat:     chat,
		validate: newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes a JSON body into v and validates it. It writes the 400 itself.
func (h *Handlers) bind(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// decodeJSON decodes an optional JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// respondStoreError maps *store.ErrNotFound to 404 and anything else to 500.
func respondStoreError(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, nf.Entity+" not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
