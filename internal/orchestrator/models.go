package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/credbroker/broker/internal/gemini"
	"github.com/credbroker/broker/internal/store"
	"github.com/credbroker/broker/pkg/models"
)

// ModelResolver picks the model client for a conversation. ok is false when
// the conversation's provider is not supported.
type ModelResolver interface {
	ModelFor(ctx context.Context, conv *models.Conversation) (client ModelClient, ok bool, err error)
}

// GeminiResolver serves conversations whose provider is gemini. A stored API
// key on the conversation's model credential takes precedence over the
// configured key.
type GeminiResolver struct {
	base   *gemini.Client
	tokens store.TokenStore
}

func NewGeminiResolver(base *gemini.Client, tokens store.TokenStore) *GeminiResolver {
	return &GeminiResolver{base: base, tokens: tokens}
}

func (r *GeminiResolver) ModelFor(ctx context.Context, conv *models.Conversation) (ModelClient, bool, error) {
	if conv.LLMProvider != models.ProviderGemini {
		return nil, false, nil
	}
	if conv.LLMCredentialID == "" {
		return r.base, true, nil
	}

	bundle, err := r.tokens.GetTokenBundle(ctx, conv.LLMCredentialID)
	var nf *store.ErrNotFound
	switch {
	case errors.As(err, &nf):
		return r.base, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("load model credential: %w", err)
	case bundle.AccessToken == "":
		return r.base, true, nil
	}
	return r.base.WithAPIKey(bundle.AccessToken), true, nil
}

// StaticResolver returns the same client for every conversation. Useful in
// tests and for single-model deployments.
type StaticResolver struct {
	Client ModelClient
}

func (r StaticResolver) ModelFor(context.Context, *models.Conversation) (ModelClient, bool, error) {
	return r.Client, r.Client != nil, nil
}
