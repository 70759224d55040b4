// Package store provides the storage interface and implementations for the
// broker: credentials with their token bundles, conversations, provider
// attachments and message transcripts.
package store

import (
	"context"

	"github.com/credbroker/broker/pkg/models"
)

// Store is the primary storage interface. Every component receives a Store
// by injection; there is no process-wide handle.
type Store interface {
	CredentialStore
	TokenStore
	ConversationStore
	MessageStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── Credential Store ────────────────────────────────────────

type CredentialStore interface {
	ListCredentials(ctx context.Context) ([]models.Credential, error)
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	CreateCredential(ctx context.Context, cred *models.Credential) error
	// DeleteCredential removes the record and its token bundle together.
	DeleteCredential(ctx context.Context, id string) error
}

// ── Token Store ─────────────────────────────────────────────

type TokenStore interface {
	GetTokenBundle(ctx context.Context, credentialID string) (*models.TokenBundle, error)
	// PutTokenBundle replaces the bundle and marks the credential connected
	// in the same write.
	PutTokenBundle(ctx context.Context, bundle *models.TokenBundle) error
	// UpdateAccessToken stores a refreshed access token, keeping the refresh token.
	UpdateAccessToken(ctx context.Context, credentialID, accessToken string, expiry *int64) error
}

// ── Conversation Store ──────────────────────────────────────

type ConversationStore interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	// AttachProvider upserts on (conversation, provider).
	AttachProvider(ctx context.Context, att *models.ProviderAttachment) error
	ListAttachments(ctx context.Context, conversationID string) ([]models.ProviderAttachment, error)
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	// ListMessages returns messages by CreatedAt ascending, insertion order breaking ties.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// ErrNotFound is returned when an entity is not found.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// CredentialMap flattens attachments into provider → credential ID,
// skipping attachments without a credential.
func CredentialMap(atts []models.ProviderAttachment) map[string]string {
	out := make(map[string]string, len(atts))
	for _, a := range atts {
		if a.CredentialID != "" {
			out[a.Provider] = a.CredentialID
		}
	}
	return out
}
