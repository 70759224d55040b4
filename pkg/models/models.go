package models

import (
	"encoding/json"
	"time"
)

// ── Providers ────────────────────────────────────────────────

const (
	ProviderGoogleCalendar = "google_calendar"
	ProviderGemini         = "gemini"
)

// ── Credentials ──────────────────────────────────────────────

// CredentialStatus tracks whether a credential has usable tokens attached.
type CredentialStatus string

const (
	CredentialStatusDraft     CredentialStatus = "draft"
	CredentialStatusConnected CredentialStatus = "connected"
)

// Credential is a named handle to a set of provider secrets. The secrets
// themselves live in the TokenBundle keyed by the credential ID.
type Credential struct {
	ID        string           `json:"id" db:"id"`
	Provider  string           `json:"provider" db:"provider" validate:"required,oneof=google_calendar gemini"`
	Name      string           `json:"name" db:"name" validate:"required"`
	Status    CredentialStatus `json:"status" db:"status"`
	ClientID  string           `json:"client_id,omitempty" db:"client_id"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// TokenTypeAPIKey marks a bundle whose AccessToken is a static API key.
const TokenTypeAPIKey = "api_key"

// TokenBundle holds the secrets for one credential.
type TokenBundle struct {
	CredentialID string    `json:"credential_id" db:"credential_id"`
	AccessToken  string    `json:"access_token" db:"access_token" validate:"required"`
	RefreshToken string    `json:"refresh_token,omitempty" db:"refresh_token"`
	Expiry       *int64    `json:"expiry,omitempty" db:"expiry"` // epoch seconds
	Scope        string    `json:"scope,omitempty" db:"scope"`
	TokenType    string    `json:"token_type,omitempty" db:"token_type"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ── Conversations ────────────────────────────────────────────

// Conversation is a chat room bound to one model provider.
type Conversation struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name" validate:"required"`
	LLMProvider     string    `json:"llm_provider" db:"llm_provider" validate:"required"`
	LLMCredentialID string    `json:"llm_credential_id,omitempty" db:"llm_credential_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// ProviderAttachment binds a provider (and optionally a credential) to a
// conversation. (ConversationID, Provider) is unique.
type ProviderAttachment struct {
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Provider       string    `json:"provider" db:"provider"`
	CredentialID   string    `json:"credential_id,omitempty" db:"credential_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one immutable entry of a conversation transcript.
type Message struct {
	ID             string      `json:"id" db:"id"`
	ConversationID string      `json:"conversation_id" db:"conversation_id"`
	Role           MessageRole `json:"role" db:"role"`
	Content        string      `json:"content" db:"content"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// ── Tool Calling ─────────────────────────────────────────────

// FunctionCall is the model's request to invoke one tool. It lives for a
// single turn and is never persisted.
type FunctionCall struct {
	Name              string         `json:"name"`
	Args              map[string]any `json:"args,omitempty"`
	ContinuationToken string         `json:"thoughtSignature,omitempty"`
}

// ToolDeclaration describes a callable tool to the model.
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ── MCP Protocol Types ───────────────────────────────────────

type MCPRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

type MCPResponse struct {
	Jsonrpc string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *MCPError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type MCPToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type MCPToolResult struct {
	Content           []MCPContent `json:"content"`
	StructuredContent any          `json:"structuredContent,omitempty"`
	IsError           bool         `json:"isError,omitempty"`
}

type MCPContent struct {
	Type string `json:"type"` // text, image, resource
	Text string `json:"text,omitempty"`
}
