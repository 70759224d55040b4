// Package orchestrator runs one chat turn for a conversation:
//
//	append user message → call model with the conversation's tool catalog →
//	if a function call comes back, rewrite its arguments and run it on the
//	tool server → feed the result back to the model → summarize when the
//	follow-up is empty → append exactly one assistant message.
//
// Model, policy and tool failures never abort a turn; they end up in the
// assistant message. Only store errors are returned.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/credbroker/broker/internal/auth"
	"github.com/credbroker/broker/internal/catalog"
	"github.com/credbroker/broker/internal/gemini"
	"github.com/credbroker/broker/internal/jsonsafe"
	"github.com/credbroker/broker/internal/policy"
	"github.com/credbroker/broker/internal/store"
	"github.com/credbroker/broker/internal/toolclient"
	"github.com/credbroker/broker/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BearerSubject is the subject of the short-lived token minted for each turn.
const BearerSubject = "app-server"

const (
	noResponse = "(no response)"
	noSummary  = "(no summary)"
)

var tracer = otel.Tracer("broker/orchestrator")

// ModelClient is the generative model as seen by a turn.
type ModelClient interface {
	Generate(ctx context.Context, prompt string) gemini.Result
	GenerateWithTools(ctx context.Context, prompt string, decls []models.ToolDeclaration) gemini.Result
	GenerateWithFunctionResult(ctx context.Context, prompt string, call models.FunctionCall, response map[string]any, decls []models.ToolDeclaration) gemini.Result
	ContinuationPlaceholder() string
}

// ToolCaller runs one tool on the tool server.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any, bearer string) (*toolclient.Result, error)
}

// TokenIssuer mints the per-turn bearer token.
type TokenIssuer interface {
	Issue(subject string, ttl time.Duration) (string, time.Time, error)
	TTL() time.Duration
}

var _ TokenIssuer = (*auth.Issuer)(nil)

// State is the terminal state a turn reached before its assistant message
// was persisted.
type State string

const (
	StatePlainText       State = "plain_text"
	StateToolFailed      State = "tool_failed"
	StateFollowupText    State = "followup_text"
	StateSummaryFallback State = "summary_fallback"
	StateNoResponse      State = "no_response"
)

// ToolCall records the tool invocation of a turn, if any. Args are the
// rewritten arguments with the bearer token removed.
type ToolCall struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result any            `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// TurnResult is what one turn persisted.
type TurnResult struct {
	State            State           `json:"state"`
	UserMessage      *models.Message `json:"user_message"`
	AssistantMessage *models.Message `json:"assistant_message"`
	Tool             *ToolCall       `json:"tool,omitempty"`
	LatencyMs        int64           `json:"latency_ms"`
}

// Options tunes an Orchestrator.
type Options struct {
	// ToolTimeout bounds each tool call. Zero means no extra bound.
	ToolTimeout time.Duration
	// SummaryLanguage is the language asked for in the fallback summary.
	SummaryLanguage string
}

// Orchestrator drives chat turns.
type Orchestrator struct {
	store  store.Store
	models ModelResolver
	tools  ToolCaller
	issuer TokenIssuer
	opts   Options
	now    func() time.Time
}

func New(s store.Store, m ModelResolver, tools ToolCaller, issuer TokenIssuer, opts Options) *Orchestrator {
	if opts.SummaryLanguage == "" {
		opts.SummaryLanguage = "Japanese"
	}
	return &Orchestrator{
		store:  s,
		models: m,
		tools:  tools,
		issuer: issuer,
		opts:   opts,
		now:    time.Now,
	}
}

// Turn runs one turn for conversationID. An unknown conversation is reported
// as *store.ErrNotFound and nothing is appended.
func (o *Orchestrator) Turn(ctx context.Context, conversationID, prompt string) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("chat.conversation_id", conversationID),
	))
	defer span.End()

	start := time.Now()
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	attachments, err := o.store.ListAttachments(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	userMsg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        prompt,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("append user message: %w", err)
	}

	result := &TurnResult{UserMessage: userMsg}
	content := noResponse
	result.State = StateNoResponse
	model, supported, err := o.models.ModelFor(ctx, conv)
	switch {
	case err != nil:
		// Resolution failures render as model failures.
		span.RecordError(err)
		log.Warn().Err(err).Str("conversation", conversationID).Msg("Model resolution failed")
		result.State = StatePlainText
		content = gemini.Result{Kind: gemini.KindFailure, Error: "model unavailable", Detail: err.Error()}.String()
	case supported:
		if text := o.respond(ctx, model, attachments, prompt, result); text != "" {
			content = text
		}
	default:
		log.Warn().Str("conversation", conversationID).Str("llm_provider", conv.LLMProvider).Msg("Unsupported model provider")
	}

	created := o.now().UTC()
	if created.Before(userMsg.CreatedAt) {
		created = userMsg.CreatedAt
	}
	assistantMsg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        content,
		CreatedAt:      created,
	}
	if err := o.store.AppendMessage(ctx, assistantMsg); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	result.AssistantMessage = assistantMsg
	result.LatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(attribute.String("chat.state", string(result.State)))
	ev := log.Info().
		Str("conversation", conversationID).
		Str("state", string(result.State)).
		Int64("latency_ms", result.LatencyMs)
	if result.Tool != nil {
		ev = ev.Str("tool", result.Tool.Name)
	}
	ev.Msg("Chat turn complete")

	return result, nil
}

// respond computes the assistant text and records the state on result.
func (o *Orchestrator) respond(ctx context.Context, model ModelClient, attachments []models.ProviderAttachment, prompt string, result *TurnResult) string {
	providers := make([]string, 0, len(attachments))
	for _, a := range attachments {
		providers = append(providers, a.Provider)
	}
	decls := catalog.Build(providers)
	trace.SpanFromContext(ctx).SetAttributes(attribute.StringSlice("chat.tools", catalog.Names(decls)))

	first := o.callModel(ctx, "model.generate_with_tools", func(ctx context.Context) gemini.Result {
		return model.GenerateWithTools(ctx, prompt, decls)
	})

	if !first.HasCall() || len(decls) == 0 {
		result.State = StatePlainText
		if first.Text != "" {
			return first.Text
		}
		return first.String()
	}

	call := *first.Call
	if call.ContinuationToken == "" {
		call.ContinuationToken = model.ContinuationPlaceholder()
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	result.Tool = &ToolCall{Name: call.Name}

	// The bearer is minted only once a tool is actually going to be called.
	bearer, _, err := o.issuer.Issue(BearerSubject, o.issuer.TTL())
	if err != nil {
		result.State = StateToolFailed
		result.Tool.Error = err.Error()
		return "Tool authorization failed: " + err.Error()
	}

	args, err := policy.Rewrite(call.Name, call.Args, store.CredentialMap(attachments), bearer)
	if err != nil {
		result.State = StateToolFailed
		result.Tool.Error = err.Error()
		return toolFailed(err)
	}
	result.Tool.Args = redactBearer(args)

	toolResult, err := o.callTool(ctx, call.Name, args, bearer)
	if err != nil {
		result.State = StateToolFailed
		result.Tool.Error = err.Error()
		return toolFailed(err)
	}
	safe := jsonsafe.Convert(toolResult)
	result.Tool.Result = safe

	follow := o.callModel(ctx, "model.generate_with_function_result", func(ctx context.Context) gemini.Result {
		return model.GenerateWithFunctionResult(ctx, prompt, call, map[string]any{"result": safe}, decls)
	})
	if !follow.Failed() && follow.Text != "" {
		result.State = StateFollowupText
		return follow.Text
	}

	result.State = StateSummaryFallback
	compact, err := compactJSON(safe)
	if err != nil {
		return toolFailed(fmt.Errorf("encode tool result: %w", err))
	}
	summaryPrompt := fmt.Sprintf("Summarize the following JSON result for the user in plain %s:\n%s", o.opts.SummaryLanguage, compact)
	summary := o.callModel(ctx, "model.generate", func(ctx context.Context) gemini.Result {
		return model.Generate(ctx, summaryPrompt)
	})
	summaryText := summary.Text
	if summary.Failed() || summaryText == "" {
		summaryText = noSummary
	}
	return summaryText + "\n\n---\nDebug JSON:\n" + prettyJSON(compact)
}

func (o *Orchestrator) callModel(ctx context.Context, name string, fn func(context.Context) gemini.Result) gemini.Result {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	res := fn(ctx)
	span.SetAttributes(attribute.String("model.result_kind", res.Kind.String()))
	if res.Failed() {
		span.SetStatus(codes.Error, res.Error)
		log.Warn().Str("call", name).Str("error", res.Error).Msg("Model call failed")
	}
	return res
}

func (o *Orchestrator) callTool(ctx context.Context, name string, args map[string]any, bearer string) (*toolclient.Result, error) {
	ctx, span := tracer.Start(ctx, "tool.call", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	if o.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ToolTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := o.tools.CallTool(ctx, name, args, bearer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("tool", name).Dur("duration", time.Since(start)).Msg("Tool call failed")
		return nil, err
	}
	log.Debug().Str("tool", name).Dur("duration", time.Since(start)).Msg("Tool call complete")
	return res, nil
}

func toolFailed(err error) string {
	return "Tool call failed: " + err.Error()
}

// compactJSON encodes v without HTML escaping so the text stays readable.
func compactJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func prettyJSON(compact []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return string(compact)
	}
	return buf.String()
}

func redactBearer(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == catalog.ArgBearerToken {
			continue
		}
		out[k] = v
	}
	return out
}
