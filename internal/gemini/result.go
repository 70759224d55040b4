package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/credbroker/broker/pkg/models"
)

// Kind tags the variant held by a Result.
type Kind int

const (
	KindText Kind = iota
	KindToolCall
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindToolCall:
		return "tool_call"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one generateContent call. Failures are data, not
// Go errors, so a bad model response never aborts a chat turn.
type Result struct {
	Kind Kind

	// Text is the first text part. It may be set alongside a tool call.
	Text string

	// Call is set when Kind is KindToolCall.
	Call *models.FunctionCall

	// Error and Detail describe a KindFailure.
	Error  string
	Detail string

	// Raw is the decoded response body, when one was received.
	Raw map[string]any
}

func failure(msg, detail string) Result {
	return Result{Kind: KindFailure, Error: msg, Detail: detail}
}

// Failed reports whether the call did not produce a usable response.
func (r Result) Failed() bool { return r.Kind == KindFailure }

// HasCall reports whether the model asked for a function call.
func (r Result) HasCall() bool { return r.Kind == KindToolCall && r.Call != nil }

// String renders the whole result for display when no text is available.
// Failures render as their JSON error form.
func (r Result) String() string {
	var v any
	switch r.Kind {
	case KindFailure:
		m := map[string]any{"error": r.Error}
		if r.Detail != "" {
			m["detail"] = r.Detail
		}
		v = m
	default:
		m := map[string]any{"text": r.Text}
		if r.Call != nil {
			m["function_call"] = r.Call
		}
		if r.Raw != nil {
			m["raw"] = r.Raw
		}
		v = m
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// ToPlainValue implements jsonsafe.PlainValuer.
func (r Result) ToPlainValue() any {
	if r.Kind == KindFailure {
		return map[string]any{"error": r.Error, "detail": r.Detail}
	}
	out := map[string]any{"text": r.Text}
	if r.Raw != nil {
		out["raw"] = r.Raw
	}
	return out
}
