package types

import (
	"encoding/json"
	"time"
)

// Citation is one source attached to an agent result.
type Citation struct {
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source"` // tool or dataset name
}

// Recommendation is one structured, actionable item inside an agent
// result, kept separate from the free text so the synthesizer can
// deduplicate across experts.
type Recommendation struct {
	Text     string     `json:"text"`
	Severity string     `json:"severity,omitempty"` // info/advice/warning
	Sources  []Citation `json:"sources,omitempty"`
}

// AgentResult is the output of one expert for one query. It is
// immutable once produced; the synthesizer only reads it.
type AgentResult struct {
	Role            AgentRole        `json:"role"`
	Text            string           `json:"text"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Citations       []Citation       `json:"citations,omitempty"`
	Confidence      float64          `json:"confidence"`
	Duration        time.Duration    `json:"duration"`
}

// FailureKind classifies a failed tool invocation.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureCircuitOpen FailureKind = "circuit_open"
	FailureToolError   FailureKind = "tool_error"
	FailureCancelled   FailureKind = "cancelled"
)

// ToolInvocation records one call to a domain tool. The result fields
// are written exactly once, either Result or (Failure, Error).
type ToolInvocation struct {
	ID       string          `json:"id"`
	Tool     string          `json:"tool"`
	Input    json.RawMessage `json:"input,omitempty"`
	StartAt  time.Time       `json:"start_at"`
	Duration time.Duration   `json:"duration"`
	Result   json.RawMessage `json:"result,omitempty"`
	Failure  FailureKind     `json:"failure,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// OK reports whether the invocation succeeded.
func (ti ToolInvocation) OK() bool { return ti.Failure == "" && ti.Error == "" }

// FinalAnswer is the synthesized, ranked, conflict-resolved answer for
// one query.
type FinalAnswer struct {
	QueryID string `json:"query_id"`
	Text    string `json:"text"`
	// Contributors lists the expert roles whose results survived
	// synthesis, in the order their content appears in Text.
	Contributors []AgentRole      `json:"contributors"`
	Citations    []Citation       `json:"citations,omitempty"`
	Sections     []AnswerSection  `json:"sections,omitempty"`
	Degraded     bool             `json:"degraded,omitempty"` // deadline hit, partial results only
	Duration     time.Duration    `json:"duration"`
}

// AnswerSection is one expert's contribution inside the final answer.
type AnswerSection struct {
	Role       AgentRole  `json:"role"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Citations  []Citation `json:"citations,omitempty"`
}
