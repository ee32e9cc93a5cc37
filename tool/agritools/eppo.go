package agritools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/agrosense/agrosense/tool"
)

// EppoName is the registry key of the EPPO code lookup tool.
const EppoName = "eppo_lookup"

// EppoInput looks up pests, diseases and plants in the EPPO database.
type EppoInput struct {
	Query string `json:"query"`
	// Kind filters the result type: "pest", "disease", "plant" or ""
	// for any.
	Kind string `json:"kind,omitempty"`
}

// EppoEntry is one EPPO database match.
type EppoEntry struct {
	Code          string   `json:"code"`
	PreferredName string   `json:"preferred_name"`
	OtherNames    []string `json:"other_names,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	Hosts         []string `json:"hosts,omitempty"`
}

// EppoOutput is the tool result payload.
type EppoOutput struct {
	Entries []EppoEntry `json:"entries"`
}

// EppoTool wraps the EPPO global database search API.
type EppoTool struct {
	baseURL string
	apiKey  string
	client  httpDoer
}

// NewEppoTool creates the EPPO tool against baseURL.
func NewEppoTool(baseURL, apiKey string) *EppoTool {
	return &EppoTool{baseURL: baseURL, apiKey: apiKey, client: defaultClient()}
}

func (t *EppoTool) Name() string { return EppoName }

func (t *EppoTool) Timeout() time.Duration { return 10 * time.Second }

func (t *EppoTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        EppoName,
		Description: "Look up pests, diseases and plants in the EPPO database",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"kind": {"type": "string", "enum": ["pest", "disease", "plant", ""]}
			},
			"required": ["query"]
		}`),
		Version: "1",
	}
}

func (t *EppoTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in EppoInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("eppo input: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("eppo input: query required")
	}

	params := url.Values{}
	params.Set("kw", in.Query)
	if in.Kind != "" {
		params.Set("searchfor", in.Kind)
	}
	if t.apiKey != "" {
		params.Set("authtoken", t.apiKey)
	}

	var raw []struct {
		EppoCode string `json:"eppocode"`
		FullName string `json:"fullname"`
		Type     string `json:"type"`
	}
	if err := fetchJSON(ctx, t.client, t.baseURL+"/api/search", params, &raw); err != nil {
		return nil, err
	}

	out := EppoOutput{}
	for _, e := range raw {
		out.Entries = append(out.Entries, EppoEntry{
			Code:          e.EppoCode,
			PreferredName: e.FullName,
			Kind:          e.Type,
		})
	}
	return marshal(out), nil
}
