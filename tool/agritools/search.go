package agritools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/agrosense/agrosense/tool"
)

// SearchName is the registry key of the web search tool.
const SearchName = "web_search"

// SearchInput queries the web search backend.
type SearchInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	// Lang restricts results, defaults to "fr".
	Lang string `json:"lang,omitempty"`
}

// SearchHit is one search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchOutput is the tool result payload.
type SearchOutput struct {
	Hits []SearchHit `json:"hits"`
}

// SearchTool wraps a web search API (SearxNG compatible).
type SearchTool struct {
	baseURL string
	client  httpDoer
}

// NewSearchTool creates the search tool against baseURL.
func NewSearchTool(baseURL string) *SearchTool {
	return &SearchTool{baseURL: baseURL, client: defaultClient()}
}

func (t *SearchTool) Name() string { return SearchName }

func (t *SearchTool) Timeout() time.Duration { return 10 * time.Second }

func (t *SearchTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        SearchName,
		Description: "Web search for agricultural news, prices and references",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"max_results": {"type": "integer", "minimum": 1, "maximum": 20},
				"lang": {"type": "string"}
			},
			"required": ["query"]
		}`),
		Version: "1",
	}
}

func (t *SearchTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in SearchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("search input: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("search input: query required")
	}
	if in.MaxResults <= 0 {
		in.MaxResults = 5
	}
	if in.Lang == "" {
		in.Lang = "fr"
	}

	params := url.Values{}
	params.Set("q", in.Query)
	params.Set("format", "json")
	params.Set("language", in.Lang)

	var raw struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := fetchJSON(ctx, t.client, t.baseURL+"/search", params, &raw); err != nil {
		return nil, err
	}

	out := SearchOutput{}
	for i, r := range raw.Results {
		if i >= in.MaxResults {
			break
		}
		out.Hits = append(out.Hits, SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return marshal(out), nil
}
