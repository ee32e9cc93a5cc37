// Package agritools contains the domain tools the agent roles depend
// on: weather forecasts, E-Phy/AMM product lookups, EPPO pest and
// disease codes, farm records and web search. Every tool is a thin
// HTTP wrapper; the orchestration layer treats them uniformly through
// the tool.Tool contract.
package agritools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// httpDoer lets tests substitute the transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// fetchJSON issues a GET with query params and decodes the JSON body
// into out. Non-2xx statuses are returned as errors with the status
// code so the caller can classify retryability.
func fetchJSON(ctx context.Context, client httpDoer, base string, params url.Values, out any) error {
	u := base
	if len(params) > 0 {
		u = base + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func marshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
