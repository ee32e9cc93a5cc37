package agritools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/agrosense/agrosense/tool"
)

// EphyName is the registry key of the E-Phy product search tool.
const EphyName = "ephy_products"

// EphyInput searches market-authorized phytosanitary products. AMM is
// the French market-authorization number; when set the search is an
// exact lookup.
type EphyInput struct {
	Name  string `json:"name,omitempty"`
	AMM   string `json:"amm,omitempty"`
	Crop  string `json:"crop,omitempty"` // EPPO code or French name
	Limit int    `json:"limit,omitempty"`
}

// EphyProduct is one authorized product record.
type EphyProduct struct {
	AMM           string   `json:"amm"`
	Name          string   `json:"name"`
	Holder        string   `json:"holder,omitempty"`
	Functions     []string `json:"functions,omitempty"`
	AuthorizedFor []string `json:"authorized_for,omitempty"`
	Withdrawn     bool     `json:"withdrawn"`
}

// EphyOutput is the tool result payload.
type EphyOutput struct {
	Products []EphyProduct `json:"products"`
	Total    int           `json:"total"`
}

// EphyTool wraps the E-Phy open-data product API.
type EphyTool struct {
	baseURL string
	client  httpDoer
}

// NewEphyTool creates the E-Phy tool against baseURL.
func NewEphyTool(baseURL string) *EphyTool {
	return &EphyTool{baseURL: baseURL, client: defaultClient()}
}

func (t *EphyTool) Name() string { return EphyName }

func (t *EphyTool) Timeout() time.Duration { return 10 * time.Second }

func (t *EphyTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        EphyName,
		Description: "Search French market-authorized phytosanitary products (E-Phy / AMM)",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"amm": {"type": "string"},
				"crop": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 50}
			}
		}`),
		Version: "1",
	}
}

func (t *EphyTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in EphyInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("ephy input: %w", err)
		}
	}
	if in.Name == "" && in.AMM == "" {
		return nil, fmt.Errorf("ephy input: name or amm required")
	}
	if in.Limit <= 0 {
		in.Limit = 10
	}

	params := url.Values{}
	if in.AMM != "" {
		params.Set("amm", in.AMM)
	}
	if in.Name != "" {
		params.Set("q", in.Name)
	}
	if in.Crop != "" {
		params.Set("culture", in.Crop)
	}
	params.Set("limit", strconv.Itoa(in.Limit))

	var raw struct {
		Total   int           `json:"total"`
		Results []EphyProduct `json:"results"`
	}
	if err := fetchJSON(ctx, t.client, t.baseURL+"/api/v1/produits", params, &raw); err != nil {
		return nil, err
	}

	return marshal(EphyOutput{Products: raw.Results, Total: raw.Total}), nil
}
