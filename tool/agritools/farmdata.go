package agritools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/agrosense/agrosense/tool"
)

// FarmDataName is the registry key of the farm records tool.
const FarmDataName = "farm_records"

// FarmDataInput fetches records for one farm from the farm-management
// service. The orchestrator passes the farm id from the query scope;
// agents never guess it.
type FarmDataInput struct {
	FarmID string `json:"farm_id"`
	// Kind selects the record family: "parcels", "interventions",
	// "stocks" or "observations".
	Kind  string `json:"kind"`
	Since string `json:"since,omitempty"` // ISO date, inclusive
}

// FarmDataOutput carries the raw records; their shape depends on Kind
// and is interpreted by the farm data agent, not the orchestrator.
type FarmDataOutput struct {
	FarmID  string            `json:"farm_id"`
	Kind    string            `json:"kind"`
	Records []json.RawMessage `json:"records"`
}

// FarmDataTool wraps the internal farm-management HTTP service.
type FarmDataTool struct {
	baseURL string
	client  httpDoer
}

// NewFarmDataTool creates the farm records tool against baseURL.
func NewFarmDataTool(baseURL string) *FarmDataTool {
	return &FarmDataTool{baseURL: baseURL, client: defaultClient()}
}

func (t *FarmDataTool) Name() string { return FarmDataName }

func (t *FarmDataTool) Timeout() time.Duration { return 5 * time.Second }

func (t *FarmDataTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        FarmDataName,
		Description: "Fetch parcels, interventions, stocks or observations for a farm",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"farm_id": {"type": "string"},
				"kind": {"type": "string", "enum": ["parcels", "interventions", "stocks", "observations"]},
				"since": {"type": "string", "format": "date"}
			},
			"required": ["farm_id", "kind"]
		}`),
		Version: "1",
	}
}

func (t *FarmDataTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in FarmDataInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("farm records input: %w", err)
	}
	if in.FarmID == "" || in.Kind == "" {
		return nil, fmt.Errorf("farm records input: farm_id and kind required")
	}

	params := url.Values{}
	if in.Since != "" {
		params.Set("since", in.Since)
	}

	var records []json.RawMessage
	endpoint := fmt.Sprintf("%s/farms/%s/%s", t.baseURL, url.PathEscape(in.FarmID), url.PathEscape(in.Kind))
	if err := fetchJSON(ctx, t.client, endpoint, params, &records); err != nil {
		return nil, err
	}

	return marshal(FarmDataOutput{FarmID: in.FarmID, Kind: in.Kind, Records: records}), nil
}
