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

// WeatherName is the registry key of the weather tool.
const WeatherName = "weather_forecast"

// WeatherInput selects a location either by coordinates or by commune
// name (geocoded upstream).
type WeatherInput struct {
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Commune   string  `json:"commune,omitempty"`
	Days      int     `json:"days,omitempty"`
}

// WeatherDay is one forecast day, reduced to the fields the agents use
// for spraying and intervention windows.
type WeatherDay struct {
	Date             string  `json:"date"`
	TempMinC         float64 `json:"temp_min_c"`
	TempMaxC         float64 `json:"temp_max_c"`
	PrecipitationMM  float64 `json:"precipitation_mm"`
	WindSpeedKMH     float64 `json:"wind_speed_kmh"`
	RelativeHumidity float64 `json:"relative_humidity"`
}

// WeatherOutput is the tool result payload.
type WeatherOutput struct {
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Commune   string       `json:"commune,omitempty"`
	Days      []WeatherDay `json:"days"`
}

// WeatherTool wraps an open-meteo style forecast endpoint.
type WeatherTool struct {
	baseURL string
	client  httpDoer
}

// NewWeatherTool creates the weather tool against baseURL.
func NewWeatherTool(baseURL string) *WeatherTool {
	return &WeatherTool{baseURL: baseURL, client: defaultClient()}
}

func (t *WeatherTool) Name() string { return WeatherName }

func (t *WeatherTool) Timeout() time.Duration { return 10 * time.Second }

func (t *WeatherTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        WeatherName,
		Description: "Daily weather forecast for a location, by coordinates or commune name",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"latitude": {"type": "number"},
				"longitude": {"type": "number"},
				"commune": {"type": "string"},
				"days": {"type": "integer", "minimum": 1, "maximum": 14}
			}
		}`),
		Version: "1",
	}
}

func (t *WeatherTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in WeatherInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("weather input: %w", err)
		}
	}
	if in.Days <= 0 {
		in.Days = 7
	}

	lat, lon := in.Latitude, in.Longitude
	commune := in.Commune
	if commune != "" && lat == 0 && lon == 0 {
		var err error
		lat, lon, err = t.geocode(ctx, commune)
		if err != nil {
			return nil, fmt.Errorf("geocode %q: %w", commune, err)
		}
	}
	if lat == 0 && lon == 0 {
		return nil, fmt.Errorf("weather input: either coordinates or commune required")
	}

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	params.Set("forecast_days", strconv.Itoa(in.Days))
	params.Set("daily", "temperature_2m_min,temperature_2m_max,precipitation_sum,wind_speed_10m_max,relative_humidity_2m_mean")
	params.Set("timezone", "Europe/Paris")

	var raw struct {
		Daily struct {
			Time             []string  `json:"time"`
			TempMin          []float64 `json:"temperature_2m_min"`
			TempMax          []float64 `json:"temperature_2m_max"`
			Precipitation    []float64 `json:"precipitation_sum"`
			WindMax          []float64 `json:"wind_speed_10m_max"`
			RelativeHumidity []float64 `json:"relative_humidity_2m_mean"`
		} `json:"daily"`
	}
	if err := fetchJSON(ctx, t.client, t.baseURL+"/v1/forecast", params, &raw); err != nil {
		return nil, err
	}

	out := WeatherOutput{Latitude: lat, Longitude: lon, Commune: commune}
	for i, date := range raw.Daily.Time {
		day := WeatherDay{Date: date}
		if i < len(raw.Daily.TempMin) {
			day.TempMinC = raw.Daily.TempMin[i]
		}
		if i < len(raw.Daily.TempMax) {
			day.TempMaxC = raw.Daily.TempMax[i]
		}
		if i < len(raw.Daily.Precipitation) {
			day.PrecipitationMM = raw.Daily.Precipitation[i]
		}
		if i < len(raw.Daily.WindMax) {
			day.WindSpeedKMH = raw.Daily.WindMax[i]
		}
		if i < len(raw.Daily.RelativeHumidity) {
			day.RelativeHumidity = raw.Daily.RelativeHumidity[i]
		}
		out.Days = append(out.Days, day)
	}
	return marshal(out), nil
}

func (t *WeatherTool) geocode(ctx context.Context, commune string) (lat, lon float64, err error) {
	params := url.Values{}
	params.Set("name", commune)
	params.Set("count", "1")
	params.Set("country_code", "FR")

	var raw struct {
		Results []struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := fetchJSON(ctx, t.client, t.baseURL+"/v1/search", params, &raw); err != nil {
		return 0, 0, err
	}
	if len(raw.Results) == 0 {
		return 0, 0, fmt.Errorf("no match")
	}
	return raw.Results[0].Latitude, raw.Results[0].Longitude, nil
}
