package metservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is MetService's public data endpoint.
const DefaultBaseURL = "https://www.metservice.com/publicData/"

// API fetches MetService public data for one location.
type API interface {
	LocalObs(ctx context.Context, cityID string) (*LocalObs, error)
	LocalForecast(ctx context.Context, cityID string) (*LocalForecast, error)
	HourlyObsAndForecast(ctx context.Context, cityID string) (*HourlyObsAndForecast, error)
}

// LocalObs is the localObs_<id> document. Only the three hourly
// observation is used.
type LocalObs struct {
	ThreeHour Observation `json:"threeHour"`
}

// Observation values arrive as strings.
type Observation struct {
	Temp          interface{} `json:"temp"`
	Pressure      interface{} `json:"pressure"`
	Humidity      interface{} `json:"humidity"`
	WindSpeed     interface{} `json:"windSpeed"`
	WindDirection interface{} `json:"windDirection"`
	DateTimeISO   string      `json:"dateTimeISO"`
}

// LocalForecast is the localForecast<id> document.
type LocalForecast struct {
	Days []ForecastDay `json:"days"`
}

// ForecastDay is one day of the daily forecast.
type ForecastDay struct {
	DateISO      string      `json:"dateISO"`
	ForecastWord string      `json:"forecastWord"`
	Max          interface{} `json:"max"`
	Min          interface{} `json:"min"`
	RiseSet      *RiseSet    `json:"riseSet"`
}

// RiseSet holds the sun times of a forecast day.
type RiseSet struct {
	SunRiseISO string `json:"sunRiseISO"`
	SunSetISO  string `json:"sunSetISO"`
}

// HourlyObsAndForecast is the hourlyObsAndForecast_<id> document.
type HourlyObsAndForecast struct {
	ForecastData []HourlyForecast `json:"forecastData"`
}

// HourlyForecast is one hour of the hourly forecast.
type HourlyForecast struct {
	DateISO     string      `json:"dateISO"`
	RainFall    interface{} `json:"rainFall"`
	Temperature interface{} `json:"temperature"`
	WindDir     interface{} `json:"windDir"`
	WindSpeed   interface{} `json:"windSpeed"`
}

// Client implements API over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ API = &Client{}

// NewClient creates a client for baseURL. A nil httpClient uses a client
// with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{BaseURL: baseURL, HTTPClient: httpClient}
}

func (c *Client) LocalObs(ctx context.Context, cityID string) (*LocalObs, error) {
	var obs LocalObs
	if err := c.get(ctx, "localObs_"+cityID, &obs); err != nil {
		return nil, err
	}
	return &obs, nil
}

func (c *Client) LocalForecast(ctx context.Context, cityID string) (*LocalForecast, error) {
	var forecast LocalForecast
	if err := c.get(ctx, "localForecast"+cityID, &forecast); err != nil {
		return nil, err
	}
	return &forecast, nil
}

func (c *Client) HourlyObsAndForecast(ctx context.Context, cityID string) (*HourlyObsAndForecast, error) {
	var hourly HourlyObsAndForecast
	if err := c.get(ctx, "hourlyObsAndForecast_"+cityID, &hourly); err != nil {
		return nil, err
	}
	return &hourly, nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("failed to fetch %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
