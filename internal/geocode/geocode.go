// Package geocode resolves a coordinate to a human-readable place name by
// calling an external reverse-geocoding HTTP endpoint, used by the flight
// tracker to label a takeoff/landing location once it has ruled out a
// known airport. This integration is feature-gated
// (config.PipelineConfig.GetReverseGeocodingEnabled) since not every
// deployment has network egress or wants to pay for third-party lookups.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hut8/soar/internal/httputil"
)

// Resolver is the subset of flighttracker.LocationResolver this package
// fulfills. It is restated here rather than imported to avoid a
// geocode -> flighttracker dependency edge; any caller satisfying this
// interface can be passed where a flighttracker.LocationResolver is
// expected.
type Resolver interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (locationID string, err error)
}

// Fallback is consulted when the remote lookup is disabled or fails, so a
// flight still gets a durable (if less friendly) location reference.
type Fallback interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (locationID string, err error)
}

// Client calls a Nominatim-compatible reverse-geocoding endpoint.
type Client struct {
	http    httputil.HTTPClient
	baseURL string
	enabled bool

	fallback Fallback
}

// New constructs a Client. baseURL is the reverse-geocoding endpoint root
// (e.g. "https://nominatim.openstreetmap.org/reverse"). When enabled is
// false, every call goes straight to fallback without an HTTP round trip.
func New(client httputil.HTTPClient, baseURL string, enabled bool, fallback Fallback) *Client {
	return &Client{http: client, baseURL: baseURL, enabled: enabled, fallback: fallback}
}

type reverseGeocodeResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// ReverseGeocode returns a place name for (lat, lon), falling back to the
// configured Fallback resolver when the feature is disabled or the remote
// call fails for any reason — a flaky geocoding provider should never
// block a flight from being recorded.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	if !c.enabled {
		return c.fallback.ReverseGeocode(ctx, lat, lon)
	}

	name, err := c.lookup(ctx, lat, lon)
	if err != nil {
		return c.fallback.ReverseGeocode(ctx, lat, lon)
	}
	return name, nil
}

func (c *Client) lookup(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("format", "jsonv2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("geocode: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocode: unexpected status %d", resp.StatusCode)
	}

	var body reverseGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("geocode: decode response: %w", err)
	}
	if body.Error != "" {
		return "", fmt.Errorf("geocode: provider error: %s", body.Error)
	}
	if body.DisplayName == "" {
		return "", fmt.Errorf("geocode: empty display name")
	}
	return body.DisplayName, nil
}
