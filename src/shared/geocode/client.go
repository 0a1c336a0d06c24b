package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/flipstack/pinbot/src/shared/webclient"
)

const (
	defaultBaseURL = "https://nominatim.openstreetmap.org"
	defaultTimeout = 15 * time.Second
	userAgent      = "pinbot/1.0 (pinball map monitoring bot)"
)

// ErrNoResult is returned when the geocoder has no match for the query.
var ErrNoResult = errors.New("geocode: no result")

// Coordinates is a geocoded point.
type Coordinates struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
}

// Client is a Nominatim geocoding client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: webclient.NewDefault(defaultTimeout),
	}
}

// CityName geocodes a free-form city name to the top-ranked coordinate.
func (c *Client) CityName(ctx context.Context, city string) (*Coordinates, error) {
	endpoint := c.baseURL + "/search?format=json&limit=1&q=" + url.QueryEscape(city)

	status, body, err := webclient.DoWithRetry(ctx, 3, 2*time.Second, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, nil, err
		}
		// Nominatim requires an identifying UA.
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		return resp.StatusCode, b, err
	})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", city, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("geocode %q: status %d", city, status)
	}

	var hits []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(body, &hits); err != nil {
		return nil, fmt.Errorf("geocode %q: parse: %w", city, err)
	}
	if len(hits) == 0 {
		return nil, ErrNoResult
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: bad latitude %q", city, hits[0].Lat)
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: bad longitude %q", city, hits[0].Lon)
	}

	return &Coordinates{Latitude: lat, Longitude: lon, DisplayName: hits[0].DisplayName}, nil
}
