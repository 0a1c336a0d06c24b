package pinmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/flipstack/pinbot/src/shared/webclient"
)

const (
	defaultBaseURL = "https://pinballmap.com/api/v1"
	defaultTimeout = 30 * time.Second
)

// ErrNotFound is returned when the API has no location for the given id.
var ErrNotFound = errors.New("pinmap: location not found")

// Change types carried on submissions.
const (
	ChangeAdded   = "added"
	ChangeRemoved = "removed"
	ChangeComment = "comment"
)

// Client is a Pinball Map API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Location is a venue known to Pinball Map.
type Location struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Street      string `json:"street"`
	City        string `json:"city"`
	State       string `json:"state"`
	NumMachines int    `json:"num_machines"`
}

// Submission is a reported change at a location: a machine added or removed,
// or a condition comment.
type Submission struct {
	ID           int64
	ChangeType   string
	MachineName  string
	LocationName string
	Comment      string
	CreatedAt    time.Time
}

type userSubmission struct {
	ID             int64  `json:"id"`
	SubmissionType string `json:"submission_type"`
	MachineName    string `json:"machine_name"`
	LocationName   string `json:"location_name"`
	Comment        string `json:"comment"`
	CreatedAt      string `json:"created_at"`
}

// NewClient creates a Pinball Map client. An empty baseURL selects the
// public API.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: webclient.NewDefault(defaultTimeout),
	}
}

// GetLocation fetches details for a single location id. Returns ErrNotFound
// when the API knows no such location.
func (c *Client) GetLocation(ctx context.Context, id int64) (*Location, error) {
	status, body, err := c.get(ctx, fmt.Sprintf("/locations/%d.json", id))
	if err != nil {
		return nil, fmt.Errorf("get location %d: %w", id, err)
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get location %d: status %d", id, status)
	}

	// The API answers 200 with an errors field for unknown ids.
	var probe struct {
		Errors string `json:"errors"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.Errors != "" {
		return nil, ErrNotFound
	}

	var loc Location
	if err := json.Unmarshal(body, &loc); err != nil {
		return nil, fmt.Errorf("parse location %d: %w", id, err)
	}
	if loc.ID == 0 {
		return nil, ErrNotFound
	}
	return &loc, nil
}

// SearchLocations runs a by-name search and returns the candidates in API
// order.
func (c *Client) SearchLocations(ctx context.Context, name string) ([]Location, error) {
	status, body, err := c.get(ctx, "/locations.json?by_location_name="+url.QueryEscape(name))
	if err != nil {
		return nil, fmt.Errorf("search locations %q: %w", name, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search locations %q: status %d", name, status)
	}

	var result struct {
		Locations []Location `json:"locations"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse search %q: %w", name, err)
	}
	return result.Locations, nil
}

// LocationSubmissions fetches recent user submissions for one location.
func (c *Client) LocationSubmissions(ctx context.Context, id int64) ([]Submission, error) {
	status, body, err := c.get(ctx, fmt.Sprintf("/user_submissions/location.json?id=%d", id))
	if err != nil {
		return nil, fmt.Errorf("location submissions %d: %w", id, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("location submissions %d: status %d", id, status)
	}
	return parseSubmissions(body)
}

// SubmissionsWithinRange fetches recent user submissions around a coordinate.
// Radius is in miles; zero lets the API default apply.
func (c *Client) SubmissionsWithinRange(ctx context.Context, lat, lon, radius float64) ([]Submission, error) {
	path := fmt.Sprintf("/user_submissions/list_within_range.json?lat=%f&lon=%f", lat, lon)
	if radius > 0 {
		path += fmt.Sprintf("&max_distance=%.0f", radius)
	}
	status, body, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("submissions within range: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("submissions within range: status %d", status)
	}
	return parseSubmissions(body)
}

func parseSubmissions(body []byte) ([]Submission, error) {
	var result struct {
		UserSubmissions []userSubmission `json:"user_submissions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse submissions: %w", err)
	}

	subs := make([]Submission, 0, len(result.UserSubmissions))
	for _, raw := range result.UserSubmissions {
		changeType, ok := mapSubmissionType(raw.SubmissionType)
		if !ok {
			continue
		}
		subs = append(subs, Submission{
			ID:           raw.ID,
			ChangeType:   changeType,
			MachineName:  raw.MachineName,
			LocationName: raw.LocationName,
			Comment:      raw.Comment,
			CreatedAt:    parseCreatedAt(raw.CreatedAt),
		})
	}
	return subs, nil
}

func mapSubmissionType(apiType string) (string, bool) {
	switch apiType {
	case "new_lmx":
		return ChangeAdded, true
	case "remove_machine":
		return ChangeRemoved, true
	case "new_condition":
		return ChangeComment, true
	default:
		// confirm_location, new_msx and friends carry no channel-facing event
		return "", false
	}
}

func parseCreatedAt(value string) time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	return webclient.DoWithRetry(ctx, 3, 2*time.Second, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		return resp.StatusCode, body, err
	})
}
