// Package rails is the HTTP client for the CRM backend that owns target
// events, links, and readings.
package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/expand-cli/internal/model"
	"github.com/sells-group/expand-cli/internal/resilience"
)

// Client defines the backend operations used by the expansion pipeline.
type Client interface {
	// NextEventToExpand returns the next event queued for auto-expansion,
	// or nil when the queue is empty.
	NextEventToExpand(ctx context.Context) (*model.TargetEvent, error)
	// GetEvent fetches one event by id.
	GetEvent(ctx context.Context, id int) (*model.TargetEvent, error)
	// FindOrCreateLink upserts a link by URL and returns the stored record.
	FindOrCreateLink(ctx context.Context, url string) (*model.Link, error)
	// CreateReading persists one extraction result and returns it with its
	// assigned id.
	CreateReading(ctx context.Context, reading model.Reading) (*model.Reading, error)
	// CheckReadingMatch asks the backend whether a reading matches the
	// given event. The backend's verdict is authoritative.
	CheckReadingMatch(ctx context.Context, readingID, eventID int) (bool, error)
	// MergeReadings asks the backend to merge an event's matched readings
	// into the event record.
	MergeReadings(ctx context.Context, eventID int) (*model.TargetEvent, error)
	// UpdateAutoExpanded sets the event's auto_expanded flag.
	UpdateAutoExpanded(ctx context.Context, eventID int, expanded bool) error
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the transient-retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		retry:   resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) NextEventToExpand(ctx context.Context) (*model.TargetEvent, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/events/next_to_auto_expand", nil)
	if err != nil {
		return nil, eris.Wrap(err, "rails: next event to expand")
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("rails: next event to expand: status %d: %s", status, string(body))
	}
	// An empty queue may also come back as a 200 with an empty body.
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return nil, nil
	}

	var event model.TargetEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, eris.Wrap(err, "rails: unmarshal event")
	}
	return &event, nil
}

func (c *httpClient) GetEvent(ctx context.Context, id int) (*model.TargetEvent, error) {
	body, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/events/%d.json", id), nil)
	if err != nil {
		return nil, eris.Wrap(err, "rails: get event")
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("rails: get event %d: status %d: %s", id, status, string(body))
	}

	var event model.TargetEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, eris.Wrap(err, "rails: unmarshal event")
	}
	return &event, nil
}

func (c *httpClient) FindOrCreateLink(ctx context.Context, url string) (*model.Link, error) {
	payload := map[string]string{"url": url}
	body, status, err := c.do(ctx, http.MethodPost, "/links/find_or_create", payload)
	if err != nil {
		return nil, eris.Wrap(err, "rails: find or create link")
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, eris.Errorf("rails: find or create link: status %d: %s", status, string(body))
	}

	var link model.Link
	if err := json.Unmarshal(body, &link); err != nil {
		return nil, eris.Wrap(err, "rails: unmarshal link")
	}
	return &link, nil
}

func (c *httpClient) CreateReading(ctx context.Context, reading model.Reading) (*model.Reading, error) {
	payload := map[string]any{"reading": reading}
	body, status, err := c.do(ctx, http.MethodPost, "/readings.json", payload)
	if err != nil {
		return nil, eris.Wrap(err, "rails: create reading")
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, eris.Errorf("rails: create reading: status %d: %s", status, string(body))
	}

	var created model.Reading
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, eris.Wrap(err, "rails: unmarshal reading")
	}
	return &created, nil
}

// checkMatchResponse is the check_match endpoint's body.
type checkMatchResponse struct {
	Matches bool `json:"matches"`
}

func (c *httpClient) CheckReadingMatch(ctx context.Context, readingID, eventID int) (bool, error) {
	path := fmt.Sprintf("/readings/%d/check_match?event_id=%s", readingID, strconv.Itoa(eventID))
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, eris.Wrap(err, "rails: check reading match")
	}
	if status != http.StatusOK {
		return false, eris.Errorf("rails: check reading match: status %d: %s", status, string(body))
	}

	var result checkMatchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return false, eris.Wrap(err, "rails: unmarshal check match")
	}
	return result.Matches, nil
}

func (c *httpClient) MergeReadings(ctx context.Context, eventID int) (*model.TargetEvent, error) {
	body, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/events/%d/merge_readings", eventID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "rails: merge readings")
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("rails: merge readings: status %d: %s", status, string(body))
	}

	var event model.TargetEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, eris.Wrap(err, "rails: unmarshal merged event")
	}
	return &event, nil
}

func (c *httpClient) UpdateAutoExpanded(ctx context.Context, eventID int, expanded bool) error {
	payload := map[string]any{"event": map[string]bool{"auto_expanded": expanded}}
	body, status, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/events/%d.json", eventID), payload)
	if err != nil {
		return eris.Wrap(err, "rails: update auto_expanded")
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return eris.Errorf("rails: update auto_expanded: status %d: %s", status, string(body))
	}
	return nil
}

// do sends one request with transient retry and returns the body and
// status. Network failures, 5xx, and 429 responses are retried per the
// client's retry policy; other non-2xx statuses are left to the caller
// so endpoint-specific handling (404 as empty queue, for example) stays
// in one place per operation.
func (c *httpClient) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	type httpResult struct {
		body   []byte
		status int
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger("rails", method+" "+path)

	res, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (httpResult, error) {
		body, status, err := c.send(ctx, method, path, payload)
		if err != nil {
			return httpResult{}, err
		}
		if resilience.IsTransientHTTPStatus(status) {
			return httpResult{}, resilience.NewTransientError(
				eris.Errorf("status %d: %s", status, string(body)), status)
		}
		return httpResult{body: body, status: status}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.body, res.status, nil
}

func (c *httpClient) send(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, eris.Wrap(err, "marshal payload")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "read response")
	}
	return body, resp.StatusCode, nil
}
