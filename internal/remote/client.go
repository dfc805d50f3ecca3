// Package remote implements the wire protocol against the Livra backend:
// a PostgREST-style REST surface with row-level authorization plus a
// websocket change-notification channel per table.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client abstracts the backend for the sync engine.
// Implementations must be safe for concurrent use.
type Client interface {
	// UserID returns the authenticated user identity rows are scoped to.
	UserID() string

	SelectCounters(ctx context.Context, q Query) ([]CounterRow, error)
	SelectEvents(ctx context.Context, q Query) ([]EventRow, error)
	SelectStreaks(ctx context.Context, q Query) ([]StreakRow, error)
	SelectBadges(ctx context.Context, q Query) ([]BadgeRow, error)

	UpsertCounters(ctx context.Context, rows []CounterRow) error
	UpsertEvents(ctx context.Context, rows []EventRow) error
	UpsertStreaks(ctx context.Context, rows []StreakRow) error
	UpsertBadges(ctx context.Context, rows []BadgeRow) error

	// Delete removes a single row by id. Sync normally tombstones via
	// upsert; hard deletes serve the garbage-collection pass only.
	Delete(ctx context.Context, table, id string) error

	// Subscribe opens a change-notification stream for the given tables,
	// filtered to the authenticated user.
	Subscribe(ctx context.Context, tables []string) (*Subscription, error)
}

// APIError is a non-2xx response from the backend.
// Extractable via errors.As().
type APIError struct {
	StatusCode int
	Code       string // server error code, e.g. "23503", "57014"
	Message    string
	Body       string // raw body when it was not parseable JSON
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	msg := e.Message
	if msg == "" {
		msg = truncate(e.Body, 200)
	}
	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, msg)
}

// Well-known backend error codes.
const (
	CodeForeignKeyViolation = "23503"
	CodeStatementTimeout    = "57014"
	CodeTierLimit           = "LIMIT_EXCEEDED"
)

// IsForeignKeyViolation reports whether the error is a parent-missing
// rejection.
func (e *APIError) IsForeignKeyViolation() bool {
	return e.Code == CodeForeignKeyViolation
}

// IsTierLimit reports whether the backend refused the write because the
// account's live-counter cap is reached.
func (e *APIError) IsTierLimit() bool {
	return e.Code == CodeTierLimit
}

// Tracer receives verbose wire logs. livra.DebugLogger satisfies it.
type Tracer interface {
	LogRequest(method, url string, body []byte)
	LogResponse(statusCode int, status string, body []byte)
	LogError(operation string, err error)
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	userID     string
	httpClient *http.Client
	tracer     Tracer
}

// NewHTTPClient creates a backend client. userID is the authenticated
// identity; every query is scoped to it.
func NewHTTPClient(baseURL, apiKey, userID string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

// WithTracer enables verbose wire logging.
func (c *HTTPClient) WithTracer(t Tracer) *HTTPClient {
	c.tracer = t
	return c
}

// do issues the request with tracing around it.
func (c *HTTPClient) do(op string, req *http.Request, body []byte) (*http.Response, error) {
	if c.tracer != nil {
		c.tracer.LogRequest(req.Method, req.URL.String(), body)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.tracer != nil {
			c.tracer.LogError(op, err)
		}
		return nil, err
	}
	if c.tracer != nil {
		c.tracer.LogResponse(resp.StatusCode, resp.Status, nil)
	}
	return resp, nil
}

func (c *HTTPClient) UserID() string { return c.userID }

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("User-Agent", "livra-client/1.0")
}

// tableURL builds the REST URL for a table select, encoding filters the
// PostgREST way: user_id=eq.X, updated_at=gt.T, deleted_at=is.null.
func (c *HTTPClient) tableURL(table string, q Query) string {
	v := url.Values{}
	v.Set("user_id", "eq."+c.userID)
	if q.UpdatedAfter != nil {
		v.Set("updated_at", "gt."+q.UpdatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if q.Alive {
		v.Set("deleted_at", "is.null")
	}
	v.Set("order", "updated_at.asc")
	return fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, table, v.Encode())
}

func (c *HTTPClient) selectInto(ctx context.Context, table string, q Query, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tableURL(table, q), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	if q.Limit > 0 {
		req.Header.Set("Range-Unit", "items")
		req.Header.Set("Range", fmt.Sprintf("%d-%d", q.Offset, q.Offset+q.Limit-1))
	}

	resp, err := c.do("select "+table, req, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return c.traceErr("select "+table, readAPIError(resp))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) SelectCounters(ctx context.Context, q Query) ([]CounterRow, error) {
	var rows []CounterRow
	if err := c.selectInto(ctx, TableCounters, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) SelectEvents(ctx context.Context, q Query) ([]EventRow, error) {
	var rows []EventRow
	if err := c.selectInto(ctx, TableEvents, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) SelectStreaks(ctx context.Context, q Query) ([]StreakRow, error) {
	var rows []StreakRow
	if err := c.selectInto(ctx, TableStreaks, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) SelectBadges(ctx context.Context, q Query) ([]BadgeRow, error) {
	var rows []BadgeRow
	if err := c.selectInto(ctx, TableBadges, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) upsert(ctx context.Context, table string, rows any) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf("%s/rest/v1/%s?on_conflict=id", c.baseURL, table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.do("upsert "+table, req, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return c.traceErr("upsert "+table, readAPIError(resp))
	}
	return nil
}

func (c *HTTPClient) UpsertCounters(ctx context.Context, rows []CounterRow) error {
	return c.upsert(ctx, TableCounters, rows)
}

func (c *HTTPClient) UpsertEvents(ctx context.Context, rows []EventRow) error {
	return c.upsert(ctx, TableEvents, rows)
}

func (c *HTTPClient) UpsertStreaks(ctx context.Context, rows []StreakRow) error {
	return c.upsert(ctx, TableStreaks, rows)
}

func (c *HTTPClient) UpsertBadges(ctx context.Context, rows []BadgeRow) error {
	return c.upsert(ctx, TableBadges, rows)
}

func (c *HTTPClient) Delete(ctx context.Context, table, id string) error {
	v := url.Values{}
	v.Set("id", "eq."+id)
	v.Set("user_id", "eq."+c.userID)
	reqURL := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, table, v.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.do("delete "+table, req, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return c.traceErr("delete "+table, readAPIError(resp))
	}
	return nil
}

func (c *HTTPClient) traceErr(op string, err error) error {
	if c.tracer != nil && err != nil {
		c.tracer.LogError(op, err)
	}
	return err
}

// readAPIError decodes a non-2xx response. Gateways in front of the
// backend answer with HTML error pages under load; those bodies do not
// parse as JSON and are carried raw for the classifier.
func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && (payload.Code != "" || payload.Message != "") {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
		return apiErr
	}

	apiErr.Body = string(body)
	return apiErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
