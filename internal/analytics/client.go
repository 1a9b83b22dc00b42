package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	// DefaultBaseURL is the public analytics API root.
	DefaultBaseURL = "https://server.codeium.com/api/v1"

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 30 * time.Second

	queryEndpoint     = "Analytics"
	directoryEndpoint = "UserPageAnalytics"

	maxErrorBody = 512
)

// Service is the remote capability the pipeline depends on: one method per
// request type, so tests can substitute fixtures for live HTTP.
type Service interface {
	Query(ctx context.Context, spec QuerySpec) (QueryResult, error)
	Directory(ctx context.Context, r DateRange) (DirectoryResult, error)
}

// QueryResult is the outcome of a single usage query.
type QueryResult struct {
	Spec QuerySpec
	Rows []Row
	Raw  json.RawMessage
}

// DirectoryEntry pairs a user's email with one API key.
type DirectoryEntry struct {
	Email  string `json:"email"`
	APIKey string `json:"apiKey"`
}

// DirectoryResult is the outcome of a directory lookup. Entries keep the
// order in which the service reported them.
type DirectoryResult struct {
	Entries []DirectoryEntry
	Raw     json.RawMessage
}

// Client is an HTTP implementation of Service.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient returns a client for baseURL authenticating with serviceKey.
func NewClient(baseURL, serviceKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// queryRequest is the request body for the Analytics endpoint.
type queryRequest struct {
	ServiceKey    string      `json:"service_key"`
	QueryRequests []QuerySpec `json:"query_requests"`
}

// queryResponse is the response body from the Analytics endpoint.
type queryResponse struct {
	QueryResults []struct {
		ResponseItems []struct {
			Item Row `json:"item"`
		} `json:"responseItems"`
	} `json:"queryResults"`
	Error json.RawMessage `json:"error,omitempty"`
}

// directoryRequest is the request body for the UserPageAnalytics endpoint.
type directoryRequest struct {
	ServiceKey     string `json:"service_key"`
	StartTimestamp string `json:"start_timestamp"`
	EndTimestamp   string `json:"end_timestamp"`
}

// directoryResponse is the documented part of the directory body.
type directoryResponse struct {
	UserTableStats []DirectoryEntry `json:"userTableStats"`
	Error          json.RawMessage  `json:"error,omitempty"`
}

// Query runs spec and returns its rows. A valid response with no rows is
// not an error.
func (c *Client) Query(ctx context.Context, spec QuerySpec) (QueryResult, error) {
	body, err := c.post(ctx, queryEndpoint, queryRequest{
		ServiceKey:    c.serviceKey,
		QueryRequests: []QuerySpec{spec},
	})
	if err != nil {
		err.Spec = &spec
		return QueryResult{}, err
	}

	var resp queryResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return QueryResult{}, &QueryError{
			Endpoint: queryEndpoint,
			Spec:     &spec,
			Body:     excerpt(body),
			Err:      fmt.Errorf("%w: %v", ErrMalformedResponse, err),
		}
	}
	if hasError(resp.Error) {
		return QueryResult{}, &QueryError{
			Endpoint: queryEndpoint,
			Spec:     &spec,
			Body:     excerpt(resp.Error),
			Err:      ErrRejected,
		}
	}

	result := QueryResult{Spec: spec, Raw: json.RawMessage(body)}
	for _, qr := range resp.QueryResults {
		for _, ri := range qr.ResponseItems {
			if ri.Item != nil {
				result.Rows = append(result.Rows, ri.Item)
			}
		}
	}
	return result, nil
}

// Directory returns every (email, API key) pair active in r.
func (c *Client) Directory(ctx context.Context, r DateRange) (DirectoryResult, error) {
	body, qerr := c.post(ctx, directoryEndpoint, directoryRequest{
		ServiceKey:     c.serviceKey,
		StartTimestamp: r.StartTimestamp(),
		EndTimestamp:   r.EndTimestamp(),
	})
	if qerr != nil {
		return DirectoryResult{}, qerr
	}

	entries, err := parseDirectory(body)
	if err != nil {
		return DirectoryResult{}, &QueryError{
			Endpoint: directoryEndpoint,
			Body:     excerpt(body),
			Err:      err,
		}
	}
	return DirectoryResult{Entries: entries, Raw: json.RawMessage(body)}, nil
}

// post sends payload as JSON and returns the body of a 2xx response.
func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, *QueryError) {
	fail := func(status int, body []byte, err error) *QueryError {
		return &QueryError{Endpoint: endpoint, StatusCode: status, Body: excerpt(body), Err: err}
	}

	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fail(0, nil, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fail(0, nil, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(0, nil, fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, nil, fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fail(resp.StatusCode, body, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fail(resp.StatusCode, body, ErrRejected)
	}
	return body, nil
}

// parseDirectory reads userTableStats when present and otherwise walks the
// whole document for objects that carry both an email and an apiKey.
func parseDirectory(body []byte) ([]DirectoryEntry, error) {
	var resp directoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if hasError(resp.Error) {
		return nil, fmt.Errorf("%w: %s", ErrRejected, excerpt(resp.Error))
	}
	if resp.UserTableStats != nil {
		return lo.Filter(resp.UserTableStats, func(e DirectoryEntry, _ int) bool {
			return e.Email != "" && e.APIKey != ""
		}), nil
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var entries []DirectoryEntry
	walkDirectory(doc, &entries)
	return entries, nil
}

// walkDirectory visits maps in sorted key order so the result does not
// depend on map iteration order.
func walkDirectory(node any, out *[]DirectoryEntry) {
	switch v := node.(type) {
	case map[string]any:
		email, _ := v["email"].(string)
		key, _ := v["apiKey"].(string)
		if email != "" && key != "" {
			*out = append(*out, DirectoryEntry{Email: email, APIKey: key})
		}
		keys := lo.Keys(v)
		sort.Strings(keys)
		for _, k := range keys {
			switch v[k].(type) {
			case map[string]any, []any:
				walkDirectory(v[k], out)
			}
		}
	case []any:
		for _, item := range v {
			walkDirectory(item, out)
		}
	}
}

func hasError(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != `""` && s != "{}"
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "... (truncated)"
	}
	return s
}
