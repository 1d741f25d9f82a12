// Package linear implements tracker.RemoteClient over the Linear GraphQL API.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linearmanager/lm/internal/telemetry"
	"github.com/linearmanager/lm/internal/tracker"
)

const (
	// DefaultEndpoint is the Linear GraphQL API endpoint.
	DefaultEndpoint = "https://api.linear.app/graphql"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// pageSize is the number of issues requested per page.
	pageSize = 50

	// maxErrorBody caps how much of an error response ends up in messages.
	maxErrorBody = 512

	userAgent = "lm-linear-manager"
)

// Client talks to the Linear GraphQL API. It does not retry; the engine
// owns the retry policy.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tracer:     telemetry.Tracer("github.com/linearmanager/lm/linear"),
	}
}

// WithEndpoint returns a copy of the client that uses endpoint.
func (c *Client) WithEndpoint(endpoint string) *Client {
	cp := *c
	cp.endpoint = endpoint
	return &cp
}

// WithHTTPClient returns a copy of the client that uses hc.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := *c
	cp.httpClient = hc
	return &cp
}

// Name implements tracker.RemoteClient.
func (c *Client) Name() string { return "linear" }

// GraphQLRequest is a GraphQL request payload.
type GraphQLRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// GraphQLResponse is a generic GraphQL response.
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// GraphQLError is one entry of a GraphQL errors array.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code                   string `json:"code,omitempty"`
		Type                   string `json:"type,omitempty"`
		UserPresentableMessage string `json:"userPresentableMessage,omitempty"`
	} `json:"extensions"`
}

// execute sends one GraphQL request and decodes its data into out.
func (c *Client) execute(ctx context.Context, op, query string, vars map[string]any, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "linear."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("graphql.operation.name", op)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(&GraphQLRequest{OperationName: op, Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &tracker.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &tracker.TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return tracker.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return &tracker.RateLimitedError{RetryAfter: retryAfter(resp.Header, time.Now())}
	case resp.StatusCode >= 500:
		return &tracker.ServerError{StatusCode: resp.StatusCode, Message: snippet(respBody)}
	}

	var gql GraphQLResponse
	if err := json.Unmarshal(respBody, &gql); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &tracker.ServerError{StatusCode: resp.StatusCode, Message: snippet(respBody)}
		}
		return &tracker.ServerError{StatusCode: resp.StatusCode, Message: "failed to parse response: " + err.Error()}
	}
	if len(gql.Errors) > 0 {
		return classifyErrors(gql.Errors, resp.Header)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &tracker.ServerError{StatusCode: resp.StatusCode, Message: snippet(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return &tracker.ServerError{StatusCode: resp.StatusCode, Message: "failed to decode data: " + err.Error()}
	}
	return nil
}

// classifyErrors maps a GraphQL errors array onto the tracker error taxonomy.
func classifyErrors(errs []GraphQLError, h http.Header) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msg := e.Message
		if e.Extensions.UserPresentableMessage != "" {
			msg = e.Extensions.UserPresentableMessage
		}
		msgs[i] = msg
	}
	for _, e := range errs {
		code := strings.ToUpper(e.Extensions.Code)
		switch {
		case code == "RATELIMITED":
			return &tracker.RateLimitedError{RetryAfter: retryAfter(h, time.Now())}
		case code == "AUTHENTICATION_ERROR" || code == "FORBIDDEN":
			return tracker.ErrUnauthorized
		case strings.Contains(strings.ToLower(e.Message), "entity not found"),
			strings.Contains(strings.ToLower(e.Extensions.UserPresentableMessage), "could not find"):
			return fmt.Errorf("%w: %s", tracker.ErrNotFound, strings.Join(msgs, "; "))
		}
	}
	return fmt.Errorf("GraphQL errors: %s", strings.Join(msgs, "; "))
}

// retryAfter reads the server's backoff hint. Linear sends Retry-After on
// 429s and an X-RateLimit-Requests-Reset epoch in milliseconds.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
		}
	}
	if v := h.Get("X-RateLimit-Requests-Reset"); v != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			if d := time.UnixMilli(ms).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
