package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// RecordedRequest is one GraphQL request received by the mock server.
type RecordedRequest struct {
	Operation string
	Query     string
	Variables map[string]any
	Headers   http.Header
}

// MockResponse is a canned reply for one GraphQL operation.
type MockResponse struct {
	StatusCode int
	Body       any
	Headers    map[string]string
}

// HandlerFunc computes a reply from the request variables.
type HandlerFunc func(vars map[string]any) MockResponse

// GraphQLServer is an httptest server that answers GraphQL requests by
// operation name, records them, and can simulate auth failures, throttling
// and server errors.
type GraphQLServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	handlers map[string]HandlerFunc

	authError   bool
	serverError bool
	rateLimited int
	retryAfter  string
}

// NewGraphQLServer starts a mock server. Close it when done.
func NewGraphQLServer() *GraphQLServer {
	m := &GraphQLServer{handlers: make(map[string]HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *GraphQLServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	var req struct {
		OperationName string         `json:"operationName"`
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, nil, map[string]any{
			"errors": []map[string]any{{"message": "malformed request"}},
		})
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Operation: req.OperationName,
		Query:     req.Query,
		Variables: req.Variables,
		Headers:   r.Header.Clone(),
	})
	authError, serverError := m.authError, m.serverError
	throttle := m.rateLimited > 0
	if throttle {
		m.rateLimited--
	}
	retryAfter := m.retryAfter
	handler := m.handlers[req.OperationName]
	m.mu.Unlock()

	switch {
	case authError:
		writeJSON(w, http.StatusUnauthorized, nil, map[string]any{
			"errors": []map[string]any{{"message": "Authentication required"}},
		})
		return
	case throttle:
		headers := map[string]string{}
		if retryAfter != "" {
			headers["Retry-After"] = retryAfter
		}
		writeJSON(w, http.StatusTooManyRequests, headers, map[string]any{
			"errors": []map[string]any{{"message": "Rate limit exceeded", "extensions": map[string]any{"code": "RATELIMITED"}}},
		})
		return
	case serverError:
		writeJSON(w, http.StatusInternalServerError, nil, map[string]string{"error": "Internal server error"})
		return
	case handler == nil:
		writeJSON(w, http.StatusOK, nil, map[string]any{
			"errors": []map[string]any{{"message": "no mock for operation " + req.OperationName}},
		})
		return
	}

	resp := handler(req.Variables)
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp.Headers, resp.Body)
}

// URL returns the mock server URL.
func (m *GraphQLServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *GraphQLServer) Close() {
	m.Server.Close()
}

// Handle registers a handler for an operation.
func (m *GraphQLServer) Handle(operation string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[operation] = fn
}

// SetData makes operation answer {"data": data}.
func (m *GraphQLServer) SetData(operation string, data any) {
	m.Handle(operation, func(map[string]any) MockResponse {
		return MockResponse{Body: map[string]any{"data": data}}
	})
}

// SetErrors makes operation answer with a GraphQL errors array.
func (m *GraphQLServer) SetErrors(operation string, status int, errs ...map[string]any) {
	m.Handle(operation, func(map[string]any) MockResponse {
		return MockResponse{StatusCode: status, Body: map[string]any{"data": nil, "errors": errs}}
	})
}

// SetAuthError enables or disables 401 responses.
func (m *GraphQLServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = enabled
}

// SetRateLimited answers the next n requests with 429 and the given
// Retry-After header value (empty for none).
func (m *GraphQLServer) SetRateLimited(n int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = n
	m.retryAfter = retryAfter
}

// SetServerError enables or disables 500 responses.
func (m *GraphQLServer) SetServerError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverError = enabled
}

// Requests returns all recorded requests.
func (m *GraphQLServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns how many requests named operation were received.
func (m *GraphQLServer) RequestCount(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Operation == operation {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, headers map[string]string, v any) {
	for k, val := range headers {
		w.Header().Set(k, val)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
