package linear

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linearmanager/lm/internal/tracker"
	"github.com/linearmanager/lm/internal/tracker/testutil"
)

func newTestClient(t *testing.T) (*Client, *testutil.GraphQLServer) {
	t.Helper()
	srv := testutil.NewGraphQLServer()
	t.Cleanup(srv.Close)
	return NewClient("lin_api_test").WithEndpoint(srv.URL()), srv
}

func issueNode(identifier, title string) map[string]any {
	return map[string]any{
		"id":          "uuid-" + identifier,
		"identifier":  identifier,
		"title":       title,
		"description": "body of " + identifier,
		"priority":    2,
		"url":         "https://linear.app/acme/issue/" + identifier,
		"branchName":  "ada/" + strings.ToLower(identifier),
		"dueDate":     "2025-02-01",
		"team":        map[string]any{"id": "team-eng", "key": "ENG"},
		"state":       map[string]any{"id": "st-todo", "name": "Todo", "type": "unstarted"},
		"assignee":    map[string]any{"id": "u-ada", "name": "Ada", "email": "ada@example.com"},
		"labels":      map[string]any{"nodes": []any{map[string]any{"id": "lb-bug", "name": "Bug"}}},
		"project":     nil,
		"parent":      map[string]any{"id": "uuid-ENG-1", "identifier": "ENG-1"},
	}
}

func TestTeamContext(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("TeamContext", map[string]any{
		"teams": map[string]any{"nodes": []any{map[string]any{
			"id": "team-eng", "key": "ENG", "name": "Engineering",
			"states": map[string]any{"nodes": []any{
				map[string]any{"id": "st-done", "name": "Done", "type": "completed", "position": 0},
				map[string]any{"id": "st-todo", "name": "Todo", "type": "unstarted", "position": 1},
				map[string]any{"id": "st-backlog", "name": "Backlog", "type": "backlog", "position": 0},
			}},
			"labels":   map[string]any{"nodes": []any{map[string]any{"id": "lb-bug", "name": "Bug"}}},
			"members":  map[string]any{"nodes": []any{map[string]any{"id": "u-ada", "name": "Ada", "email": "ada@example.com"}}},
			"projects": map[string]any{"nodes": []any{}},
		}}},
	})

	data, err := c.TeamContext(context.Background(), "ENG")
	require.NoError(t, err)
	assert.Equal(t, tracker.Team{ID: "team-eng", Key: "ENG", Name: "Engineering"}, data.Team)
	require.Len(t, data.States, 3)
	assert.Equal(t, []string{"Backlog", "Todo", "Done"}, []string{data.States[0].Name, data.States[1].Name, data.States[2].Name})
	assert.Equal(t, "ada@example.com", data.Members[0].Email)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "lin_api_test", reqs[0].Headers.Get("Authorization"))
	assert.Equal(t, "application/json", reqs[0].Headers.Get("Content-Type"))
	assert.Equal(t, "ENG", reqs[0].Variables["key"])
}

func TestTeamContextFollowsListPages(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("TeamContext", map[string]any{
		"teams": map[string]any{"nodes": []any{map[string]any{
			"id": "team-eng", "key": "ENG", "name": "Engineering",
			"states": map[string]any{"nodes": []any{}},
			"labels": map[string]any{
				"nodes":    []any{map[string]any{"id": "lb-bug", "name": "Bug"}},
				"pageInfo": map[string]any{"hasNextPage": true, "endCursor": "labels-1"},
			},
			"members":  map[string]any{"nodes": []any{}},
			"projects": map[string]any{"nodes": []any{}},
		}}},
	})
	srv.Handle("TeamLabels", func(vars map[string]any) testutil.MockResponse {
		return testutil.MockResponse{Body: map[string]any{"data": map[string]any{"team": map[string]any{
			"labels": map[string]any{
				"nodes":    []any{map[string]any{"id": "lb-security", "name": "Security"}},
				"pageInfo": map[string]any{"hasNextPage": false, "endCursor": "labels-2"},
			},
		}}}}
	})

	data, err := c.TeamContext(context.Background(), "ENG")
	require.NoError(t, err)
	assert.Equal(t, []tracker.Label{{ID: "lb-bug", Name: "Bug"}, {ID: "lb-security", Name: "Security"}}, data.Labels)

	require.Equal(t, 1, srv.RequestCount("TeamLabels"))
	for _, r := range srv.Requests() {
		if r.Operation == "TeamLabels" {
			assert.Equal(t, "labels-1", r.Variables["after"])
			assert.Equal(t, "team-eng", r.Variables["teamId"])
		}
	}
	assert.Zero(t, srv.RequestCount("TeamStates"))
}

func TestTeamContextUnknownTeam(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("TeamContext", map[string]any{"teams": map[string]any{"nodes": []any{}}})

	_, err := c.TeamContext(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, tracker.ErrNotFound), "got %v", err)
}

func TestGetIssue(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("Issue", map[string]any{"issue": issueNode("ENG-7", "Fix login")})

	is, err := c.GetIssue(context.Background(), "ENG-7")
	require.NoError(t, err)
	assert.Equal(t, "uuid-ENG-7", is.ID)
	assert.Equal(t, "Fix login", is.Title)
	assert.Equal(t, 2, is.Priority)
	assert.Equal(t, "ENG", is.TeamKey)
	assert.Equal(t, "Todo", is.State.Name)
	assert.Equal(t, []string{"lb-bug"}, is.LabelIDs())
	assert.Equal(t, "ENG-1", is.Parent.Identifier)
	assert.Equal(t, "2025-02-01", is.DueDate)
	assert.Equal(t, "ada/eng-7", is.BranchName)
	assert.Nil(t, is.Project)
}

func TestGetIssueNotFound(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetErrors("Issue", http.StatusOK, map[string]any{
		"message":    "Entity not found: Issue",
		"extensions": map[string]any{"code": "INPUT_ERROR", "userPresentableMessage": "Could not find referenced Issue."},
	})

	_, err := c.GetIssue(context.Background(), "ENG-404")
	assert.True(t, errors.Is(err, tracker.ErrNotFound), "got %v", err)
	assert.False(t, tracker.IsRetryable(err))
}

func TestListIssuesPaginates(t *testing.T) {
	c, srv := newTestClient(t)
	srv.Handle("TeamIssues", func(vars map[string]any) testutil.MockResponse {
		if vars["after"] == nil {
			return testutil.MockResponse{Body: map[string]any{"data": map[string]any{"issues": map[string]any{
				"nodes":    []any{issueNode("ENG-1", "one"), issueNode("ENG-2", "two")},
				"pageInfo": map[string]any{"hasNextPage": true, "endCursor": "cursor-1"},
			}}}}
		}
		return testutil.MockResponse{Body: map[string]any{"data": map[string]any{"issues": map[string]any{
			"nodes":    []any{issueNode("ENG-3", "three")},
			"pageInfo": map[string]any{"hasNextPage": true, "endCursor": "cursor-2"},
		}}}}
	})

	issues, err := c.ListIssues(context.Background(), "team-eng", 3)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, "ENG-3", issues[2].Identifier)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, float64(3), reqs[0].Variables["first"])
	assert.Equal(t, "cursor-1", reqs[1].Variables["after"])
	assert.Equal(t, float64(1), reqs[1].Variables["first"])
	assert.Equal(t, "team-eng", reqs[1].Variables["teamId"])
}

func TestSearchIssuesByTitle(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("SearchIssueTitle", map[string]any{"issues": map[string]any{
		"nodes": []any{issueNode("ENG-9", "Fix login")},
	}})

	issues, err := c.SearchIssuesByTitle(context.Background(), "team-eng", "fix login")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "fix login", srv.Requests()[0].Variables["title"])
}

func TestCreateIssue(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("IssueCreate", map[string]any{"issueCreate": map[string]any{
		"success": true,
		"issue":   map[string]any{"id": "uuid-ENG-10", "identifier": "ENG-10", "title": "New", "url": "https://linear.app/x"},
	}})

	ref, err := c.CreateIssue(context.Background(), "team-eng", tracker.IssueFields{
		tracker.WireTitle:    "New",
		tracker.WireLabelIDs: []string{"lb-bug"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ENG-10", ref.Identifier)

	input := srv.Requests()[0].Variables["input"].(map[string]any)
	assert.Equal(t, "team-eng", input["teamId"])
	assert.Equal(t, []any{"lb-bug"}, input["labelIds"])
}

func TestCreateIssueUnsuccessful(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("IssueCreate", map[string]any{"issueCreate": map[string]any{"success": false}})

	_, err := c.CreateIssue(context.Background(), "team-eng", tracker.IssueFields{tracker.WireTitle: "x"})
	assert.Error(t, err)
}

func TestUpdateIssueOmitsTeam(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("IssueUpdate", map[string]any{"issueUpdate": map[string]any{
		"success": true,
		"issue":   map[string]any{"id": "uuid-ENG-7", "identifier": "ENG-7"},
	}})

	_, err := c.UpdateIssue(context.Background(), "uuid-ENG-7", tracker.IssueFields{
		tracker.WireTeamID:  "team-eng",
		tracker.WireStateID: "st-done",
	})
	require.NoError(t, err)

	req := srv.Requests()[0]
	assert.Equal(t, "uuid-ENG-7", req.Variables["id"])
	input := req.Variables["input"].(map[string]any)
	assert.NotContains(t, input, "teamId")
	assert.Equal(t, "st-done", input["stateId"])
}

func TestErrorClassification(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.SetAuthError(true)
		_, err := c.GetIssue(context.Background(), "ENG-1")
		assert.True(t, errors.Is(err, tracker.ErrUnauthorized), "got %v", err)
		assert.False(t, tracker.IsRetryable(err))
	})

	t.Run("http 429 with retry-after", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.SetRateLimited(1, "2")
		_, err := c.GetIssue(context.Background(), "ENG-1")
		var rl *tracker.RateLimitedError
		require.True(t, errors.As(err, &rl), "got %v", err)
		assert.Equal(t, 2*time.Second, rl.RetryAfter)
		assert.True(t, tracker.IsRetryable(err))
	})

	t.Run("graphql ratelimited code", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.SetErrors("Issue", http.StatusBadRequest, map[string]any{
			"message":    "Rate limit exceeded",
			"extensions": map[string]any{"code": "RATELIMITED"},
		})
		_, err := c.GetIssue(context.Background(), "ENG-1")
		var rl *tracker.RateLimitedError
		assert.True(t, errors.As(err, &rl), "got %v", err)
	})

	t.Run("server error", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.SetServerError(true)
		_, err := c.GetIssue(context.Background(), "ENG-1")
		var se *tracker.ServerError
		require.True(t, errors.As(err, &se), "got %v", err)
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	})

	t.Run("other graphql errors", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.SetErrors("Issue", http.StatusOK, map[string]any{"message": "Argument Validation Error"})
		_, err := c.GetIssue(context.Background(), "ENG-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GraphQL errors: Argument Validation Error")
		assert.False(t, tracker.IsRetryable(err))
	})

	t.Run("transport", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.Close()
		_, err := c.GetIssue(context.Background(), "ENG-1")
		var te *tracker.TransportError
		assert.True(t, errors.As(err, &te), "got %v", err)
	})
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		headers map[string]string
		want    time.Duration
	}{
		{name: "none", want: 0},
		{name: "seconds", headers: map[string]string{"Retry-After": "3"}, want: 3 * time.Second},
		{name: "http date", headers: map[string]string{"Retry-After": now.Add(5 * time.Second).Format(http.TimeFormat)}, want: 5 * time.Second},
		{name: "reset epoch", headers: map[string]string{"X-RateLimit-Requests-Reset": "1735732810000"}, want: 10 * time.Second},
		{name: "reset in past", headers: map[string]string{"X-RateLimit-Requests-Reset": "1735732700000"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, retryAfter(h, now))
		})
	}
}

type mapStore map[string]string

func (m mapStore) GetString(key string) string { return m[key] }

func TestNewFromConfig(t *testing.T) {
	t.Setenv("LINEAR_API_KEY", "")

	_, err := NewFromConfig(tracker.NewConfig("linear", mapStore{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINEAR_API_KEY")

	c, err := NewFromConfig(tracker.NewConfig("linear", mapStore{
		"linear.api_key":      "k",
		"linear.api_endpoint": "http://localhost:1/graphql",
		"linear.timeout":      "5s",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1/graphql", c.endpoint)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)

	_, err = NewFromConfig(tracker.NewConfig("linear", mapStore{"linear.api_key": "k", "linear.timeout": "soon"}))
	assert.Error(t, err)
}

func TestRegisteredInRegistry(t *testing.T) {
	assert.Contains(t, tracker.List(), "linear")

	client, err := tracker.NewClient("linear", mapStore{"linear.api_key": "k"})
	require.NoError(t, err)
	assert.Equal(t, "linear", client.Name())

	_, err = tracker.NewClient("jira", mapStore{})
	assert.ErrorContains(t, err, `unknown tracker "jira"`)
}

// The engine retries throttled mutations sent through the real adapter.
func TestEngineRetriesThrottledMutation(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetData("IssueUpdate", map[string]any{"issueUpdate": map[string]any{
		"success": true,
		"issue":   map[string]any{"id": "uuid-ENG-7", "identifier": "ENG-7"},
	}})

	x := tracker.NewExecutor(c, &tracker.RetryPolicy{MaxAttempts: 4, Initial: time.Millisecond, Max: 5 * time.Millisecond}, nil)
	srv.SetRateLimited(2, "")
	outcomes := x.Execute(context.Background(), []tracker.PlannedItem{{
		Plan: &tracker.Plan{
			Operation:        tracker.OpUpdate,
			TargetID:         "uuid-ENG-7",
			TargetIdentifier: "ENG-7",
			Fields:           tracker.IssueFields{tracker.WireTitle: "Renamed"},
			Changed:          []string{"title"},
		},
	}}, false)

	require.Len(t, outcomes, 1)
	assert.Equal(t, tracker.StatusSucceeded, outcomes[0].Status, outcomes[0].Error)
	assert.Equal(t, 3, outcomes[0].Attempts)
	assert.Equal(t, 3, srv.RequestCount("IssueUpdate"))
}
