package linear

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/linearmanager/lm/internal/tracker"
)

func init() {
	tracker.Register("linear", func(cfg *tracker.Config) (tracker.RemoteClient, error) {
		return NewFromConfig(cfg)
	})
}

// Config keys under the "linear" prefix.
const (
	KeyAPIKey   = "api_key"
	KeyEndpoint = "api_endpoint"
	KeyTimeout  = "timeout"
)

// NewFromConfig builds a client from linear.* settings.
func NewFromConfig(cfg *tracker.Config) (*Client, error) {
	apiKey, err := cfg.GetRequired(KeyAPIKey)
	if err != nil {
		return nil, err
	}
	c := NewClient(apiKey)
	if endpoint := cfg.Get(KeyEndpoint); endpoint != "" {
		c = c.WithEndpoint(endpoint)
	}
	timeout, err := cfg.GetDuration(KeyTimeout, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	c.httpClient.Timeout = timeout
	return c, nil
}

type connection[T any] struct {
	Nodes    []T `json:"nodes"`
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
}

type teamNode struct {
	ID       string                      `json:"id"`
	Key      string                      `json:"key"`
	Name     string                      `json:"name"`
	States   connection[stateNode]       `json:"states"`
	Labels   connection[tracker.Label]   `json:"labels"`
	Members  connection[tracker.Member]  `json:"members"`
	Projects connection[tracker.Project] `json:"projects"`
}

type stateNode struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Position float64 `json:"position"`
}

// Issue is an issue as returned by the IssueFields fragment.
type Issue struct {
	ID          string                    `json:"id"`
	Identifier  string                    `json:"identifier"`
	Title       string                    `json:"title"`
	Description *string                   `json:"description"`
	Priority    float64                   `json:"priority"`
	URL         string                    `json:"url"`
	BranchName  string                    `json:"branchName"`
	DueDate     *string                   `json:"dueDate"`
	Team        *tracker.Team             `json:"team"`
	State       *tracker.State            `json:"state"`
	Assignee    *tracker.Member           `json:"assignee"`
	Labels      connection[tracker.Label] `json:"labels"`
	Project     *tracker.Project          `json:"project"`
	Parent      *tracker.IssueRef         `json:"parent"`
}

func (i *Issue) toRemote() tracker.RemoteIssue {
	r := tracker.RemoteIssue{
		ID:         i.ID,
		Identifier: i.Identifier,
		Title:      i.Title,
		Priority:   int(i.Priority),
		URL:        i.URL,
		BranchName: i.BranchName,
		State:      i.State,
		Assignee:   i.Assignee,
		Labels:     i.Labels.Nodes,
		Project:    i.Project,
		Parent:     i.Parent,
	}
	if i.Description != nil {
		r.Description = *i.Description
	}
	if i.DueDate != nil {
		r.DueDate = *i.DueDate
	}
	if i.Team != nil {
		r.TeamID = i.Team.ID
		r.TeamKey = i.Team.Key
	}
	return r
}

type mutationPayload struct {
	Success bool             `json:"success"`
	Issue   tracker.IssueRef `json:"issue"`
}

// TeamContext implements tracker.RemoteClient in a single request.
func (c *Client) TeamContext(ctx context.Context, teamKey string) (*tracker.TeamData, error) {
	var data struct {
		Teams connection[teamNode] `json:"teams"`
	}
	if err := c.execute(ctx, "TeamContext", queryTeamContext, map[string]any{"key": teamKey}, &data); err != nil {
		return nil, err
	}
	if len(data.Teams.Nodes) == 0 {
		return nil, fmt.Errorf("team %s: %w", teamKey, tracker.ErrNotFound)
	}
	t := data.Teams.Nodes[0]

	states, err := restOfTeamList(ctx, c, t.ID, "states", stateSelection, t.States)
	if err != nil {
		return nil, err
	}
	labels, err := restOfTeamList(ctx, c, t.ID, "labels", labelSelection, t.Labels)
	if err != nil {
		return nil, err
	}
	members, err := restOfTeamList(ctx, c, t.ID, "members", memberSelection, t.Members)
	if err != nil {
		return nil, err
	}
	projects, err := restOfTeamList(ctx, c, t.ID, "projects", projectSelection, t.Projects)
	if err != nil {
		return nil, err
	}
	return &tracker.TeamData{
		Team:     tracker.Team{ID: t.ID, Key: t.Key, Name: t.Name},
		States:   sortStates(states),
		Labels:   labels,
		Members:  members,
		Projects: projects,
	}, nil
}

// restOfTeamList returns every node of a team list, following pages past
// the first one TeamContext already fetched.
func restOfTeamList[T any](ctx context.Context, c *Client, teamID, field, selection string, first connection[T]) ([]T, error) {
	out := first.Nodes
	page := first.PageInfo
	if !page.HasNextPage {
		return out, nil
	}
	op := "Team" + strings.ToUpper(field[:1]) + field[1:]
	query := teamListQuery(op, field, selection)
	for page.HasNextPage && page.EndCursor != "" {
		var data struct {
			Team map[string]connection[T] `json:"team"`
		}
		vars := map[string]any{"teamId": teamID, "after": page.EndCursor}
		if err := c.execute(ctx, op, query, vars, &data); err != nil {
			return nil, fmt.Errorf("team %s: %w", field, err)
		}
		next := data.Team[field]
		out = append(out, next.Nodes...)
		page = next.PageInfo
	}
	return out, nil
}

// sortStates orders states the way Linear shows them: by workflow type,
// then by position within the type.
func sortStates(nodes []stateNode) []tracker.State {
	rank := map[string]int{"triage": 0, "backlog": 1, "unstarted": 2, "started": 3, "completed": 4, "canceled": 5}
	sorted := append([]stateNode(nil), nodes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rank[sorted[i].Type], rank[sorted[j].Type]
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Position < sorted[j].Position
	})
	out := make([]tracker.State, len(sorted))
	for i, s := range sorted {
		out[i] = tracker.State{ID: s.ID, Name: s.Name, Type: s.Type}
	}
	return out
}

// GetIssue implements tracker.RemoteClient. Linear accepts the human
// identifier wherever it accepts an id.
func (c *Client) GetIssue(ctx context.Context, identifier string) (*tracker.RemoteIssue, error) {
	var data struct {
		Issue *Issue `json:"issue"`
	}
	if err := c.execute(ctx, "Issue", queryIssue, map[string]any{"id": identifier}, &data); err != nil {
		return nil, err
	}
	if data.Issue == nil {
		return nil, fmt.Errorf("issue %s: %w", identifier, tracker.ErrNotFound)
	}
	r := data.Issue.toRemote()
	return &r, nil
}

// ListIssues implements tracker.RemoteClient, following cursors until
// limit issues are collected or the team runs out.
func (c *Client) ListIssues(ctx context.Context, teamID string, limit int) ([]tracker.RemoteIssue, error) {
	var out []tracker.RemoteIssue
	var cursor string
	for {
		first := pageSize
		if limit > 0 && limit-len(out) < first {
			first = limit - len(out)
		}
		vars := map[string]any{"teamId": teamID, "first": first}
		if cursor != "" {
			vars["after"] = cursor
		}
		var data struct {
			Issues connection[Issue] `json:"issues"`
		}
		if err := c.execute(ctx, "TeamIssues", queryTeamIssues, vars, &data); err != nil {
			return nil, err
		}
		for i := range data.Issues.Nodes {
			out = append(out, data.Issues.Nodes[i].toRemote())
		}
		if !data.Issues.PageInfo.HasNextPage || (limit > 0 && len(out) >= limit) {
			break
		}
		cursor = data.Issues.PageInfo.EndCursor
		if cursor == "" {
			break
		}
	}
	return out, nil
}

// SearchIssuesByTitle implements tracker.RemoteClient.
func (c *Client) SearchIssuesByTitle(ctx context.Context, teamID, title string) ([]tracker.RemoteIssue, error) {
	var data struct {
		Issues connection[Issue] `json:"issues"`
	}
	vars := map[string]any{"teamId": teamID, "title": title}
	if err := c.execute(ctx, "SearchIssueTitle", querySearchTitle, vars, &data); err != nil {
		return nil, err
	}
	out := make([]tracker.RemoteIssue, len(data.Issues.Nodes))
	for i := range data.Issues.Nodes {
		out[i] = data.Issues.Nodes[i].toRemote()
	}
	return out, nil
}

// CreateIssue implements tracker.RemoteClient.
func (c *Client) CreateIssue(ctx context.Context, teamID string, fields tracker.IssueFields) (*tracker.IssueRef, error) {
	input := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		input[k] = v
	}
	input[tracker.WireTeamID] = teamID

	var data struct {
		IssueCreate mutationPayload `json:"issueCreate"`
	}
	if err := c.execute(ctx, "IssueCreate", mutationIssueCreate, map[string]any{"input": input}, &data); err != nil {
		return nil, err
	}
	if !data.IssueCreate.Success {
		return nil, fmt.Errorf("issue creation reported as unsuccessful")
	}
	return &data.IssueCreate.Issue, nil
}

// UpdateIssue implements tracker.RemoteClient.
func (c *Client) UpdateIssue(ctx context.Context, issueID string, fields tracker.IssueFields) (*tracker.IssueRef, error) {
	input := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == tracker.WireTeamID {
			continue
		}
		input[k] = v
	}

	var data struct {
		IssueUpdate mutationPayload `json:"issueUpdate"`
	}
	vars := map[string]any{"id": issueID, "input": input}
	if err := c.execute(ctx, "IssueUpdate", mutationIssueUpdate, vars, &data); err != nil {
		return nil, err
	}
	if !data.IssueUpdate.Success {
		return nil, fmt.Errorf("issue update reported as unsuccessful")
	}
	return &data.IssueUpdate.Issue, nil
}

var _ tracker.RemoteClient = (*Client)(nil)
