// Package tracker reconciles manifest entries with a remote issue tracker.
//
// Push runs in two phases: Engine.Plan resolves every entry into a Plan
// (create, update or no-op) using per-team lookup tables, then an Executor
// applies the plans in order with retries. Pull maps remote issues back to
// manifest entries.
package tracker

import (
	"context"
)

// RemoteClient is the capability the engine needs from a remote issue
// tracker. Every method is a network call that may fail with one of the
// errors in errors.go.
type RemoteClient interface {
	// Name is the short tracker name used in logs ("linear").
	Name() string

	// TeamContext fetches the team with the given key together with its
	// workflow states, labels, members and projects in as few round trips
	// as the tracker allows. Returns ErrNotFound for an unknown key.
	TeamContext(ctx context.Context, teamKey string) (*TeamData, error)

	// GetIssue fetches one issue by its human identifier ("ENG-123").
	GetIssue(ctx context.Context, identifier string) (*RemoteIssue, error)

	// ListIssues fetches up to limit issues of a team, most recently
	// updated first.
	ListIssues(ctx context.Context, teamID string, limit int) ([]RemoteIssue, error)

	// SearchIssuesByTitle returns issues in the team whose title matches
	// title, ignoring case.
	SearchIssuesByTitle(ctx context.Context, teamID, title string) ([]RemoteIssue, error)

	CreateIssue(ctx context.Context, teamID string, fields IssueFields) (*IssueRef, error)
	UpdateIssue(ctx context.Context, issueID string, fields IssueFields) (*IssueRef, error)
}

// Team identifies a remote team.
type Team struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// State is a workflow state. Type is the tracker's category for it
// ("backlog", "unstarted", "started", "completed", "canceled").
type State struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// StateTypeCompleted is the workflow state category for done states.
const StateTypeCompleted = "completed"

type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TeamData is everything needed to build a TeamContext.
type TeamData struct {
	Team     Team
	States   []State
	Labels   []Label
	Members  []Member
	Projects []Project
}

// IssueRef is what a mutation returns.
type IssueRef struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
}

// RemoteIssue is a snapshot of an issue as the remote tracker reports it.
type RemoteIssue struct {
	ID          string
	Identifier  string
	Title       string
	Description string
	Priority    int
	URL         string
	BranchName  string
	DueDate     string

	TeamID  string
	TeamKey string

	State    *State
	Assignee *Member
	Labels   []Label
	Project  *Project
	Parent   *IssueRef
}

// LabelIDs returns the ids of the issue's labels.
func (i *RemoteIssue) LabelIDs() []string {
	ids := make([]string, len(i.Labels))
	for n, l := range i.Labels {
		ids[n] = l.ID
	}
	return ids
}

// Wire field names for IssueFields.
const (
	WireTeamID      = "teamId"
	WireTitle       = "title"
	WireDescription = "description"
	WirePriority    = "priority"
	WireStateID     = "stateId"
	WireLabelIDs    = "labelIds"
	WireAssigneeID  = "assigneeId"
	WireProjectID   = "projectId"
	WireParentID    = "parentId"
	WireDueDate     = "dueDate"
)

// IssueFields maps wire field names to resolved values, ready to send.
type IssueFields map[string]any
