// Package testutil provides fakes for exercising the tracker engine and its
// adapters without a real remote tracker.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linearmanager/lm/internal/tracker"
)

// Method names for call counting and fault injection.
const (
	MethodTeamContext = "TeamContext"
	MethodGetIssue    = "GetIssue"
	MethodListIssues  = "ListIssues"
	MethodSearch      = "SearchIssuesByTitle"
	MethodCreate      = "CreateIssue"
	MethodUpdate      = "UpdateIssue"
)

// FakeRemote is an in-memory tracker.RemoteClient. Mutations update the
// stored issues so that a second push sees the first push's effect.
type FakeRemote struct {
	mu     sync.Mutex
	teams  map[string]*tracker.TeamData
	issues map[string]*tracker.RemoteIssue
	order  []string
	seq    map[string]int
	calls  map[string]int
	faults map[string][]error

	// TeamDelay slows TeamContext down so concurrent callers overlap.
	TeamDelay time.Duration
}

// NewFakeRemote returns an empty fake.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		teams:  make(map[string]*tracker.TeamData),
		issues: make(map[string]*tracker.RemoteIssue),
		seq:    make(map[string]int),
		calls:  make(map[string]int),
		faults: make(map[string][]error),
	}
}

// Name implements tracker.RemoteClient.
func (f *FakeRemote) Name() string { return "fake" }

// AddTeam registers a team.
func (f *FakeRemote) AddTeam(data tracker.TeamData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := data
	f.teams[strings.ToUpper(data.Team.Key)] = &d
}

// AddIssue stores an issue. ID defaults to the identifier.
func (f *FakeRemote) AddIssue(is tracker.RemoteIssue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if is.ID == "" {
		is.ID = "id-" + is.Identifier
	}
	if _, ok := f.issues[is.Identifier]; !ok {
		f.order = append(f.order, is.Identifier)
	}
	f.issues[is.Identifier] = &is
}

// Issue returns a copy of the stored issue, or nil.
func (f *FakeRemote) Issue(identifier string) *tracker.RemoteIssue {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[identifier]
	if !ok {
		return nil
	}
	cp := copyIssue(is)
	return &cp
}

// FailNext makes the next len(errs) calls of method return errs in order.
func (f *FakeRemote) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[method] = append(f.faults[method], errs...)
}

// Calls returns how many times method was called.
func (f *FakeRemote) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Mutations returns the number of create and update calls.
func (f *FakeRemote) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[MethodCreate] + f.calls[MethodUpdate]
}

// ResetCalls clears the call counters.
func (f *FakeRemote) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
}

// enter counts the call and pops an injected fault. Callers hold f.mu.
func (f *FakeRemote) enter(method string) error {
	f.calls[method]++
	if q := f.faults[method]; len(q) > 0 {
		f.faults[method] = q[1:]
		return q[0]
	}
	return nil
}

func (f *FakeRemote) TeamContext(ctx context.Context, teamKey string) (*tracker.TeamData, error) {
	f.mu.Lock()
	err := f.enter(MethodTeamContext)
	delay := f.TeamDelay
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &tracker.TransportError{Op: MethodTeamContext, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.teams[strings.ToUpper(teamKey)]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	cp := *data
	return &cp, nil
}

func (f *FakeRemote) GetIssue(ctx context.Context, identifier string) (*tracker.RemoteIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodGetIssue); err != nil {
		return nil, err
	}
	is, ok := f.issues[identifier]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	cp := copyIssue(is)
	return &cp, nil
}

func (f *FakeRemote) ListIssues(ctx context.Context, teamID string, limit int) ([]tracker.RemoteIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodListIssues); err != nil {
		return nil, err
	}
	var out []tracker.RemoteIssue
	for _, id := range f.order {
		is := f.issues[id]
		if is.TeamID != teamID {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, copyIssue(is))
	}
	return out, nil
}

func (f *FakeRemote) SearchIssuesByTitle(ctx context.Context, teamID, title string) ([]tracker.RemoteIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodSearch); err != nil {
		return nil, err
	}
	var out []tracker.RemoteIssue
	for _, id := range f.order {
		is := f.issues[id]
		if is.TeamID == teamID && strings.EqualFold(strings.TrimSpace(is.Title), strings.TrimSpace(title)) {
			out = append(out, copyIssue(is))
		}
	}
	return out, nil
}

func (f *FakeRemote) CreateIssue(ctx context.Context, teamID string, fields tracker.IssueFields) (*tracker.IssueRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodCreate); err != nil {
		return nil, err
	}
	team := f.teamByID(teamID)
	if team == nil {
		return nil, fmt.Errorf("create: unknown team id %q", teamID)
	}
	f.seq[team.Team.Key]++
	identifier := fmt.Sprintf("%s-%d", team.Team.Key, 100+f.seq[team.Team.Key])
	is := &tracker.RemoteIssue{
		ID:         "id-" + identifier,
		Identifier: identifier,
		TeamID:     team.Team.ID,
		TeamKey:    team.Team.Key,
		URL:        "https://tracker.test/issue/" + identifier,
	}
	if err := f.apply(team, is, fields); err != nil {
		return nil, err
	}
	f.issues[identifier] = is
	f.order = append(f.order, identifier)
	return &tracker.IssueRef{ID: is.ID, Identifier: identifier, Title: is.Title, URL: is.URL}, nil
}

func (f *FakeRemote) UpdateIssue(ctx context.Context, issueID string, fields tracker.IssueFields) (*tracker.IssueRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodUpdate); err != nil {
		return nil, err
	}
	var is *tracker.RemoteIssue
	for _, candidate := range f.issues {
		if candidate.ID == issueID || candidate.Identifier == issueID {
			is = candidate
			break
		}
	}
	if is == nil {
		return nil, tracker.ErrNotFound
	}
	if err := f.apply(f.teamByID(is.TeamID), is, fields); err != nil {
		return nil, err
	}
	return &tracker.IssueRef{ID: is.ID, Identifier: is.Identifier, Title: is.Title, URL: is.URL}, nil
}

func (f *FakeRemote) teamByID(id string) *tracker.TeamData {
	for _, t := range f.teams {
		if t.Team.ID == id {
			return t
		}
	}
	return nil
}

// apply writes wire fields onto is, mapping ids back to team objects.
func (f *FakeRemote) apply(team *tracker.TeamData, is *tracker.RemoteIssue, fields tracker.IssueFields) error {
	if team == nil {
		return fmt.Errorf("issue %s has no known team", is.Identifier)
	}
	for key, v := range fields {
		switch key {
		case tracker.WireTeamID:
		case tracker.WireTitle:
			is.Title = v.(string)
		case tracker.WireDescription:
			is.Description = v.(string)
		case tracker.WirePriority:
			is.Priority = v.(int)
		case tracker.WireDueDate:
			is.DueDate = v.(string)
		case tracker.WireStateID:
			is.State = nil
			for _, s := range team.States {
				if s.ID == v.(string) {
					s := s
					is.State = &s
				}
			}
			if is.State == nil {
				return fmt.Errorf("unknown state id %v", v)
			}
		case tracker.WireLabelIDs:
			is.Labels = nil
			for _, id := range v.([]string) {
				found := false
				for _, l := range team.Labels {
					if l.ID == id {
						is.Labels = append(is.Labels, l)
						found = true
					}
				}
				if !found {
					return fmt.Errorf("unknown label id %s", id)
				}
			}
		case tracker.WireAssigneeID:
			is.Assignee = nil
			for _, m := range team.Members {
				if m.ID == v.(string) {
					m := m
					is.Assignee = &m
				}
			}
		case tracker.WireProjectID:
			is.Project = nil
			for _, p := range team.Projects {
				if p.ID == v.(string) {
					p := p
					is.Project = &p
				}
			}
		case tracker.WireParentID:
			is.Parent = nil
			for _, other := range f.issues {
				if other.ID == v.(string) {
					is.Parent = &tracker.IssueRef{ID: other.ID, Identifier: other.Identifier}
				}
			}
		default:
			return fmt.Errorf("unexpected field %q", key)
		}
	}
	return nil
}

func copyIssue(is *tracker.RemoteIssue) tracker.RemoteIssue {
	cp := *is
	cp.Labels = append([]tracker.Label(nil), is.Labels...)
	if is.State != nil {
		s := *is.State
		cp.State = &s
	}
	if is.Assignee != nil {
		m := *is.Assignee
		cp.Assignee = &m
	}
	if is.Project != nil {
		p := *is.Project
		cp.Project = &p
	}
	if is.Parent != nil {
		r := *is.Parent
		cp.Parent = &r
	}
	return cp
}

// EngineeringTeam is a small team fixture used across tests.
func EngineeringTeam() tracker.TeamData {
	return tracker.TeamData{
		Team: tracker.Team{ID: "team-eng", Key: "ENG", Name: "Engineering"},
		States: []tracker.State{
			{ID: "st-backlog", Name: "Backlog", Type: "backlog"},
			{ID: "st-todo", Name: "Todo", Type: "unstarted"},
			{ID: "st-progress", Name: "In Progress", Type: "started"},
			{ID: "st-done", Name: "Done", Type: tracker.StateTypeCompleted},
			{ID: "st-canceled", Name: "Canceled", Type: "canceled"},
		},
		Labels: []tracker.Label{
			{ID: "lb-bug", Name: "Bug"},
			{ID: "lb-feature", Name: "Feature"},
			{ID: "lb-backend", Name: "backend"},
		},
		Members: []tracker.Member{
			{ID: "u-ada", Name: "Ada", Email: "ada@example.com"},
			{ID: "u-lin", Name: "Lin", Email: "lin@example.com"},
		},
		Projects: []tracker.Project{
			{ID: "pj-auth", Name: "Auth Revamp"},
		},
	}
}
