package tracker_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/tracker"
	"github.com/linearmanager/lm/internal/tracker/testutil"
)

func engTeam(doneState string) *tracker.TeamContext {
	data := testutil.EngineeringTeam()
	return tracker.NewTeamContext(&data, doneState)
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

// remoteLogin is an existing issue matching loginEntry exactly.
func remoteLogin() *tracker.RemoteIssue {
	return &tracker.RemoteIssue{
		ID:          "id-ENG-1",
		Identifier:  "ENG-1",
		Title:       "Fix login",
		Description: "Users get logged out.",
		Priority:    2,
		TeamID:      "team-eng",
		TeamKey:     "ENG",
		State:       &tracker.State{ID: "st-todo", Name: "Todo", Type: "unstarted"},
		Assignee:    &tracker.Member{ID: "u-ada", Name: "Ada", Email: "ada@example.com"},
		Labels:      []tracker.Label{{ID: "lb-bug", Name: "Bug"}, {ID: "lb-backend", Name: "backend"}},
	}
}

func loginEntry() *manifest.Entry {
	return &manifest.Entry{
		TeamKey:       "ENG",
		Identifier:    "ENG-1",
		Title:         "Fix login",
		Description:   strPtr("Users get logged out."),
		Priority:      intPtr(2),
		State:         "todo",
		Labels:        []string{"BACKEND", "bug"},
		LabelsSet:     true,
		AssigneeEmail: "Ada@Example.com",
	}
}

func TestPlanChangeCreate(t *testing.T) {
	entry := &manifest.Entry{
		TeamKey:       "ENG",
		Title:         "Add SSO",
		Priority:      intPtr(1),
		State:         "In Progress",
		Labels:        []string{"Feature"},
		LabelsSet:     true,
		AssigneeEmail: "lin@example.com",
		Project:       "auth revamp",
		DueDate:       "2025-03-01",
	}

	plan, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam("")})
	require.NoError(t, err)
	assert.Equal(t, tracker.OpCreate, plan.Operation)
	assert.Equal(t, "team-eng", plan.TeamID)
	assert.Equal(t, tracker.IssueFields{
		tracker.WireTeamID:      "team-eng",
		tracker.WireTitle:       "Add SSO",
		tracker.WireDescription: "",
		tracker.WirePriority:    1,
		tracker.WireStateID:     "st-progress",
		tracker.WireLabelIDs:    []string{"lb-feature"},
		tracker.WireAssigneeID:  "u-lin",
		tracker.WireProjectID:   "pj-auth",
		tracker.WireDueDate:     "2025-03-01",
	}, plan.Fields)
}

func TestPlanChangeNoOpWhenEqual(t *testing.T) {
	plan, err := tracker.PlanChange(tracker.PlanInput{
		Entry:    loginEntry(),
		Team:     engTeam(""),
		Existing: remoteLogin(),
	})
	require.NoError(t, err)
	assert.Equal(t, tracker.OpNoOp, plan.Operation)
	assert.Empty(t, plan.Changed)
	assert.Nil(t, plan.Fields)
	assert.Equal(t, "ENG-1", plan.TargetIdentifier)
}

func TestPlanChangeDiff(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(e *manifest.Entry)
		wantChanged []string
		wantFields  tracker.IssueFields
	}{
		{
			name: "changes are listed in resolution order",
			mutate: func(e *manifest.Entry) {
				e.Title = "Fix login redirect"
				e.Priority = intPtr(1)
				e.Labels = []string{"bug"}
				e.State = "Done"
			},
			wantChanged: []string{manifest.FieldState, manifest.FieldLabels, manifest.FieldPriority, manifest.FieldTitle},
			wantFields: tracker.IssueFields{
				tracker.WireStateID:  "st-done",
				tracker.WireLabelIDs: []string{"lb-bug"},
				tracker.WirePriority: 1,
				tracker.WireTitle:    "Fix login redirect",
			},
		},
		{
			name: "explicit empty labels clear them",
			mutate: func(e *manifest.Entry) {
				e.Labels = nil
			},
			wantChanged: []string{manifest.FieldLabels},
			wantFields:  tracker.IssueFields{tracker.WireLabelIDs: []string{}},
		},
		{
			name: "omitted fields are left alone",
			mutate: func(e *manifest.Entry) {
				e.Labels, e.LabelsSet = nil, false
				e.Description = nil
				e.Priority = nil
				e.State = ""
				e.AssigneeEmail = ""
			},
		},
		{
			name: "empty description clears it",
			mutate: func(e *manifest.Entry) {
				e.Description = strPtr("")
			},
			wantChanged: []string{manifest.FieldDescription},
			wantFields:  tracker.IssueFields{tracker.WireDescription: ""},
		},
		{
			name: "description whitespace is significant",
			mutate: func(e *manifest.Entry) {
				e.Description = strPtr("Users get logged out.\n")
			},
			wantChanged: []string{manifest.FieldDescription},
			wantFields:  tracker.IssueFields{tracker.WireDescription: "Users get logged out.\n"},
		},
		{
			name: "assignee and project",
			mutate: func(e *manifest.Entry) {
				e.AssigneeEmail = "lin@example.com"
				e.Project = "Auth Revamp"
			},
			wantChanged: []string{manifest.FieldAssigneeEmail, manifest.FieldProject},
			wantFields:  tracker.IssueFields{tracker.WireAssigneeID: "u-lin", tracker.WireProjectID: "pj-auth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := loginEntry()
			tt.mutate(entry)
			plan, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin()})
			require.NoError(t, err)

			if len(tt.wantChanged) == 0 {
				assert.Equal(t, tracker.OpNoOp, plan.Operation)
				return
			}
			assert.Equal(t, tracker.OpUpdate, plan.Operation)
			assert.Equal(t, "id-ENG-1", plan.TargetID)
			assert.Equal(t, tt.wantChanged, plan.Changed)
			assert.Equal(t, tt.wantFields, plan.Fields)
		})
	}
}

func TestPlanChangeResolutionErrors(t *testing.T) {
	t.Run("unknown label lists the team's labels", func(t *testing.T) {
		entry := loginEntry()
		entry.Labels = []string{"bug", "Urgent", "p0"}
		_, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin()})

		var re *tracker.ResolutionError
		require.True(t, errors.As(err, &re), "got %v", err)
		assert.Equal(t, tracker.KindLabel, re.Kind)
		assert.Equal(t, []string{"Urgent", "p0"}, re.Names)
		assert.EqualError(t, err, `unknown labels "Urgent", "p0" for team ENG (available: Bug, Feature, backend)`)
	})

	t.Run("state is resolved before labels", func(t *testing.T) {
		entry := loginEntry()
		entry.State = "Shipping"
		entry.Labels = []string{"Urgent"}
		_, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin()})

		var re *tracker.ResolutionError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, tracker.KindState, re.Kind)
		assert.Contains(t, err.Error(), "Backlog, Todo, In Progress, Done, Canceled")
	})

	t.Run("unknown assignee", func(t *testing.T) {
		entry := loginEntry()
		entry.AssigneeEmail = "ghost@example.com"
		_, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin()})
		assert.ErrorContains(t, err, `unknown member "ghost@example.com" for team ENG (available: ada@example.com, lin@example.com)`)
	})

	t.Run("parent without snapshot", func(t *testing.T) {
		entry := loginEntry()
		entry.Parent = "ENG-404"
		_, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin()})
		var re *tracker.ResolutionError
		require.True(t, errors.As(err, &re))
		assert.Equal(t, tracker.KindParent, re.Kind)
	})

	t.Run("update without snapshot", func(t *testing.T) {
		_, err := tracker.PlanChange(tracker.PlanInput{Entry: loginEntry(), Team: engTeam("")})
		assert.Error(t, err)
	})
}

func TestPlanChangeParent(t *testing.T) {
	entry := loginEntry()
	entry.Parent = "ENG-0"
	parent := &tracker.RemoteIssue{ID: "id-ENG-0", Identifier: "ENG-0"}

	plan, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin(), Parent: parent})
	require.NoError(t, err)
	assert.Equal(t, []string{manifest.FieldParent}, plan.Changed)
	assert.Equal(t, "id-ENG-0", plan.Fields[tracker.WireParentID])

	existing := remoteLogin()
	existing.Parent = &tracker.IssueRef{ID: "id-ENG-0", Identifier: "ENG-0"}
	plan, err = tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: existing, Parent: parent})
	require.NoError(t, err)
	assert.Equal(t, tracker.OpNoOp, plan.Operation)
}

func TestPlanChangeBlockedBy(t *testing.T) {
	blockers := []tracker.Blocker{
		{Title: "Rate limit the API", Issue: &tracker.IssueRef{ID: "id-ENG-2", Identifier: "ENG-2", Title: "Rate limit the API", URL: "https://tracker.test/issue/ENG-2"}},
		{Title: "Audit sessions"},
	}
	want := "Users get logged out.\n\n## Blocked By\n" +
		"- [ENG-2](https://tracker.test/issue/ENG-2) - Rate limit the API\n" +
		"- Audit sessions *(not found in Linear)*"

	t.Run("appends to the remote description", func(t *testing.T) {
		entry := loginEntry()
		entry.Description = nil
		entry.BlockedBy = []string{"Rate limit the API", "Audit sessions"}
		plan, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin(), Blockers: blockers})
		require.NoError(t, err)
		assert.Equal(t, tracker.OpUpdate, plan.Operation)
		assert.Equal(t, []string{manifest.FieldDescription}, plan.Changed)
		assert.Equal(t, want, plan.Fields[tracker.WireDescription])
		assert.Nil(t, entry.Description, "input entry must not change")
	})

	t.Run("replaces an existing section", func(t *testing.T) {
		existing := remoteLogin()
		existing.Description = "Users get logged out.\n\n## Blocked By\n- Old blocker *(not found in Linear)*"
		plan, err := tracker.PlanChange(tracker.PlanInput{Entry: loginEntry(), Team: engTeam(""), Existing: existing, Blockers: blockers})
		require.NoError(t, err)
		assert.Equal(t, want, plan.Fields[tracker.WireDescription])
	})

	t.Run("no change once the section matches", func(t *testing.T) {
		existing := remoteLogin()
		existing.Description = want
		plan, err := tracker.PlanChange(tracker.PlanInput{Entry: loginEntry(), Team: engTeam(""), Existing: existing, Blockers: blockers})
		require.NoError(t, err)
		assert.Equal(t, tracker.OpNoOp, plan.Operation)
	})

	t.Run("create without a description", func(t *testing.T) {
		entry := &manifest.Entry{TeamKey: "ENG", Title: "Add SSO"}
		plan, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Blockers: blockers[1:]})
		require.NoError(t, err)
		assert.Equal(t, "## Blocked By\n- Audit sessions *(not found in Linear)*", plan.Fields[tracker.WireDescription])
	})
}

func TestPlanChangeMarkDone(t *testing.T) {
	t.Run("complete without mark-done only notes", func(t *testing.T) {
		entry := loginEntry()
		entry.Complete = true
		plan, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin()})
		require.NoError(t, err)
		assert.Equal(t, tracker.OpNoOp, plan.Operation)
		require.Len(t, plan.Notes, 1)
		assert.Contains(t, plan.Notes[0], "--mark-done")
	})

	t.Run("mark-done moves to the completed state", func(t *testing.T) {
		entry := loginEntry()
		entry.Complete = true
		plan, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam(""), Existing: remoteLogin(), MarkDone: true})
		require.NoError(t, err)
		assert.Equal(t, []string{manifest.FieldState}, plan.Changed)
		assert.Equal(t, "st-done", plan.Fields[tracker.WireStateID])
		require.Len(t, plan.Notes, 1)
		assert.Equal(t, "todo", entry.State, "caller's entry must not change")
	})

	t.Run("configured done state", func(t *testing.T) {
		entry := loginEntry()
		entry.Complete = true
		entry.State = ""
		plan, err := tracker.PlanChange(tracker.PlanInput{Entry: entry, Team: engTeam("canceled"), Existing: remoteLogin(), MarkDone: true})
		require.NoError(t, err)
		assert.Equal(t, "st-canceled", plan.Fields[tracker.WireStateID])
		assert.Empty(t, plan.Notes)
	})

	t.Run("team without a completed state", func(t *testing.T) {
		data := testutil.EngineeringTeam()
		var states []tracker.State
		for _, s := range data.States {
			if s.Type != tracker.StateTypeCompleted {
				states = append(states, s)
			}
		}
		data.States = states
		entry := loginEntry()
		entry.Complete = true

		_, err := tracker.PlanChange(tracker.PlanInput{
			Entry: entry, Team: tracker.NewTeamContext(&data, ""), Existing: remoteLogin(), MarkDone: true,
		})
		var re *tracker.ResolutionError
		require.True(t, errors.As(err, &re), "got %v", err)
		assert.Equal(t, tracker.KindDoneState, re.Kind)
		assert.True(t, strings.HasPrefix(err.Error(), "team ENG has no completed workflow state"))
	})
}

func TestTeamContextLookups(t *testing.T) {
	data := testutil.EngineeringTeam()
	data.Labels = append(data.Labels, tracker.Label{ID: "lb-bug-2", Name: "BUG"})
	tc := tracker.NewTeamContext(&data, "")

	l, err := tc.LookupLabel("bug")
	require.NoError(t, err)
	assert.Equal(t, "lb-bug", l.ID, "first label wins on case collisions")

	s, err := tc.LookupState("  in progress ")
	require.NoError(t, err)
	assert.Equal(t, "st-progress", s.ID)

	m, err := tc.LookupMember("LIN@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "u-lin", m.ID)

	_, err = tc.LookupProject("Billing")
	assert.EqualError(t, err, `unknown project "Billing" for team ENG (available: Auth Revamp)`)

	done, err := tc.DoneState()
	require.NoError(t, err)
	assert.Equal(t, "Done", done.Name)

	if !reflect.DeepEqual(tc.MemberEmails(), []string{"ada@example.com", "lin@example.com"}) {
		t.Errorf("MemberEmails() = %v", tc.MemberEmails())
	}
}
