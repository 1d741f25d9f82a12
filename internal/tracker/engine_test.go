package tracker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/tracker"
	"github.com/linearmanager/lm/internal/tracker/testutil"
)

func newEngine(fake *testutil.FakeRemote) *tracker.Engine {
	return tracker.NewEngine(fake, tracker.Options{Retry: fastRetry(3), Concurrency: 2})
}

func yamlDoc(t *testing.T, path, src string) *manifest.Document {
	t.Helper()
	doc, err := manifest.Decode([]byte(src), manifest.FormatYAML)
	require.NoError(t, err)
	doc.Path = path
	return doc
}

// seeded returns a fake with ENG-1 and ENG-2 already on the remote.
func seeded() *testutil.FakeRemote {
	f := newFake()
	f.AddIssue(*remoteLogin())
	f.AddIssue(tracker.RemoteIssue{
		Identifier: "ENG-2",
		Title:      "Rate limit the API",
		Priority:   3,
		TeamID:     "team-eng",
		TeamKey:    "ENG",
		State:      &tracker.State{ID: "st-backlog", Name: "Backlog", Type: "backlog"},
	})
	return f
}

func statuses(r *tracker.Report) []tracker.Status {
	out := make([]tracker.Status, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out[i] = o.Status
	}
	return out
}

const updateManifest = `
defaults:
  team_key: eng
issues:
  - identifier: ENG-1
    title: Fix login redirect
    status: In Progress
    labels: [bug]
  - id: ENG-2
    priority: 1
    assignee: lin@example.com
`

func TestPushIsIdempotent(t *testing.T) {
	fake := seeded()
	engine := newEngine(fake)
	docs := []*manifest.Document{yamlDoc(t, "work.yaml", updateManifest)}

	first := engine.Push(context.Background(), docs, tracker.PushOptions{})
	require.True(t, first.OK(), "%+v", first.Outcomes)
	assert.Equal(t, tracker.Summary{Updated: 2}, first.Summary())
	assert.Equal(t, []string{"state", "labels", "title"}, first.Outcomes[0].Changed)
	assert.Equal(t, []string{"assignee_email", "priority"}, first.Outcomes[1].Changed)
	assert.Equal(t, "work.yaml#1", first.Outcomes[0].Source)
	assert.Equal(t, 2, fake.Mutations())

	got := fake.Issue("ENG-1")
	assert.Equal(t, "Fix login redirect", got.Title)
	assert.Equal(t, "In Progress", got.State.Name)
	assert.Equal(t, []string{"lb-bug"}, got.LabelIDs())

	fake.ResetCalls()
	second := engine.Push(context.Background(), docs, tracker.PushOptions{})
	require.True(t, second.OK())
	assert.Equal(t, tracker.Summary{Unchanged: 2}, second.Summary())
	assert.Zero(t, fake.Mutations())
}

func TestPushCreates(t *testing.T) {
	fake := newFake()
	engine := newEngine(fake)
	doc := yamlDoc(t, "sso.yaml", `
team: ENG
title: Add SSO
description: |
  Support Okta.
priority: "2"
labels: Feature, backend
project: Auth Revamp
`)

	report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	require.True(t, report.OK(), "%+v", report.Outcomes)
	o := report.Outcomes[0]
	assert.Equal(t, tracker.OpCreate, o.Operation)
	assert.Equal(t, "ENG-101", o.Identifier)
	assert.Equal(t, "https://tracker.test/issue/ENG-101", o.URL)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, "sso.yaml", o.Source)

	created := fake.Issue("ENG-101")
	require.NotNil(t, created)
	assert.Equal(t, "Support Okta.\n", created.Description)
	assert.Equal(t, 2, created.Priority)
	assert.Equal(t, "Auth Revamp", created.Project.Name)
	assert.ElementsMatch(t, []string{"lb-feature", "lb-backend"}, created.LabelIDs())
}

func TestPushPartialFailureKeepsOrder(t *testing.T) {
	fake := seeded()
	engine := newEngine(fake)
	doc := yamlDoc(t, "batch.yaml", `
defaults:
  team_key: ENG
issues:
  - identifier: ENG-1
    priority: 4
  - identifier: ENG-2
    labels: [bug, Urgent]
  - title: Brand new
`)

	var seen []string
	engine.OnOutcome = func(o tracker.Outcome) { seen = append(seen, o.Source) }
	report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})

	assert.False(t, report.OK())
	assert.Equal(t, []tracker.Status{tracker.StatusSucceeded, tracker.StatusFailed, tracker.StatusSucceeded}, statuses(report))
	assert.Equal(t, []string{"batch.yaml#1", "batch.yaml#2", "batch.yaml#3"}, seen)

	var re *tracker.ResolutionError
	require.True(t, errors.As(report.Outcomes[1].Err, &re))
	assert.Equal(t, []string{"Urgent"}, re.Names)
	assert.Contains(t, report.Outcomes[1].Error, "available: Bug, Feature, backend")
	assert.Equal(t, 2, fake.Mutations())
}

func TestPushInvalidEntryDoesNotStopOthers(t *testing.T) {
	fake := seeded()
	engine := newEngine(fake)
	doc := yamlDoc(t, "mixed.yaml", `
defaults:
  team_key: ENG
issues:
  - title: Needs triage
    priority: 9
  - identifier: ENG-2
    title: Rate limit the public API
`)

	report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	require.Len(t, report.Outcomes, 2)
	var ve *tracker.ValidationError
	assert.True(t, errors.As(report.Outcomes[0].Err, &ve), "got %v", report.Outcomes[0].Err)
	assert.Equal(t, "Needs triage", report.Outcomes[0].Title)
	assert.Equal(t, tracker.StatusSucceeded, report.Outcomes[1].Status)
}

func TestPushDryRunMatchesRealRun(t *testing.T) {
	fake := seeded()
	engine := newEngine(fake)
	docs := []*manifest.Document{yamlDoc(t, "work.yaml", updateManifest)}

	dry := engine.Push(context.Background(), docs, tracker.PushOptions{DryRun: true})
	require.True(t, dry.OK())
	assert.Zero(t, fake.Mutations())
	for _, o := range dry.Outcomes {
		assert.True(t, o.DryRun)
		assert.NotEmpty(t, o.Fields)
	}

	real := engine.Push(context.Background(), docs, tracker.PushOptions{})
	require.Len(t, real.Outcomes, len(dry.Outcomes))
	for i := range real.Outcomes {
		assert.Equal(t, dry.Outcomes[i].Operation, real.Outcomes[i].Operation)
		assert.Equal(t, dry.Outcomes[i].Changed, real.Outcomes[i].Changed)
	}
}

func TestPushRetriesThrottledMutation(t *testing.T) {
	fake := seeded()
	fake.FailNext(testutil.MethodUpdate, &tracker.RateLimitedError{}, &tracker.RateLimitedError{})
	engine := newEngine(fake)
	doc := yamlDoc(t, "one.yaml", "team_key: ENG\nidentifier: ENG-2\npriority: 1\n")

	report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	require.True(t, report.OK(), "%+v", report.Outcomes)
	assert.Equal(t, 3, report.Outcomes[0].Attempts)
	assert.Equal(t, 3, fake.Calls(testutil.MethodUpdate))
	assert.Equal(t, 1, fake.Issue("ENG-2").Priority)
}

func TestPushRetriesExhausted(t *testing.T) {
	fake := seeded()
	fail := &tracker.ServerError{StatusCode: 503, Message: "unavailable"}
	fake.FailNext(testutil.MethodUpdate, fail, fail, fail)
	engine := newEngine(fake)
	doc := yamlDoc(t, "one.yaml", "team_key: ENG\nidentifier: ENG-2\npriority: 1\n")

	report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	o := report.Outcomes[0]
	assert.Equal(t, tracker.StatusFailed, o.Status)
	assert.Equal(t, 3, o.Attempts)
	assert.True(t, errors.Is(o.Err, tracker.ErrRetriesExhausted), "got %v", o.Err)
	assert.Equal(t, []string{"priority"}, o.Changed)
}

func TestPushDoesNotRetryPermanentErrors(t *testing.T) {
	fake := newFake()
	fake.FailNext(testutil.MethodCreate, errors.New("title too long"))
	engine := newEngine(fake)
	doc := yamlDoc(t, "one.yaml", "team_key: ENG\ntitle: Something\n")

	report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	o := report.Outcomes[0]
	assert.Equal(t, tracker.StatusFailed, o.Status)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, 1, fake.Calls(testutil.MethodCreate))
}

func TestPushMissingIdentifier(t *testing.T) {
	fake := seeded()
	engine := newEngine(fake)
	doc := yamlDoc(t, "one.yaml", "team_key: ENG\nidentifier: ENG-999\ntitle: Ghost\n")

	report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	o := report.Outcomes[0]
	assert.Equal(t, tracker.StatusNotFound, o.Status)
	assert.Equal(t, tracker.OpUpdate, o.Operation)
	assert.Equal(t, "ENG-999", o.Identifier)
	assert.Equal(t, 1, fake.Calls(testutil.MethodGetIssue), "not found is not retried")
	assert.Zero(t, fake.Mutations())
}

func TestPushDuplicateTitle(t *testing.T) {
	doc := func(t *testing.T) *manifest.Document {
		return yamlDoc(t, "dup.yaml", "team_key: ENG\ntitle: '  fix LOGIN '\n")
	}

	t.Run("reported as ambiguous", func(t *testing.T) {
		fake := seeded()
		report := newEngine(fake).Push(context.Background(), []*manifest.Document{doc(t)}, tracker.PushOptions{})
		o := report.Outcomes[0]
		assert.Equal(t, tracker.StatusAmbiguousMatch, o.Status)
		require.Len(t, o.Candidates, 1)
		assert.Equal(t, tracker.Candidate{
			Identifier:  "ENG-1",
			Title:       "Fix login",
			Description: "Users get logged out.",
			State:       "Todo",
			Assignee:    "ada@example.com",
		}, o.Candidates[0])
		assert.Zero(t, fake.Mutations())
		assert.Equal(t, tracker.Summary{Ambiguous: 1}, report.Summary())
	})

	t.Run("allowed", func(t *testing.T) {
		fake := seeded()
		report := newEngine(fake).Push(context.Background(), []*manifest.Document{doc(t)}, tracker.PushOptions{AllowDuplicates: true})
		require.True(t, report.OK())
		assert.Equal(t, tracker.OpCreate, report.Outcomes[0].Operation)
		assert.Zero(t, fake.Calls(testutil.MethodSearch))
	})
}

func TestPushUnknownTeamResolvedOnce(t *testing.T) {
	fake := seeded()
	doc := yamlDoc(t, "ops.yaml", `
defaults:
  team_key: OPS
issues:
  - title: Rotate keys
  - title: Patch hosts
`)

	report := newEngine(fake).Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	for _, o := range report.Outcomes {
		assert.Equal(t, tracker.StatusFailed, o.Status)
		assert.Equal(t, `unknown team "OPS"`, o.Error)
	}
	assert.Equal(t, 1, fake.Calls(testutil.MethodTeamContext))
}

func TestPushRefreshesTeamContextEachRun(t *testing.T) {
	fake := seeded()
	engine := newEngine(fake)
	push := func(src string) *tracker.Report {
		return engine.Push(context.Background(), []*manifest.Document{yamlDoc(t, "one.yaml", src)}, tracker.PushOptions{})
	}

	report := push("team_key: ENG\nidentifier: ENG-1\nlabels: [Bug]\n")
	require.True(t, report.OK(), "%+v", report.Outcomes)

	team := testutil.EngineeringTeam()
	team.Labels = append(team.Labels, tracker.Label{ID: "lb-security", Name: "Security"})
	fake.AddTeam(team)

	report = push("team_key: ENG\nidentifier: ENG-1\nlabels: [Security]\n")
	require.True(t, report.OK(), "%+v", report.Outcomes)
	assert.Equal(t, []string{"labels"}, report.Outcomes[0].Changed)
	assert.Equal(t, 2, fake.Calls(testutil.MethodTeamContext))

	// An unknown team is only remembered for the run that saw it.
	ops := "team_key: OPS\ntitle: Rotate keys\n"
	report = push(ops)
	assert.Equal(t, tracker.StatusFailed, report.Outcomes[0].Status)
	fake.AddTeam(tracker.TeamData{Team: tracker.Team{ID: "team-ops", Key: "OPS", Name: "Ops"}})
	report = push(ops)
	require.True(t, report.OK(), "%+v", report.Outcomes)
	assert.Equal(t, tracker.StatusSucceeded, report.Outcomes[0].Status)
}

func TestPushMarkDone(t *testing.T) {
	fake := seeded()
	doc := yamlDoc(t, "done.yaml", "team_key: ENG\nidentifier: ENG-2\ncomplete: true\n")

	report := newEngine(fake).Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	require.True(t, report.OK())
	assert.Equal(t, tracker.OpNoOp, report.Outcomes[0].Operation)
	assert.NotEmpty(t, report.Outcomes[0].Notes)

	report = newEngine(fake).Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{MarkDone: true})
	require.True(t, report.OK())
	assert.Equal(t, []string{"state"}, report.Outcomes[0].Changed)
	assert.Equal(t, "Done", fake.Issue("ENG-2").State.Name)
}

func TestPushParent(t *testing.T) {
	fake := seeded()
	doc := yamlDoc(t, "child.yaml", `
defaults:
  team_key: ENG
issues:
  - title: Child task
    parent: ENG-1
  - title: Orphan
    parent: ENG-77
`)

	report := newEngine(fake).Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, tracker.StatusSucceeded, report.Outcomes[0].Status)
	assert.Equal(t, "ENG-1", fake.Issue(report.Outcomes[0].Identifier).Parent.Identifier)

	var re *tracker.ResolutionError
	require.True(t, errors.As(report.Outcomes[1].Err, &re), "got %v", report.Outcomes[1].Err)
	assert.Equal(t, tracker.KindParent, re.Kind)
	assert.Equal(t, tracker.StatusFailed, report.Outcomes[1].Status)
}

func TestPushBlockedBy(t *testing.T) {
	fake := seeded()
	fake.AddIssue(tracker.RemoteIssue{
		Identifier: "ENG-3",
		Title:      "Session store",
		URL:        "https://tracker.test/issue/ENG-3",
		TeamID:     "team-eng",
		TeamKey:    "ENG",
	})
	doc := yamlDoc(t, "blocked.yaml", `
team: ENG
title: Add SSO
description: Support Okta.
blocked_by: session store, Vendor contract
`)

	engine := newEngine(fake)
	report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
	require.True(t, report.OK(), "%+v", report.Outcomes)
	created := fake.Issue(report.Outcomes[0].Identifier)
	require.NotNil(t, created)
	assert.Equal(t, "Support Okta.\n\n## Blocked By\n"+
		"- [ENG-3](https://tracker.test/issue/ENG-3) - Session store\n"+
		"- Vendor contract *(not found in Linear)*", created.Description)

	again := yamlDoc(t, "blocked.yaml", `
team: ENG
identifier: `+created.Identifier+`
description: Support Okta.
blocked_by: [Session store, Vendor contract]
`)
	fake.ResetCalls()
	report = engine.Push(context.Background(), []*manifest.Document{again}, tracker.PushOptions{})
	require.True(t, report.OK(), "%+v", report.Outcomes)
	assert.Equal(t, tracker.Summary{Unchanged: 1}, report.Summary())
	assert.Equal(t, 0, fake.Mutations())
}

func TestPushCancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		fake := seeded()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report := newEngine(fake).Push(ctx, []*manifest.Document{yamlDoc(t, "work.yaml", updateManifest)}, tracker.PushOptions{})
		assert.Equal(t, []tracker.Status{tracker.StatusCancelled, tracker.StatusCancelled}, statuses(report))
		assert.Zero(t, fake.Mutations())
	})

	t.Run("between entries", func(t *testing.T) {
		fake := seeded()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		engine := newEngine(fake)
		engine.OnOutcome = func(tracker.Outcome) { cancel() }
		report := engine.Push(ctx, []*manifest.Document{yamlDoc(t, "work.yaml", updateManifest)}, tracker.PushOptions{})
		assert.Equal(t, []tracker.Status{tracker.StatusSucceeded, tracker.StatusCancelled}, statuses(report))
		assert.Equal(t, 1, fake.Mutations())
		assert.Equal(t, tracker.Summary{Updated: 1, Cancelled: 1}, report.Summary())
	})
}

func TestPull(t *testing.T) {
	fake := seeded()
	engine := newEngine(fake)

	result := engine.Pull(context.Background(), []string{"eng", "OPS", "DES"}, 0)
	require.Len(t, result.Teams, 3)
	assert.False(t, result.OK())

	eng := result.Teams[0]
	require.NoError(t, eng.Err)
	assert.Equal(t, "ENG", eng.TeamKey)
	require.Len(t, eng.Entries, 2)
	first := eng.Entries[0]
	assert.Equal(t, "ENG-1", first.Identifier)
	assert.Equal(t, "Todo", first.State)
	assert.Equal(t, []string{"Bug", "backend"}, first.Labels)
	assert.Equal(t, "ada@example.com", first.AssigneeEmail)
	assert.Equal(t, "Users get logged out.", *first.Description)

	assert.Error(t, result.Teams[1].Err)
	assert.NoError(t, result.Teams[2].Err)
	assert.Empty(t, result.Teams[2].Entries)
	assert.Zero(t, fake.Mutations())

	limited := engine.Pull(context.Background(), []string{"ENG"}, 1)
	assert.Len(t, limited.Teams[0].Entries, 1)
}

func TestPullThenPushIsNoOp(t *testing.T) {
	fake := seeded()
	fake.AddIssue(tracker.RemoteIssue{
		Identifier: "ENG-3",
		Title:      "Fix login ",
		TeamID:     "team-eng",
		TeamKey:    "ENG",
		State:      &tracker.State{ID: "st-todo", Name: "Todo", Type: "unstarted"},
	})
	engine := newEngine(fake)

	pulled := engine.Pull(context.Background(), []string{"ENG"}, 0)
	require.True(t, pulled.OK())

	for _, format := range []manifest.Format{manifest.FormatYAML, manifest.FormatJSON, manifest.FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := manifest.Encode(manifest.TeamDocument("ENG", pulled.Teams[0].Entries), format)
			require.NoError(t, err)
			doc, err := manifest.Decode(data, format)
			require.NoError(t, err)

			fake.ResetCalls()
			report := engine.Push(context.Background(), []*manifest.Document{doc}, tracker.PushOptions{})
			require.True(t, report.OK(), "%+v", report.Outcomes)
			assert.Equal(t, tracker.Summary{Unchanged: 3}, report.Summary())
			assert.Zero(t, fake.Mutations())
		})
	}
}

func TestEntryFromIssue(t *testing.T) {
	is := remoteLogin()
	is.Project = &tracker.Project{ID: "pj-auth", Name: "Auth Revamp"}
	is.Parent = &tracker.IssueRef{ID: "id-ENG-0", Identifier: "ENG-0"}
	is.DueDate = "2025-04-01"
	is.BranchName = "ada/eng-1-fix-login"

	e := tracker.EntryFromIssue("ENG", is)
	assert.Equal(t, "Auth Revamp", e.Project)
	assert.Equal(t, "ENG-0", e.Parent)
	assert.Equal(t, "2025-04-01", e.DueDate)
	assert.Equal(t, "ada/eng-1-fix-login", e.Branch)
	assert.Equal(t, 2, *e.Priority)
	assert.True(t, e.LabelsSet)

	plan, err := tracker.PlanChange(tracker.PlanInput{
		Entry:    e,
		Team:     engTeam(""),
		Existing: is,
		Parent:   &tracker.RemoteIssue{ID: "id-ENG-0", Identifier: "ENG-0"},
	})
	require.NoError(t, err)
	assert.Equal(t, tracker.OpNoOp, plan.Operation, "changed: %v", plan.Changed)
}
