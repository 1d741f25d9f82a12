package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/telemetry"
)

// DefaultConcurrency bounds parallel team work. The remote API is rate
// limited, so this stays small.
const DefaultConcurrency = 4

// DefaultPullLimit is the per-team issue cap for pull.
const DefaultPullLimit = 100

// Engine runs push and pull against one remote tracker.
type Engine struct {
	Client     RemoteClient
	Executor   *Executor
	Retry      *RetryPolicy
	Normalizer *manifest.Normalizer
	Log        *slog.Logger

	// Concurrency bounds team resolution and pull fan-out.
	Concurrency int

	// OnOutcome is called for each push outcome as soon as it is known.
	OnOutcome func(Outcome)

	// resolverOpts configures the Resolver each run starts with. Team
	// contexts never outlive one Push or Pull.
	resolverOpts ResolverOptions

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// Options configures NewEngine. Zero values pick defaults.
type Options struct {
	Retry       *RetryPolicy
	Concurrency int
	DoneState   string
	Normalizer  *manifest.Normalizer
	Log         *slog.Logger
}

// NewEngine wires a resolver and executor around client.
func NewEngine(client RemoteClient, opts Options) *Engine {
	if opts.Retry == nil {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Normalizer == nil {
		opts.Normalizer = &manifest.Normalizer{}
	}

	e := &Engine{
		Client:      client,
		Retry:       opts.Retry,
		Normalizer:  opts.Normalizer,
		Log:         opts.Log,
		Concurrency: opts.Concurrency,
		resolverOpts: ResolverOptions{
			Retry:     opts.Retry,
			DoneState: opts.DoneState,
			Log:       opts.Log,
		},
		Executor: NewExecutor(client, opts.Retry, opts.Log),
		tracer:   telemetry.Tracer("github.com/linearmanager/lm/tracker"),
	}
	counter, err := telemetry.Meter("github.com/linearmanager/lm/tracker").Int64Counter(
		"lm.outcomes",
		metric.WithDescription("Manifest entries processed, by status and operation"),
	)
	if err == nil {
		e.outcomes = counter
	}
	return e
}

// PushOptions are execution-time switches for Push.
type PushOptions struct {
	DryRun bool
	// MarkDone moves entries with complete: true to their team's done state.
	MarkDone bool
	// AllowDuplicates creates issues even when the team already has one
	// with the same title.
	AllowDuplicates bool
}

// Push reconciles docs against the remote tracker. Every entry gets exactly
// one outcome, in document order then entry order.
func (e *Engine) Push(ctx context.Context, docs []*manifest.Document, opts PushOptions) *Report {
	ctx, span := e.tracer.Start(ctx, "lm.push", trace.WithAttributes(
		attribute.Int("lm.documents", len(docs)),
		attribute.Bool("lm.dry_run", opts.DryRun),
	))
	defer span.End()

	items := e.plan(ctx, e.newResolver(), docs, opts)

	x := *e.Executor
	x.OnOutcome = func(o Outcome) {
		e.record(ctx, o)
		if e.OnOutcome != nil {
			e.OnOutcome(o)
		}
	}
	report := &Report{Outcomes: x.Execute(ctx, items, opts.DryRun)}
	span.SetAttributes(attribute.Bool("lm.ok", report.OK()))
	return report
}

// Plan normalizes, resolves and plans every entry without mutating
// anything. Entries that cannot be planned carry their outcome instead.
func (e *Engine) Plan(ctx context.Context, docs []*manifest.Document, opts PushOptions) []PlannedItem {
	return e.plan(ctx, e.newResolver(), docs, opts)
}

// newResolver returns an empty team-context cache for one run.
func (e *Engine) newResolver() *Resolver {
	return NewResolver(e.Client, e.resolverOpts)
}

func (e *Engine) plan(ctx context.Context, resolver *Resolver, docs []*manifest.Document, opts PushOptions) []PlannedItem {
	var items []PlannedItem
	var teamKeys []string
	for _, doc := range docs {
		entries, errs := doc.Entries(e.Normalizer)
		for i, item := range doc.Items() {
			if errs[i] != nil {
				o := failedOutcome(nil, item.Source, "", errs[i])
				if title, ok := item.Raw[manifest.FieldTitle].(string); ok {
					o.Title = title
				}
				items = append(items, PlannedItem{Source: item.Source, Outcome: &o})
				continue
			}
			teamKeys = append(teamKeys, entries[i].TeamKey)
			items = append(items, PlannedItem{Entry: entries[i], Source: item.Source})
		}
	}

	if errs := resolver.Prefetch(ctx, teamKeys, e.Concurrency); len(errs) > 0 {
		for key, err := range errs {
			e.Log.Warn("team resolution failed", "team", key, "error", err)
		}
	}

	for i := range items {
		if items[i].Outcome != nil {
			continue
		}
		if ctx.Err() != nil {
			o := cancelledOutcome(items[i].Entry, items[i].Source, ctx.Err())
			items[i].Outcome = &o
			continue
		}
		plan, o := e.planEntry(ctx, resolver, items[i].Entry, items[i].Source, opts)
		items[i].Plan = plan
		items[i].Outcome = o
	}
	return items
}

func (e *Engine) planEntry(ctx context.Context, resolver *Resolver, entry *manifest.Entry, src manifest.Source, opts PushOptions) (*Plan, *Outcome) {
	op := OpUpdate
	if entry.IsCreate() {
		op = OpCreate
	}
	fail := func(err error) (*Plan, *Outcome) {
		o := failedOutcome(entry, src, op, err)
		return nil, &o
	}

	team, err := resolver.Resolve(ctx, entry.TeamKey)
	if err != nil {
		return fail(err)
	}

	var existing *RemoteIssue
	if entry.IsCreate() {
		if !opts.AllowDuplicates {
			candidates, err := e.findDuplicates(ctx, team, entry.Title)
			if err != nil {
				return fail(fmt.Errorf("checking for duplicates: %w", err))
			}
			if len(candidates) > 0 {
				o := newOutcome(entry, src)
				o.Operation = OpCreate
				o.Status = StatusAmbiguousMatch
				o.Candidates = candidates
				o.Error = fmt.Sprintf("%d existing issue(s) in %s already have this title; add an identifier to update one, or pass --allow-duplicates",
					len(candidates), team.Team.Key)
				return nil, &o
			}
		}
	} else {
		existing, err = e.getIssue(ctx, entry.Identifier)
		if err != nil {
			return fail(fmt.Errorf("issue %s: %w", entry.Identifier, err))
		}
	}

	var parent *RemoteIssue
	if entry.Parent != "" {
		parent, err = e.getIssue(ctx, entry.Parent)
		if errors.Is(err, ErrNotFound) {
			return fail(&ResolutionError{Kind: KindParent, Names: []string{entry.Parent}, Team: team.Team.Key})
		}
		if err != nil {
			return fail(fmt.Errorf("parent %s: %w", entry.Parent, err))
		}
	}

	var blockers []Blocker
	if len(entry.BlockedBy) > 0 {
		if blockers, err = e.blockersFor(ctx, team, entry.BlockedBy); err != nil {
			return fail(err)
		}
	}

	plan, err := PlanChange(PlanInput{
		Entry:    entry,
		Team:     team,
		Existing: existing,
		Parent:   parent,
		MarkDone: opts.MarkDone,
		Blockers: blockers,
	})
	if err != nil {
		return fail(err)
	}
	e.Log.Debug("planned entry", "source", src.String(), "operation", plan.Operation, "changed", plan.Changed)
	return plan, nil
}

func (e *Engine) getIssue(ctx context.Context, identifier string) (*RemoteIssue, error) {
	var issue *RemoteIssue
	_, err := e.Retry.Do(ctx, false, func(ctx context.Context) error {
		is, err := e.Client.GetIssue(ctx, identifier)
		if err != nil {
			return err
		}
		issue = is
		return nil
	})
	return issue, err
}

// findDuplicates returns issues in the team whose title equals title,
// ignoring case and surrounding space.
func (e *Engine) findDuplicates(ctx context.Context, team *TeamContext, title string) ([]Candidate, error) {
	var found []RemoteIssue
	_, err := e.Retry.Do(ctx, false, func(ctx context.Context) error {
		issues, err := e.Client.SearchIssuesByTitle(ctx, team.Team.ID, title)
		if err != nil {
			return err
		}
		found = issues
		return nil
	})
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for i := range found {
		is := &found[i]
		if !strings.EqualFold(strings.TrimSpace(is.Title), strings.TrimSpace(title)) {
			continue
		}
		c := Candidate{
			Identifier:  is.Identifier,
			Title:       is.Title,
			Description: truncate(is.Description, 200),
			URL:         is.URL,
		}
		if is.State != nil {
			c.State = is.State.Name
		}
		if is.Assignee != nil {
			c.Assignee = is.Assignee.Email
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func (e *Engine) record(ctx context.Context, o Outcome) {
	if e.outcomes == nil {
		return
	}
	e.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(o.Status)),
		attribute.String("operation", string(o.Operation)),
		attribute.Bool("dry_run", o.DryRun),
	))
}

// TeamExport is the pull result for one team.
type TeamExport struct {
	TeamKey string
	Entries []*manifest.Entry
	Err     error
}

// PullResult holds one export per requested team, in request order.
type PullResult struct {
	Teams []TeamExport
}

// OK reports whether every team exported.
func (r *PullResult) OK() bool {
	for _, t := range r.Teams {
		if t.Err != nil {
			return false
		}
	}
	return true
}

// Pull exports up to limit issues per team as manifest entries. It never
// mutates remote state. Teams are fetched concurrently; a failing team does
// not stop the others.
func (e *Engine) Pull(ctx context.Context, teamKeys []string, limit int) *PullResult {
	ctx, span := e.tracer.Start(ctx, "lm.pull", trace.WithAttributes(
		attribute.StringSlice("lm.teams", teamKeys),
		attribute.Int("lm.limit", limit),
	))
	defer span.End()

	if limit <= 0 {
		limit = DefaultPullLimit
	}
	result := &PullResult{Teams: make([]TeamExport, len(teamKeys))}

	resolver := e.newResolver()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Concurrency)
	for i, key := range teamKeys {
		g.Go(func() error {
			export := e.exportTeam(gctx, resolver, key, limit)
			mu.Lock()
			result.Teams[i] = export
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (e *Engine) exportTeam(ctx context.Context, resolver *Resolver, teamKey string, limit int) TeamExport {
	export := TeamExport{TeamKey: teamCacheKey(teamKey)}
	team, err := resolver.Resolve(ctx, teamKey)
	if err != nil {
		export.Err = err
		return export
	}

	var issues []RemoteIssue
	_, err = e.Retry.Do(ctx, false, func(ctx context.Context) error {
		is, err := e.Client.ListIssues(ctx, team.Team.ID, limit)
		if err != nil {
			return err
		}
		issues = is
		return nil
	})
	if err != nil {
		export.Err = fmt.Errorf("listing issues for %s: %w", export.TeamKey, err)
		return export
	}
	if len(issues) > limit {
		issues = issues[:limit]
	}

	export.Entries = make([]*manifest.Entry, len(issues))
	for i := range issues {
		export.Entries[i] = EntryFromIssue(team.Team.Key, &issues[i])
	}
	e.Log.Debug("exported team", "team", export.TeamKey, "issues", len(issues))
	return export
}

// EntryFromIssue maps a remote snapshot to the manifest entry that, pushed
// back unchanged, plans as a no-op.
func EntryFromIssue(teamKey string, is *RemoteIssue) *manifest.Entry {
	desc := is.Description
	prio := is.Priority
	entry := &manifest.Entry{
		TeamKey:     teamKey,
		Identifier:  is.Identifier,
		Title:       is.Title,
		Description: &desc,
		Priority:    &prio,
		Labels:      make([]string, 0, len(is.Labels)),
		LabelsSet:   true,
		DueDate:     is.DueDate,
		Branch:      is.BranchName,
	}
	if is.TeamKey != "" {
		entry.TeamKey = is.TeamKey
	}
	if is.State != nil {
		entry.State = is.State.Name
	}
	for _, l := range is.Labels {
		entry.Labels = append(entry.Labels, l.Name)
	}
	if is.Assignee != nil {
		entry.AssigneeEmail = is.Assignee.Email
	}
	if is.Project != nil {
		entry.Project = is.Project.Name
	}
	if is.Parent != nil {
		entry.Parent = is.Parent.Identifier
	}
	return entry
}
