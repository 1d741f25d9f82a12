package tracker

import (
	"fmt"
	"sort"

	"github.com/linearmanager/lm/internal/manifest"
)

// Plan describes the remote change one entry needs. It has no side effects
// until an Executor runs it.
type Plan struct {
	Operation Operation
	Entry     *manifest.Entry
	// Fields holds the resolved wire values to send.
	Fields IssueFields
	// Changed lists the manifest fields that differ from the remote issue,
	// in resolution order. Set for updates only.
	Changed []string

	TargetID         string
	TargetIdentifier string
	TeamID           string
	Notes            []string
}

// PlanInput is everything PlanChange needs. Existing is required when the
// entry has an identifier; Parent is required when the entry names one.
type PlanInput struct {
	Entry    *manifest.Entry
	Team     *TeamContext
	Existing *RemoteIssue
	Parent   *RemoteIssue
	// MarkDone lets complete: true move the issue to the done state.
	MarkDone bool
	// Blockers are the looked-up blocked_by titles, in entry order.
	Blockers []Blocker
}

// PlanChange decides between create, update and no-op for an entry and
// resolves every symbolic field. It does no I/O.
//
// Names resolve in a fixed order (state, labels, assignee, project, parent)
// and the first failure is returned, so error output is reproducible.
func PlanChange(in PlanInput) (*Plan, error) {
	if in.Entry == nil || in.Team == nil {
		return nil, fmt.Errorf("plan: entry and team context are required")
	}
	entry, notes, err := applyDoneMarking(in.Entry, in.Team, in.MarkDone)
	if err != nil {
		return nil, err
	}
	if len(in.Blockers) > 0 {
		base := entry.DescriptionOrEmpty()
		if entry.Description == nil && in.Existing != nil {
			base = in.Existing.Description
		}
		entry = withBlockedBy(entry, base, in.Blockers)
	}

	res, err := resolveFields(entry, in.Team, in.Parent)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Entry: entry, TeamID: in.Team.Team.ID, Notes: notes}
	if entry.IsCreate() {
		plan.Operation = OpCreate
		plan.Fields = res.createFields(entry, in.Team.Team.ID)
		return plan, nil
	}

	if in.Existing == nil {
		return nil, fmt.Errorf("plan: no remote snapshot supplied for %s", entry.Identifier)
	}
	plan.TargetID = in.Existing.ID
	plan.TargetIdentifier = in.Existing.Identifier
	plan.Fields, plan.Changed = res.diff(entry, in.Existing)
	if len(plan.Changed) == 0 {
		plan.Operation = OpNoOp
		plan.Fields = nil
	} else {
		plan.Operation = OpUpdate
	}
	return plan, nil
}

// applyDoneMarking folds complete: true into the state field before
// diffing. The returned entry is a copy when it changes.
func applyDoneMarking(e *manifest.Entry, team *TeamContext, markDone bool) (*manifest.Entry, []string, error) {
	if !e.Complete {
		return e, nil, nil
	}
	if !markDone {
		return e, []string{"complete is set; run with --mark-done to move the issue to its done state"}, nil
	}
	done, err := team.DoneState()
	if err != nil {
		return nil, nil, err
	}
	var notes []string
	if e.State != "" && fold(e.State) != fold(done.Name) {
		notes = append(notes, fmt.Sprintf("state %q replaced by done state %q", e.State, done.Name))
	}
	cp := *e
	cp.State = done.Name
	return &cp, notes, nil
}

// resolved holds the ids for the entry's symbolic fields.
type resolved struct {
	state    *State
	labelIDs []string
	assignee *Member
	project  *Project
	parentID string
}

func resolveFields(e *manifest.Entry, team *TeamContext, parent *RemoteIssue) (*resolved, error) {
	r := &resolved{}
	if e.State != "" {
		s, err := team.LookupState(e.State)
		if err != nil {
			return nil, err
		}
		r.state = &s
	}
	if len(e.Labels) > 0 {
		labels, err := team.LookupLabels(e.Labels)
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			r.labelIDs = append(r.labelIDs, l.ID)
		}
	}
	if e.AssigneeEmail != "" {
		m, err := team.LookupMember(e.AssigneeEmail)
		if err != nil {
			return nil, err
		}
		r.assignee = &m
	}
	if e.Project != "" {
		p, err := team.LookupProject(e.Project)
		if err != nil {
			return nil, err
		}
		r.project = &p
	}
	if e.Parent != "" {
		if parent == nil || parent.ID == "" {
			return nil, &ResolutionError{Kind: KindParent, Names: []string{e.Parent}, Team: team.Team.Key}
		}
		r.parentID = parent.ID
	}
	return r, nil
}

func (r *resolved) createFields(e *manifest.Entry, teamID string) IssueFields {
	f := IssueFields{
		WireTeamID:      teamID,
		WireTitle:       e.Title,
		WireDescription: e.DescriptionOrEmpty(),
	}
	if e.Priority != nil {
		f[WirePriority] = *e.Priority
	}
	if r.state != nil {
		f[WireStateID] = r.state.ID
	}
	if len(r.labelIDs) > 0 {
		f[WireLabelIDs] = r.labelIDs
	}
	if r.assignee != nil {
		f[WireAssigneeID] = r.assignee.ID
	}
	if r.project != nil {
		f[WireProjectID] = r.project.ID
	}
	if r.parentID != "" {
		f[WireParentID] = r.parentID
	}
	if e.DueDate != "" {
		f[WireDueDate] = e.DueDate
	}
	return f
}

// diff compares only the fields present in the entry; omission means
// "leave unchanged".
func (r *resolved) diff(e *manifest.Entry, ex *RemoteIssue) (IssueFields, []string) {
	f := IssueFields{}
	var changed []string
	mark := func(field, wire string, v any) {
		changed = append(changed, field)
		f[wire] = v
	}

	if r.state != nil && (ex.State == nil || ex.State.ID != r.state.ID) {
		mark(manifest.FieldState, WireStateID, r.state.ID)
	}
	if e.LabelsSet && !sameSet(r.labelIDs, ex.LabelIDs()) {
		ids := r.labelIDs
		if ids == nil {
			ids = []string{}
		}
		mark(manifest.FieldLabels, WireLabelIDs, ids)
	}
	if r.assignee != nil && (ex.Assignee == nil || ex.Assignee.ID != r.assignee.ID) {
		mark(manifest.FieldAssigneeEmail, WireAssigneeID, r.assignee.ID)
	}
	if r.project != nil && (ex.Project == nil || ex.Project.ID != r.project.ID) {
		mark(manifest.FieldProject, WireProjectID, r.project.ID)
	}
	if r.parentID != "" && (ex.Parent == nil || ex.Parent.ID != r.parentID) {
		mark(manifest.FieldParent, WireParentID, r.parentID)
	}
	if e.Priority != nil && *e.Priority != ex.Priority {
		mark(manifest.FieldPriority, WirePriority, *e.Priority)
	}
	if e.Title != "" && e.Title != ex.Title {
		mark(manifest.FieldTitle, WireTitle, e.Title)
	}
	if e.Description != nil && *e.Description != ex.Description {
		mark(manifest.FieldDescription, WireDescription, *e.Description)
	}
	if e.DueDate != "" && e.DueDate != ex.DueDate {
		mark(manifest.FieldDueDate, WireDueDate, e.DueDate)
	}
	return f, changed
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
