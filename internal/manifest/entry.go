// Package manifest reads, normalizes and writes the declarative issue
// documents that lm reconciles against the remote tracker.
package manifest

import "fmt"

// Canonical field names. Anything written by lm uses these.
const (
	FieldTeamKey       = "team_key"
	FieldIdentifier    = "identifier"
	FieldTitle         = "title"
	FieldDescription   = "description"
	FieldPriority      = "priority"
	FieldLabels        = "labels"
	FieldAssigneeEmail = "assignee_email"
	FieldState         = "state"
	FieldComplete      = "complete"
	FieldProject       = "project"
	FieldParent        = "parent"
	FieldDueDate       = "due_date"
	FieldBranch        = "branch"
	FieldWorktree      = "worktree"
	FieldBlockedBy     = "blocked_by"

	// FieldTests holds the last `lm check tests` result. It is local
	// metadata like branch and worktree.
	FieldTests = "tests"
)

// canonicalOrder is the field order used when writing entries.
var canonicalOrder = []string{
	FieldTeamKey,
	FieldIdentifier,
	FieldTitle,
	FieldState,
	FieldPriority,
	FieldAssigneeEmail,
	FieldLabels,
	FieldProject,
	FieldParent,
	FieldDueDate,
	FieldBlockedBy,
	FieldComplete,
	FieldBranch,
	FieldWorktree,
	FieldDescription,
	FieldTests,
}

// Synonyms maps accepted alternate field names to their canonical name.
var Synonyms = map[string]string{
	"status":   FieldState,
	"assignee": FieldAssigneeEmail,
	"id":       FieldIdentifier,
	"team":     FieldTeamKey,
}

// RawEntry is one entry as decoded from a document, before validation.
type RawEntry map[string]any

// Source locates an entry inside the documents it was loaded from.
type Source struct {
	Path  string
	Index int // 1-based position in the issues list; 0 for a flat document
}

func (s Source) String() string {
	if s.Path == "" {
		return ""
	}
	if s.Index == 0 {
		return s.Path
	}
	return fmt.Sprintf("%s#%d", s.Path, s.Index)
}

// Entry is a validated, canonical manifest entry.
//
// Zero values mean "absent" except where a pointer or flag is used to tell an
// explicit empty value apart from omission.
type Entry struct {
	TeamKey    string
	Identifier string
	Title      string

	// Description is nil when the field was not given.
	Description *string
	Priority    *int

	Labels []string
	// LabelsSet records that labels was given, so that an explicit empty
	// list clears labels on update.
	LabelsSet bool

	AssigneeEmail string
	State         string
	Complete      bool

	Project string
	Parent  string
	DueDate string

	// BlockedBy holds titles of blocking issues. They are rendered as a
	// trailing section of the description.
	BlockedBy []string

	// Branch and Worktree are local metadata and are never sent remotely.
	Branch   string
	Worktree string

	Source Source
}

// IsCreate reports whether the entry describes a new issue.
func (e *Entry) IsCreate() bool {
	return e.Identifier == ""
}

// DisplayName is how outcomes refer to the entry.
func (e *Entry) DisplayName() string {
	switch {
	case e.Identifier != "" && e.Title != "":
		return e.Identifier + " " + e.Title
	case e.Identifier != "":
		return e.Identifier
	default:
		return e.Title
	}
}

// DescriptionOrEmpty returns the description, or "" when absent.
func (e *Entry) DescriptionOrEmpty() string {
	if e.Description == nil {
		return ""
	}
	return *e.Description
}

// Denormalize maps an entry back to a RawEntry keyed by canonical field
// names. Absent fields are omitted so that re-normalizing the result yields
// an equivalent entry.
func Denormalize(e *Entry) RawEntry {
	raw := RawEntry{}
	setStr := func(key, v string) {
		if v != "" {
			raw[key] = v
		}
	}
	setStr(FieldTeamKey, e.TeamKey)
	setStr(FieldIdentifier, e.Identifier)
	setStr(FieldTitle, e.Title)
	setStr(FieldState, e.State)
	setStr(FieldAssigneeEmail, e.AssigneeEmail)
	setStr(FieldProject, e.Project)
	setStr(FieldParent, e.Parent)
	setStr(FieldDueDate, e.DueDate)
	setStr(FieldBranch, e.Branch)
	setStr(FieldWorktree, e.Worktree)
	if e.Description != nil {
		raw[FieldDescription] = *e.Description
	}
	if e.Priority != nil {
		raw[FieldPriority] = *e.Priority
	}
	if e.LabelsSet || len(e.Labels) > 0 {
		labels := make([]any, len(e.Labels))
		for i, l := range e.Labels {
			labels[i] = l
		}
		raw[FieldLabels] = labels
	}
	if len(e.BlockedBy) > 0 {
		blockers := make([]any, len(e.BlockedBy))
		for i, b := range e.BlockedBy {
			blockers[i] = b
		}
		raw[FieldBlockedBy] = blockers
	}
	if e.Complete {
		raw[FieldComplete] = true
	}
	return raw
}
