package tracker

import (
	"context"
	"errors"

	"github.com/linearmanager/lm/internal/manifest"
)

// Operation is what a plan does remotely.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpNoOp   Operation = "noop"
)

// Status is the result category of one entry.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusNotFound       Status = "not_found"
	StatusAmbiguousMatch Status = "ambiguous_match"
	StatusCancelled      Status = "cancelled"
)

// Candidate is an existing remote issue that may be the one an entry means.
type Candidate struct {
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Outcome is the reported result of processing one manifest entry.
type Outcome struct {
	Source     string      `json:"source"`
	Title      string      `json:"title,omitempty"`
	Identifier string      `json:"identifier,omitempty"`
	URL        string      `json:"url,omitempty"`
	Operation  Operation   `json:"operation,omitempty"`
	Status     Status      `json:"status"`
	DryRun     bool        `json:"dry_run,omitempty"`
	Changed    []string    `json:"changed,omitempty"`
	Fields     IssueFields `json:"fields,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Notes      []string    `json:"notes,omitempty"`
	Error      string      `json:"error,omitempty"`

	// Err is the underlying error for failed outcomes.
	Err error `json:"-"`
}

// OK reports whether the entry succeeded.
func (o *Outcome) OK() bool {
	return o.Status == StatusSucceeded
}

func newOutcome(entry *manifest.Entry, src manifest.Source) Outcome {
	o := Outcome{Source: src.String()}
	if entry != nil {
		o.Title = entry.Title
		o.Identifier = entry.Identifier
		if o.Source == "" {
			o.Source = entry.Source.String()
		}
	}
	return o
}

// failedOutcome classifies err into a status.
func failedOutcome(entry *manifest.Entry, src manifest.Source, op Operation, err error) Outcome {
	o := newOutcome(entry, src)
	o.Operation = op
	o.Err = err
	o.Error = err.Error()
	switch {
	case errors.Is(err, ErrNotFound):
		o.Status = StatusNotFound
	case errors.Is(err, context.Canceled):
		o.Status = StatusCancelled
	default:
		o.Status = StatusFailed
	}
	return o
}

// Report is the ordered list of outcomes of one push.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

// OK is true only if every outcome succeeded.
func (r *Report) OK() bool {
	for i := range r.Outcomes {
		if !r.Outcomes[i].OK() {
			return false
		}
	}
	return true
}

// Summary counts outcomes by status and, for successes, by operation.
type Summary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	NotFound  int `json:"not_found"`
	Ambiguous int `json:"ambiguous"`
	Cancelled int `json:"cancelled"`
}

func (r *Report) Summary() Summary {
	var s Summary
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSucceeded:
			switch o.Operation {
			case OpCreate:
				s.Created++
			case OpUpdate:
				s.Updated++
			default:
				s.Unchanged++
			}
		case StatusNotFound:
			s.NotFound++
		case StatusAmbiguousMatch:
			s.Ambiguous++
		case StatusCancelled:
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}
