package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/linearmanager/lm/internal/manifest"
)

// PlannedItem is one entry ready for execution: either a Plan or the
// outcome that prevented planning.
type PlannedItem struct {
	Entry   *manifest.Entry
	Source  manifest.Source
	Plan    *Plan
	Outcome *Outcome
}

// Executor applies plans through a RemoteClient.
type Executor struct {
	Client RemoteClient
	Retry  *RetryPolicy
	Log    *slog.Logger

	// OnOutcome is called after each entry, in order (optional).
	OnOutcome func(Outcome)
}

// NewExecutor creates an executor with the default retry policy.
func NewExecutor(client RemoteClient, retry *RetryPolicy, log *slog.Logger) *Executor {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{Client: client, Retry: retry, Log: log}
}

// Execute runs items in order and returns one outcome per item, in the
// same order. A failing item never stops the ones after it. In dry-run mode
// no mutation is sent but outcomes report what would change.
//
// Once ctx is done, items that have not started are reported as cancelled.
// A mutation already sent is allowed to finish and is reported as it ended.
func (x *Executor) Execute(ctx context.Context, items []PlannedItem, dryRun bool) []Outcome {
	outcomes := make([]Outcome, len(items))
	for i := range items {
		o := x.executeOne(ctx, &items[i], dryRun)
		outcomes[i] = o
		if x.OnOutcome != nil {
			x.OnOutcome(o)
		}
	}
	return outcomes
}

func (x *Executor) executeOne(ctx context.Context, item *PlannedItem, dryRun bool) Outcome {
	if item.Outcome != nil {
		return *item.Outcome
	}
	if ctx.Err() != nil {
		return cancelledOutcome(item.Entry, item.Source, ctx.Err())
	}
	plan := item.Plan
	if plan == nil {
		return failedOutcome(item.Entry, item.Source, "", fmt.Errorf("no plan"))
	}

	o := newOutcome(plan.Entry, item.Source)
	o.Operation = plan.Operation
	o.Changed = plan.Changed
	o.Notes = plan.Notes
	o.DryRun = dryRun
	if plan.TargetIdentifier != "" {
		o.Identifier = plan.TargetIdentifier
	}

	switch plan.Operation {
	case OpNoOp:
		o.Status = StatusSucceeded
		return o
	case OpCreate, OpUpdate:
	default:
		return failedOutcome(plan.Entry, item.Source, plan.Operation, fmt.Errorf("unknown operation %q", plan.Operation))
	}

	if dryRun {
		o.Fields = plan.Fields
		o.Status = StatusSucceeded
		return o
	}

	ref, attempts, err := x.apply(ctx, plan)
	o.Attempts = attempts
	if err != nil {
		failed := failedOutcome(plan.Entry, item.Source, plan.Operation, err)
		failed.Attempts = attempts
		failed.Changed = plan.Changed
		failed.Notes = plan.Notes
		if plan.TargetIdentifier != "" {
			failed.Identifier = plan.TargetIdentifier
		}
		x.Log.Warn("mutation failed", "source", o.Source, "operation", plan.Operation, "attempts", attempts, "error", err)
		return failed
	}

	o.Status = StatusSucceeded
	if ref != nil {
		if ref.Identifier != "" {
			o.Identifier = ref.Identifier
		}
		o.URL = ref.URL
	}
	x.Log.Debug("mutation applied", "source", o.Source, "operation", plan.Operation, "identifier", o.Identifier, "attempts", attempts)
	return o
}

// apply sends exactly one mutation, retried on throttling and transport
// failures.
func (x *Executor) apply(ctx context.Context, plan *Plan) (*IssueRef, int, error) {
	var ref *IssueRef
	attempts, err := x.Retry.Do(ctx, true, func(ctx context.Context) error {
		var err error
		switch plan.Operation {
		case OpCreate:
			ref, err = x.Client.CreateIssue(ctx, plan.TeamID, plan.Fields)
		case OpUpdate:
			ref, err = x.Client.UpdateIssue(ctx, plan.TargetID, plan.Fields)
		}
		return err
	})
	return ref, attempts, err
}

func cancelledOutcome(entry *manifest.Entry, src manifest.Source, cause error) Outcome {
	o := newOutcome(entry, src)
	o.Status = StatusCancelled
	o.Err = cause
	o.Error = cause.Error()
	return o
}
