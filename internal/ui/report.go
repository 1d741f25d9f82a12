package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/linearmanager/lm/internal/tracker"
)

// RenderOutcome formats one push outcome: a status line followed by
// indented detail lines (URL, candidates, notes, error).
func RenderOutcome(o tracker.Outcome) string {
	var b strings.Builder

	icon, verb := outcomeHeadline(o)
	b.WriteString(icon)
	b.WriteByte(' ')
	b.WriteString(verb)
	if name := outcomeName(o); name != "" {
		b.WriteByte(' ')
		b.WriteString(name)
	}
	if len(o.Changed) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(o.Changed, ", "))
	}
	if o.Attempts > 1 {
		b.WriteString(RenderMuted(" (" + strconv.Itoa(o.Attempts) + " attempts)"))
	}
	if o.Source != "" {
		b.WriteString(RenderMuted("  " + o.Source))
	}
	b.WriteByte('\n')

	detail := func(prefix, s string) {
		b.WriteString(TreeIndent)
		b.WriteString(RenderMuted(prefix))
		b.WriteString(s)
		b.WriteByte('\n')
	}
	if o.URL != "" {
		detail(TreeLast, RenderAccent(o.URL))
	}
	for _, c := range o.Candidates {
		line := c.Identifier + " " + c.Title
		var extra []string
		if c.State != "" {
			extra = append(extra, c.State)
		}
		if c.Assignee != "" {
			extra = append(extra, c.Assignee)
		}
		if len(extra) > 0 {
			line += RenderMuted(" [" + strings.Join(extra, ", ") + "]")
		}
		detail(TreeChild, line)
	}
	for _, n := range o.Notes {
		detail(TreeLast, RenderMuted(n))
	}
	if o.Error != "" {
		detail(TreeLast, RenderFail(o.Error))
	}
	return b.String()
}

func outcomeName(o tracker.Outcome) string {
	switch {
	case o.Identifier != "" && o.Title != "":
		return o.Identifier + " " + o.Title
	case o.Identifier != "":
		return o.Identifier
	default:
		return o.Title
	}
}

func outcomeHeadline(o tracker.Outcome) (icon, verb string) {
	switch o.Status {
	case tracker.StatusSucceeded:
		switch o.Operation {
		case tracker.OpCreate:
			verb = "created"
			if o.DryRun {
				verb = "would create"
			}
		case tracker.OpUpdate:
			verb = "updated"
			if o.DryRun {
				verb = "would update"
			}
		default:
			return RenderMuted(IconSkip), RenderMuted("unchanged")
		}
		if o.DryRun {
			return RenderAccent(IconInfo), verb
		}
		return RenderPass(IconPass), verb
	case tracker.StatusNotFound:
		return RenderWarn(IconWarn), RenderWarn("not found")
	case tracker.StatusAmbiguousMatch:
		n := len(o.Candidates)
		noun := "issues"
		if n == 1 {
			noun = "issue"
		}
		return RenderWarn(IconWarn), RenderWarn(fmt.Sprintf("possible duplicate (%d existing %s)", n, noun))
	case tracker.StatusCancelled:
		return RenderMuted(IconSkip), RenderMuted("cancelled")
	default:
		return RenderFail(IconFail), RenderFail("failed")
	}
}

// RenderSummary is the closing line of a push.
func RenderSummary(s tracker.Summary, dryRun bool) string {
	parts := []string{
		fmt.Sprintf("%d created", s.Created),
		fmt.Sprintf("%d updated", s.Updated),
		fmt.Sprintf("%d unchanged", s.Unchanged),
	}
	bad := []struct {
		n    int
		name string
	}{
		{s.Failed, "failed"},
		{s.NotFound, "not found"},
		{s.Ambiguous, "ambiguous"},
		{s.Cancelled, "cancelled"},
	}
	failed := false
	for _, x := range bad {
		if x.n > 0 {
			parts = append(parts, RenderFail(fmt.Sprintf("%d %s", x.n, x.name)))
			failed = true
		}
	}

	line := strings.Join(parts, ", ")
	if dryRun {
		line = RenderMuted("dry run: ") + line
	}
	if failed {
		return RenderFailIcon() + " " + line
	}
	return RenderPassIcon() + " " + line
}

func RenderPassIcon() string { return PassStyle.Render(IconPass) }
func RenderFailIcon() string { return FailStyle.Render(IconFail) }
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }

// RenderReport renders every outcome followed by the summary.
func RenderReport(r *tracker.Report, dryRun bool) string {
	var b strings.Builder
	for _, o := range r.Outcomes {
		b.WriteString(RenderOutcome(o))
	}
	b.WriteString(RenderSummary(r.Summary(), dryRun))
	b.WriteByte('\n')
	return b.String()
}
