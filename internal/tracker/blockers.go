package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/linearmanager/lm/internal/manifest"
)

// blockedByHeading starts the description section listing blockers.
const blockedByHeading = "## Blocked By"

// Blocker is one blocked_by title with the issue it resolved to, if any.
type Blocker struct {
	Title string
	Issue *IssueRef
}

// withBlockedBy returns a copy of e whose description ends with a section
// listing blockers. base is the description the section is appended to; a
// section already at its end is replaced, so pushing twice changes nothing.
func withBlockedBy(e *manifest.Entry, base string, blockers []Blocker) *manifest.Entry {
	var b strings.Builder
	b.WriteString(stripBlockedBy(base))
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(blockedByHeading)
	b.WriteString("\n")
	for _, bl := range blockers {
		if bl.Issue != nil {
			fmt.Fprintf(&b, "- [%s](%s) - %s\n", bl.Issue.Identifier, bl.Issue.URL, bl.Issue.Title)
			continue
		}
		fmt.Fprintf(&b, "- %s *(not found in Linear)*\n", bl.Title)
	}
	desc := strings.TrimSuffix(b.String(), "\n")
	cp := *e
	cp.Description = &desc
	return &cp
}

func stripBlockedBy(desc string) string {
	if strings.HasPrefix(desc, blockedByHeading+"\n") {
		return ""
	}
	if i := strings.LastIndex(desc, "\n\n"+blockedByHeading+"\n"); i >= 0 {
		return desc[:i]
	}
	return desc
}

// blockersFor looks up each blocked_by title in the entry's team. A title
// with no exact match (ignoring case) is kept unresolved.
func (e *Engine) blockersFor(ctx context.Context, team *TeamContext, titles []string) ([]Blocker, error) {
	blockers := make([]Blocker, 0, len(titles))
	for _, title := range titles {
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
			return nil, fmt.Errorf("blocker %q: %w", title, err)
		}
		bl := Blocker{Title: title}
		for i := range found {
			if strings.EqualFold(strings.TrimSpace(found[i].Title), title) {
				is := found[i]
				bl.Issue = &IssueRef{ID: is.ID, Identifier: is.Identifier, Title: is.Title, URL: is.URL}
				break
			}
		}
		blockers = append(blockers, bl)
	}
	return blockers, nil
}
