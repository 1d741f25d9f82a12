package manifest

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/linearmanager/lm/internal/timeparsing"
)

// Priority bounds. 0 means "no priority", 1 is urgent and 4 is low.
const (
	MinPriority = 0
	MaxPriority = 4
)

// ValidationError reports malformed or contradictory manifest input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid entry: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Normalizer converts raw entries to validated entries.
type Normalizer struct {
	// Now anchors relative due dates. Defaults to time.Now.
	Now func() time.Time
}

var defaultNormalizer = &Normalizer{}

// Normalize merges defaults under raw and validates the result.
func Normalize(raw, defaults RawEntry) (*Entry, error) {
	return defaultNormalizer.Normalize(raw, defaults)
}

// Normalize merges defaults under raw and validates the result.
//
// A field present in raw always wins over defaults, even when its value is
// an empty string or an empty list. A null value counts as absent.
func (n *Normalizer) Normalize(raw, defaults RawEntry) (*Entry, error) {
	d, err := foldSynonyms(defaults)
	if err != nil {
		return nil, err
	}
	r, err := foldSynonyms(raw)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(d)+len(r))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range r {
		merged[k] = v
	}
	return n.build(merged)
}

// foldSynonyms rewrites alternate field names to their canonical name and
// drops null values.
func foldSynonyms(raw RawEntry) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	var aliases []string
	for k, v := range raw {
		if v == nil {
			continue
		}
		if _, ok := Synonyms[k]; ok {
			aliases = append(aliases, k)
			continue
		}
		out[k] = v
	}
	// Sorted so that error messages are stable.
	sort.Strings(aliases)
	for _, alias := range aliases {
		canon := Synonyms[alias]
		v := raw[alias]
		if existing, ok := out[canon]; ok {
			if !sameValue(existing, v) {
				return nil, invalid(canon, "ambiguous %s/%s", canon, alias)
			}
			continue
		}
		out[canon] = v
	}
	return out, nil
}

func sameValue(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.TrimSpace(as) == strings.TrimSpace(bs)
	}
	return reflect.DeepEqual(a, b)
}

func (n *Normalizer) build(m map[string]any) (*Entry, error) {
	e := &Entry{}
	var err error

	if e.TeamKey, err = stringField(m, FieldTeamKey); err != nil {
		return nil, err
	}
	e.TeamKey = strings.ToUpper(e.TeamKey)
	if e.Identifier, err = stringField(m, FieldIdentifier); err != nil {
		return nil, err
	}
	// Titles are kept verbatim so a pulled title with stray spaces pushes
	// back unchanged; a blank one counts as absent.
	if v, ok := m[FieldTitle]; ok {
		if e.Title, err = scalarString(FieldTitle, v); err != nil {
			return nil, err
		}
		if strings.TrimSpace(e.Title) == "" {
			e.Title = ""
		}
	}
	if v, ok := m[FieldDescription]; ok {
		s, err := scalarString(FieldDescription, v)
		if err != nil {
			return nil, err
		}
		e.Description = &s
	}
	if v, ok := m[FieldPriority]; ok {
		p, err := coercePriority(v)
		if err != nil {
			return nil, err
		}
		e.Priority = &p
	}
	if v, ok := m[FieldLabels]; ok {
		if e.Labels, err = coerceList(FieldLabels, v); err != nil {
			return nil, err
		}
		e.LabelsSet = true
	}
	if v, ok := m[FieldBlockedBy]; ok {
		if e.BlockedBy, err = coerceList(FieldBlockedBy, v); err != nil {
			return nil, err
		}
	}
	if e.AssigneeEmail, err = stringField(m, FieldAssigneeEmail); err != nil {
		return nil, err
	}
	if e.State, err = stringField(m, FieldState); err != nil {
		return nil, err
	}
	if v, ok := m[FieldComplete]; ok {
		if e.Complete, err = coerceBool(FieldComplete, v); err != nil {
			return nil, err
		}
	}
	if e.Project, err = stringField(m, FieldProject); err != nil {
		return nil, err
	}
	if e.Parent, err = stringField(m, FieldParent); err != nil {
		return nil, err
	}
	due, err := stringField(m, FieldDueDate)
	if err != nil {
		return nil, err
	}
	if due != "" {
		if e.DueDate, err = timeparsing.ParseDate(due, n.now()); err != nil {
			return nil, invalid(FieldDueDate, "%v", err)
		}
	}
	if e.Branch, err = stringField(m, FieldBranch); err != nil {
		return nil, err
	}
	if e.Worktree, err = stringField(m, FieldWorktree); err != nil {
		return nil, err
	}

	if e.TeamKey == "" {
		return nil, invalid(FieldTeamKey, "team_key is required")
	}
	if e.Identifier == "" && e.Title == "" {
		return nil, invalid(FieldTitle, "title is required when creating an issue")
	}
	return e, nil
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// stringField returns the trimmed string value of key, or "" when absent.
func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", nil
	}
	s, err := scalarString(key, v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func scalarString(field string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(x), nil
	case time.Time:
		// Unquoted TOML dates and datetimes.
		if h, m, sec := x.Clock(); h == 0 && m == 0 && sec == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly), nil
		}
		return x.Format(time.RFC3339), nil
	default:
		return "", invalid(field, "expected a string, got %T", v)
	}
}

func coercePriority(v any) (int, error) {
	var p int
	switch x := v.(type) {
	case int:
		p = x
	case int64:
		p = int(x)
	case uint64:
		p = int(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, invalid(FieldPriority, "priority values must be integers, got %v", x)
		}
		p = int(x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, invalid(FieldPriority, "priority values must be integers, got %q", x)
		}
		p = n
	default:
		return 0, invalid(FieldPriority, "priority values must be integers, got %T", v)
	}
	if p < MinPriority || p > MaxPriority {
		return 0, invalid(FieldPriority, "priority must be between %d and %d, got %d", MinPriority, MaxPriority, p)
	}
	return p, nil
}

// coerceList accepts a list or a comma-separated string and returns the
// trimmed, non-empty names in first-seen order, deduplicated ignoring case.
func coerceList(field string, v any) ([]string, error) {
	var items []string
	switch x := v.(type) {
	case string:
		items = strings.Split(x, ",")
	case []string:
		items = x
	case []any:
		for _, item := range x {
			if item == nil {
				continue
			}
			s, err := scalarString(field, item)
			if err != nil {
				return nil, err
			}
			items = append(items, s)
		}
	default:
		return nil, invalid(field, "expected a list of names, got %T", v)
	}

	labels := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		label := strings.TrimSpace(item)
		if label == "" {
			continue
		}
		key := strings.ToLower(label)
		if seen[key] {
			continue
		}
		seen[key] = true
		labels = append(labels, label)
	}
	return labels, nil
}

func coerceBool(field string, v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return false, invalid(field, "expected true or false, got %q", x)
		}
		return b, nil
	default:
		return false, invalid(field, "expected true or false, got %T", v)
	}
}
