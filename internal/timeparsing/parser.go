// Package timeparsing turns the date expressions people write in manifests
// into calendar dates.
//
// Parsing is layered, first match wins:
//  1. Calendar date (2025-01-31) or RFC3339 timestamp
//  2. Compact offset (+3d, 2w, -1m)
//  3. Natural language (tomorrow, next friday, in 2 weeks)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// DateLayout is the wire and manifest format for due dates.
const DateLayout = "2006-01-02"

// compactOffsetRe matches [+-]?(\d+)([dwmy]).
var compactOffsetRe = regexp.MustCompile(`^([+-]?)(\d+)([dwmy])$`)

var nlp = newNLP()

func newNLP() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseDate resolves s relative to now and returns the calendar date it names,
// formatted with DateLayout.
func ParseDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty date")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if t, err := ParseCompactOffset(s, now); err == nil {
		return t.Format(DateLayout), nil
	}
	t, err := ParseNaturalLanguage(s, now)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

// ParseCompactOffset parses "+3d" style offsets. Units are days, weeks,
// months and years; a missing sign means forward.
func ParseCompactOffset(s string, now time.Time) (time.Time, error) {
	m := compactOffsetRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a compact offset: %q", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid offset amount: %q", m[2])
	}
	if m[1] == "-" {
		n = -n
	}
	switch m[3] {
	case "d":
		return now.AddDate(0, 0, n), nil
	case "w":
		return now.AddDate(0, 0, 7*n), nil
	case "m":
		return now.AddDate(0, n, 0), nil
	default:
		return now.AddDate(n, 0, 0), nil
	}
}

// ParseNaturalLanguage parses English expressions such as "tomorrow" or
// "next monday".
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := nlp.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	return r.Time, nil
}
