package main

import (
	"encoding/json"
	"fmt"
)

// printJSON writes v as indented JSON to the command's stdout.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// warnf writes a warning to stderr. Use it for optional steps whose failure
// does not stop the command.
func (a *app) warnf(format string, args ...any) {
	fmt.Fprintf(a.err, "Warning: "+format+"\n", args...)
}

// withHint decorates an error with an actionable suggestion.
func withHint(err error, hint string) error {
	return fmt.Errorf("%w\nHint: %s", err, hint)
}
