package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOptions controls pager behavior.
type PagerOptions struct {
	// NoPager disables the pager for this command (--no-pager).
	NoPager bool
}

// pagerArgv splits LM_PAGER, PAGER or "less" into a command line. An empty
// result means paging is switched off.
func pagerArgv(opts PagerOptions) []string {
	if opts.NoPager || os.Getenv("LM_NO_PAGER") != "" || !IsTerminal() {
		return nil
	}
	for _, env := range []string{"LM_PAGER", "PAGER"} {
		if v := os.Getenv(env); v != "" {
			return strings.Fields(v)
		}
	}
	return []string{"less"}
}

// fitsOnScreen reports whether content is shorter than the terminal.
func fitsOnScreen(content string) bool {
	_, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return false
	}
	return strings.Count(content, "\n") < rows
}

// ToPager shows content through the user's pager on a terminal when it
// would scroll off screen, and writes it to w in every other case.
func ToPager(w io.Writer, content string, opts PagerOptions) error {
	argv := pagerArgv(opts)
	if len(argv) == 0 || fitsOnScreen(content) {
		_, err := fmt.Fprint(w, content)
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 - user-configured pager
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if _, set := os.LookupEnv("LESS"); !set {
		// Keep colors, exit when it fits, leave output on screen.
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	return cmd.Run()
}
