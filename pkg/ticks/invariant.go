package ticks

import (
	"fmt"
	"os"
)

// Check aborts the process if cond is false. The executor core relies on
// invariants (e.g. "a worker count never goes negative") that are unsound
// to continue past, so there is no recovery path — only a logged message
// and process termination.
func Check(cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "FATAL invariant violation: %s\n", msg)
	os.Exit(1)
}
