// Command namegnome is the CLI client for a running namegnomed: it wraps
// internal/apiclient behind a spf13/cobra command tree, grounded on the
// teacher's cmd/spindle (newRootCommand, commandContext, table.go/
// json_output.go), generalized from unix-socket IPC to HTTP/JSON and from
// disc-ripping commands to scan/plan/disambiguate/apply.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	err := cmd.Execute()
	os.Exit(exitCodeForError(err))
}

// exitCodeForError maps a command error to the exit codes spec.md §6
// defines: 0 success, 2 validation, 3 partial, 4 locked, 5 provider
// unavailable, 1 anything else. A nil error is success; partial-apply
// results are reported via *exitCodeError rather than a Go error, since a
// 207-equivalent response is not itself a failure.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}

	var coded *exitCodeError
	if errors.As(err, &coded) {
		if coded.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", coded.err)
		}
		return coded.code
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitCodeForAPIError(err)
}
