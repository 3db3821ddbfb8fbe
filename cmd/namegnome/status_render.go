package main

import (
	"fmt"

	"github.com/fatih/color"
)

// statusKind mirrors the teacher's status_render.go categories, but renders
// through fatih/color rather than hand-rolled ANSI escapes: the teacher
// carries fatih/color in go.mod without ever calling it (status_render.go
// hand-rolls its own escape constants), so this is the one place in the
// pack the dependency's actual purpose gets exercised.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColorizer(kind statusKind) func(format string, a ...any) string {
	switch kind {
	case statusOK:
		return color.New(color.FgGreen).SprintfFunc()
	case statusWarn:
		return color.New(color.FgYellow).SprintfFunc()
	case statusError:
		return color.New(color.FgRed).SprintfFunc()
	default:
		return color.New(color.FgBlue).SprintfFunc()
	}
}

// renderStatusLine formats "label: [KIND] message", colorized when enabled
// is true (the caller decides based on colorEnabled()/--json).
func renderStatusLine(label string, kind statusKind, message string, enabled bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusKindLabel(kind), message)
	}
	base := fmt.Sprintf("%-12s %s", label+":", statusText)
	if !enabled {
		return base
	}
	colorize := statusKindColorizer(kind)
	return colorize("%s", base)
}
