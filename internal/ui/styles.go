package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorSuccess = 114 // green
	colorWarning = 179 // amber
	colorError   = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderSuccess returns s in green.
func RenderSuccess(s string) string { return paint(colorSuccess, s) }

// RenderWarning returns s in amber.
func RenderWarning(s string) string { return paint(colorWarning, s) }

// RenderError returns s in red.
func RenderError(s string) string { return paint(colorError, s) }

// RenderLevel colors s by a report level name: "success", "warning" and
// "error" get their own color, anything else is rendered as accent.
func RenderLevel(level, s string) string {
	switch level {
	case "success":
		return RenderSuccess(s)
	case "warning":
		return RenderWarning(s)
	case "error":
		return RenderError(s)
	default:
		return RenderAccent(s)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
