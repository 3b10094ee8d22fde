package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// defaultWidth is used when stdout is not a terminal.
const defaultWidth = 100

// colorMode reads PIPEFLOW_COLOR, then the NO_COLOR and CLICOLOR
// conventions. It returns "" when nothing decides.
func colorMode() string {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("PIPEFLOW_COLOR"))) {
	case "always":
		return "always"
	case "never":
		return "never"
	}
	if os.Getenv("NO_COLOR") != "" {
		return "never"
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return "always"
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return "never"
	}
	return ""
}

// ShouldUseColor reports whether stdout output should carry ANSI colors.
func ShouldUseColor() bool {
	switch colorMode() {
	case "always":
		return true
	case "never":
		return false
	}
	return isTerminal()
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the column count of the stdout terminal. COLUMNS overrides
// detection.
func Width() int {
	if n := atoiPositive(os.Getenv("COLUMNS")); n > 0 {
		return n
	}
	if isTerminal() {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return defaultWidth
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func atoiPositive(s string) int {
	n := 0
	for _, c := range strings.TrimSpace(s) {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
