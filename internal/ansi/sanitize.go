package ansi

import (
	"strings"

	xansi "github.com/charmbracelet/x/ansi"
)

// Sanitize returns the text a terminal would leave visible for one line of
// tool output. Escape sequences are dropped, a backspace erases the rune
// before it, and a carriage return restarts the line so only the last
// non-empty redraw survives. Tools such as 7z and rclone redraw their
// progress line this way when attached to a terminal.
func Sanitize(line string) string {
	if line == "" {
		return ""
	}
	if strings.ContainsRune(line, 0x1B) {
		line = xansi.Strip(line)
	}
	if strings.ContainsRune(line, '\b') {
		line = applyBackspaces(line)
	}
	if strings.ContainsRune(line, '\r') {
		line = lastRedraw(line)
	}
	return line
}

func applyBackspaces(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\b' {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

func lastRedraw(s string) string {
	parts := strings.Split(s, "\r")
	for i := len(parts) - 1; i >= 0; i-- {
		if strings.TrimSpace(parts[i]) != "" {
			return parts[i]
		}
	}
	return ""
}
