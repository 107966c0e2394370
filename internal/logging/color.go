package logging

import (
	"io"
	"regexp"
	"strings"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiPurple = "\x1b[35m"
	ansiCyan   = "\x1b[36m"
	ansiGray   = "\x1b[90m"
)

// attrPattern matches one rendered key=value pair of the text handler.
var attrPattern = regexp.MustCompile(`([A-Za-z0-9_.]+)=("(?:[^"\\]|\\.)*"|\S+)`)

var levelColors = map[string]string{
	"DEBUG": ansiGray,
	"INFO":  ansiBlue,
	"WARN":  ansiYellow,
	"ERROR": ansiRed,
}

var signalColors = map[string]string{
	"BAD":     ansiRed,
	"WARN":    ansiYellow,
	"GOOD":    ansiGreen,
	"MISSING": ansiPurple,
	"UNKNOWN": ansiGray,
}

// signalKeys carry a signal name as value.
var signalKeys = map[string]bool{
	"signal":        true,
	"origin":        true,
	"origin_signal": true,
	"from":          true,
	"to":            true,
	"state":         true,
}

// identityKeys name the alert a line belongs to.
var identityKeys = map[string]bool{
	"alert":      true,
	"alert_id":   true,
	"alert_hash": true,
	"namespace":  true,
	"cycle_id":   true,
}

// colorWriter paints text-handler lines: the whole line in the level color,
// signal values by signal, identity values cyan, errors red.
type colorWriter struct {
	dst io.Writer
}

func (w *colorWriter) Write(payload []byte) (int, error) {
	line := string(payload)
	base := lineColor(line)
	if base == "" {
		return w.dst.Write(payload)
	}
	if _, err := io.WriteString(w.dst, base+paintAttrs(line, base)+ansiReset); err != nil {
		return 0, err
	}
	return len(payload), nil
}

// lineColor returns color for the rendered level attribute or "" for foreign lines.
func lineColor(line string) string {
	match := attrPattern.FindStringSubmatch(line)
	if match == nil || match[1] != "level" {
		return ""
	}
	return levelColors[match[2]]
}

// paintAttrs colors values of known keys and restores base color after each.
func paintAttrs(line, base string) string {
	matches := attrPattern.FindAllStringSubmatchIndex(line, -1)
	if len(matches) == 0 {
		return line
	}

	var b strings.Builder
	b.Grow(len(line) + len(matches)*10)
	cursor := 0
	for _, m := range matches {
		key := line[m[2]:m[3]]
		valueStart, valueEnd := m[4], m[5]
		color := valueColor(key, line[valueStart:valueEnd])
		if color == "" {
			continue
		}
		b.WriteString(line[cursor:valueStart])
		b.WriteString(color)
		b.WriteString(line[valueStart:valueEnd])
		b.WriteString(ansiReset)
		b.WriteString(base)
		cursor = valueEnd
	}
	b.WriteString(line[cursor:])
	return b.String()
}

func valueColor(key, value string) string {
	switch {
	case key == "level":
		return ""
	case signalKeys[key]:
		return signalColors[strings.Trim(value, `"`)]
	case identityKeys[key]:
		return ansiCyan
	case key == "error" || key == "panic":
		return ansiRed
	}
	return ""
}
