package logcat

import (
	"strings"
	"unicode"
)

// Format is a device log line layout.
type Format int

const (
	// FormatAuto sniffs the layout from the first line of a stream.
	FormatAuto Format = iota
	// FormatThreadtime is `logcat -v threadtime`: "date time pid tid L tag: msg".
	FormatThreadtime
	// FormatBracketed is "[ date time pid:tid L/tag ] msg".
	FormatBracketed
)

func (f Format) String() string {
	switch f {
	case FormatThreadtime:
		return "threadtime"
	case FormatBracketed:
		return "bracketed"
	default:
		return "auto"
	}
}

// Parse applies the format's grammar. FormatAuto parses as threadtime.
func (f Format) Parse(line string) (Record, bool) {
	if f == FormatBracketed {
		return ParseBracketed(line)
	}
	return Parse(line)
}

// Sniff guesses the layout of a stream from one of its lines.
func Sniff(line string) Format {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "[") && strings.Contains(trimmed, "]") {
		return FormatBracketed
	}
	return FormatThreadtime
}

// Parse reads a threadtime line. It returns false when the line has fewer
// than five whitespace-separated tokens; it never panics.
func Parse(line string) (Record, bool) {
	spans := tokenSpans(line, 5)
	if len(spans) < 5 {
		return Record{}, false
	}

	date := line[spans[0][0]:spans[0][1]]
	clock := line[spans[1][0]:spans[1][1]]
	level := line[spans[4][0]:spans[4][1]]

	body := strings.TrimLeftFunc(line[spans[4][1]:], unicode.IsSpace)
	tag, msg := splitTag(body)

	return Record{
		Timestamp: date + " " + clock,
		Tag:       tag,
		Message:   msg,
		Severity:  levelSeverity(level),
	}, true
}

// ParseBracketed reads "[ 01-02 03:04:05.678 100:200 W/Tag ] message".
func ParseBracketed(line string) (Record, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "[") {
		return Record{}, false
	}
	end := strings.Index(trimmed, "]")
	if end < 0 {
		return Record{}, false
	}

	header := strings.Fields(trimmed[1:end])
	if len(header) < 3 {
		return Record{}, false
	}

	r := Record{
		Timestamp: header[0] + " " + header[1],
		Message:   strings.TrimSpace(trimmed[end+1:]),
		Severity:  Info,
	}

	// "pid:tid" may be split as "pid:" "tid"; the level/tag token is the
	// first one carrying a slash.
	for _, tok := range header[2:] {
		level, tag, ok := strings.Cut(tok, "/")
		if !ok || level == "" {
			continue
		}
		r.Severity = levelSeverity(level)
		r.Tag = strings.TrimSpace(tag)
		return r, true
	}
	return Record{}, false
}

func levelSeverity(code string) Severity {
	switch code {
	case "E", "F":
		return Error
	case "W":
		return Warn
	case "D", "V":
		return Debug
	default:
		return Info
	}
}

func splitTag(body string) (tag, msg string) {
	before, after, ok := strings.Cut(body, ":")
	if !ok {
		return strings.TrimSpace(body), ""
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

// tokenSpans returns byte offsets of up to max whitespace-delimited tokens.
func tokenSpans(s string, max int) [][2]int {
	spans := make([][2]int, 0, max)
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, [2]int{start, i})
				start = -1
				if len(spans) == max {
					return spans
				}
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(s)})
	}
	return spans
}
