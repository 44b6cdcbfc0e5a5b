package logcat

import "strings"

// Filter selects records for display. The zero Filter matches everything.
type Filter struct {
	Text       string
	Severities map[Severity]bool
}

// Match reports whether r passes the filter. Text matches tag or message,
// case-insensitively. An empty severity set allows all severities.
func (f Filter) Match(r Record) bool {
	if len(f.Severities) > 0 && !f.Severities[r.Severity] {
		return false
	}
	if f.Text == "" {
		return true
	}
	q := strings.ToLower(f.Text)
	return strings.Contains(strings.ToLower(r.Tag), q) ||
		strings.Contains(strings.ToLower(r.Message), q)
}

// Apply returns the matching records in order.
func (f Filter) Apply(recs []Record) []Record {
	if f.Text == "" && len(f.Severities) == 0 {
		return recs
	}
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Toggle flips sev in the set and returns the filter.
func (f Filter) Toggle(sev Severity) Filter {
	next := make(map[Severity]bool, len(f.Severities)+1)
	for k, v := range f.Severities {
		if v {
			next[k] = true
		}
	}
	if next[sev] {
		delete(next, sev)
	} else {
		next[sev] = true
	}
	f.Severities = next
	return f
}
