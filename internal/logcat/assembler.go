package logcat

import "bytes"

// LineAssembler rebuilds lines from chunks that do not respect line
// boundaries. Partial content is held until the next newline.
type LineAssembler struct {
	pending []byte
}

// Feed consumes a chunk and returns the lines it completed, in order,
// without their terminators.
func (a *LineAssembler) Feed(chunk []byte) []string {
	var lines []string
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			a.pending = append(a.pending, chunk...)
			break
		}
		var line []byte
		if len(a.pending) > 0 {
			line = append(a.pending, chunk[:i]...)
			a.pending = a.pending[:0]
		} else {
			line = chunk[:i]
		}
		lines = append(lines, string(bytes.TrimSuffix(line, []byte{'\r'})))
		chunk = chunk[i+1:]
	}
	return lines
}

// Flush returns any unterminated trailing content.
func (a *LineAssembler) Flush() (string, bool) {
	if len(a.pending) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(a.pending, []byte{'\r'}))
	a.pending = a.pending[:0]
	return line, true
}

// Pending reports how many bytes are waiting for a newline.
func (a *LineAssembler) Pending() int {
	return len(a.pending)
}
