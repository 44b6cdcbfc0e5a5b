package junit

import (
	"encoding/xml"
	"os"
	"time"

	"github.com/buckleypaul/certbench/internal/errors"
)

// Summary is the headline of a written report.
type Summary struct {
	Name      string
	Timestamp time.Time
	Hostname  string
	Tests     int
	Failures  int
	Errors    int
	Cases     []string
	// Problems maps failed or errored case names to "type: message".
	Problems map[string]string
}

// Passed reports whether every test passed.
func (s Summary) Passed() bool { return s.Failures == 0 && s.Errors == 0 }

// ReadSummary parses a report file written by Finalize.
func ReadSummary(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, errors.Wrapf(err, errors.KindIO, "read report %s", path)
	}
	var suite testSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return Summary{}, errors.Wrapf(err, errors.KindValidation, "parse report %s", path)
	}
	ts, _ := time.ParseInLocation(TimestampLayout, suite.Timestamp, time.Local)
	s := Summary{
		Name:      suite.Name,
		Timestamp: ts,
		Hostname:  suite.Hostname,
		Tests:     suite.Tests,
		Failures:  suite.Failures,
		Errors:    suite.Errors,
	}
	for _, c := range suite.Cases {
		s.Cases = append(s.Cases, c.Name)
		d := c.Failure
		if d == nil {
			d = c.Error
		}
		if d != nil {
			if s.Problems == nil {
				s.Problems = make(map[string]string)
			}
			s.Problems[c.Name] = d.Type + ": " + d.Message
		}
	}
	return s, nil
}
