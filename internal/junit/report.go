// Package junit writes test results in the Ant JUnit XML report format.
package junit

import (
	"bufio"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/buckleypaul/certbench/internal/errors"
)

// TimestampLayout is the suite timestamp format: ISO 8601 without a zone.
const TimestampLayout = "2006-01-02T15:04:05"

// Detail is the payload of a failure or error entry.
type Detail struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr"`
	Trace   string `xml:",chardata"`
}

// Case is one executed test method.
type Case struct {
	Name      string
	ClassName string
	Elapsed   time.Duration
	Failure   *Detail
	Error     *Detail
}

type property struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type properties struct {
	Property []property `xml:"property"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

type testCase struct {
	Name      string  `xml:"name,attr"`
	ClassName string  `xml:"classname,attr"`
	Time      string  `xml:"time,attr"`
	Failure   *Detail `xml:"failure,omitempty"`
	Error     *Detail `xml:"error,omitempty"`
}

type testSuite struct {
	XMLName    xml.Name   `xml:"testsuite"`
	Name       string     `xml:"name,attr"`
	Timestamp  string     `xml:"timestamp,attr"`
	Hostname   string     `xml:"hostname,attr"`
	Tests      int        `xml:"tests,attr"`
	Failures   int        `xml:"failures,attr"`
	Errors     int        `xml:"errors,attr"`
	Time       string     `xml:"time,attr"`
	Properties properties `xml:"properties"`
	Cases      []testCase `xml:"testcase"`
	SystemOut  cdata      `xml:"system-out"`
	SystemErr  cdata      `xml:"system-err"`
}

// Report accumulates one suite and writes it once on Finalize. It is safe
// for concurrent use.
type Report struct {
	path string
	w    io.WriteCloser
	now  func() time.Time

	mu      sync.Mutex
	suite   testSuite
	started time.Time
	stdout  []string
	stderr  []string

	once sync.Once
	err  error
}

// Option configures a Report.
type Option func(*Report)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Report) { r.now = now }
}

// WithHostname overrides the reported host name.
func WithHostname(host string) Option {
	return func(r *Report) { r.suite.Hostname = host }
}

// Create opens path for writing and starts a suite named name.
func Create(path, name string, props map[string]string, opts ...Option) (*Report, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.KindIO, "create report directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindIO, "create report %s", path)
	}
	r := New(f, name, props, opts...)
	r.path = path
	return r, nil
}

// New starts a suite that will be written to w. Finalize closes w.
func New(w io.WriteCloser, name string, props map[string]string, opts ...Option) *Report {
	if name == "" {
		name = "unknown"
	}
	r := &Report{w: w, now: time.Now}
	r.suite.Name = name
	for _, opt := range opts {
		opt(r)
	}
	if r.suite.Hostname == "" {
		r.suite.Hostname = hostname()
	}
	r.started = r.now()
	r.suite.Timestamp = r.started.Format(TimestampLayout)

	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		r.suite.Properties.Property = append(r.suite.Properties.Property, property{Name: k, Value: strings.TrimSpace(props[k])})
	}
	return r
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

// Path returns the report file, or "" for a report built with New.
func (r *Report) Path() string { return r.path }

// Add records one executed test.
func (r *Report) Add(c Case) {
	tc := testCase{
		Name:      orUnknown(c.Name),
		ClassName: orUnknown(c.ClassName),
		Time:      seconds(c.Elapsed),
		Failure:   c.Failure,
		Error:     c.Error,
	}
	if tc.Failure != nil {
		d := *tc.Failure
		d.Trace = FilterStack(d.Trace)
		tc.Failure = &d
	}
	if tc.Error != nil {
		d := *tc.Error
		d.Trace = FilterStack(d.Trace)
		tc.Error = &d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.suite.Cases = append(r.suite.Cases, tc)
	r.suite.Tests++
	if tc.Failure != nil {
		r.suite.Failures++
	}
	if tc.Error != nil {
		r.suite.Errors++
	}
}

// Stdout captures one narration line for the system-out block.
func (r *Report) Stdout(line string) {
	line = xmlText(line)
	r.mu.Lock()
	r.stdout = append(r.stdout, line)
	r.mu.Unlock()
}

// Stderr captures unit error output for the system-err block.
func (r *Report) Stderr(text string) {
	text = xmlText(text)
	r.mu.Lock()
	r.stderr = append(r.stderr, text)
	r.mu.Unlock()
}

// xmlText replaces invalid UTF-8 and runes XML 1.0 does not allow, such as
// terminal escape codes, with U+FFFD. CDATA sections are written without escaping.
func xmlText(s string) string {
	if utf8.ValidString(s) && strings.IndexFunc(s, invalidXMLRune) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if invalidXMLRune(r) {
			return utf8.RuneError
		}
		return r
	}, s)
}

func invalidXMLRune(r rune) bool {
	switch {
	case r == '\t', r == '\n', r == '\r':
		return false
	case r < 0x20:
		return true
	case r >= 0xD800 && r <= 0xDFFF, r == 0xFFFE, r == 0xFFFF, r > 0x10FFFF:
		return true
	}
	return false
}

// Counts returns tests, failures and errors recorded so far.
func (r *Report) Counts() (tests, failures, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suite.Tests, r.suite.Failures, r.suite.Errors
}

// Finalize computes the totals, writes the document and closes the output.
// Only the first call does anything; later calls return the first result.
func (r *Report) Finalize() error {
	r.once.Do(func() {
		r.err = r.finalize()
	})
	return r.err
}

func (r *Report) finalize() error {
	r.mu.Lock()
	r.suite.Time = seconds(r.now().Sub(r.started))
	r.suite.SystemOut = cdata{Text: strings.Join(r.stdout, "\n")}
	r.suite.SystemErr = cdata{Text: strings.Join(r.stderr, "\n")}
	suite := r.suite
	r.mu.Unlock()

	bw := bufio.NewWriter(r.w)
	err := encode(bw, suite)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := r.w.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, errors.KindIO, "write report")
	}
	return nil
}

func encode(w io.Writer, suite testSuite) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(suite); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func seconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
