// Package logcat turns raw device log text into bounded, structured records.
package logcat

import (
	"strings"
	"time"
)

// Severity of a Record. Pass is synthetic: it is only produced by internal
// narration, never parsed from device output.
type Severity int

const (
	Debug Severity = iota
	Info
	Warn
	Error
	Pass
)

// TimestampLayout is the device-local "MM-DD HH:MM:SS.mmm" stamp.
const TimestampLayout = "01-02 15:04:05.000"

// Tags used for records that do not come from the device.
const (
	TagRaw    = "RAW"
	TagTest   = "TEST"
	TagPlugin = "PLUGIN"
	TagDevice = "DEVICE"
	TagUART   = "UART"
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Pass:
		return "PASS"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name. Unknown names decode as Info.
func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

// ParseSeverity maps a name such as "warn" to a Severity; unknown is Info.
func ParseSeverity(name string) Severity {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return Debug
	case "WARN", "WARNING":
		return Warn
	case "ERROR":
		return Error
	case "PASS":
		return Pass
	default:
		return Info
	}
}

// Record is one structured log line. Treat it as immutable.
type Record struct {
	Timestamp string   `json:"timestamp"`
	Tag       string   `json:"tag"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// NewRecord builds an instrumentation record stamped with the host clock.
func NewRecord(tag string, sev Severity, message string) Record {
	return Record{
		Timestamp: time.Now().Format(TimestampLayout),
		Tag:       tag,
		Message:   message,
		Severity:  sev,
	}
}

// Fallback wraps a line the parser rejected so it is never dropped.
func Fallback(tag, line string) Record {
	if tag == "" {
		tag = TagRaw
	}
	return Record{Tag: tag, Message: line, Severity: Info}
}

// Sink consumes records.
type Sink interface {
	Publish(r Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record)

func (f SinkFunc) Publish(r Record) { f(r) }

// Tee publishes every record to all sinks in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(r Record) {
		for _, s := range sinks {
			if s != nil {
				s.Publish(r)
			}
		}
	})
}
