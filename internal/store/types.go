package store

import "time"

// RunRecord captures one test execution.
type RunRecord struct {
	ID        string    `json:"id"`
	PluginID  string    `json:"plugin_id"`
	ShortName string    `json:"short_name"`
	Serial    string    `json:"serial,omitempty"`
	DisplayID string    `json:"display_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration"`
	Tests     int       `json:"tests"`
	Failures  int       `json:"failures"`
	Errors    int       `json:"errors"`
	Success   bool      `json:"success"`
	Report    string    `json:"report,omitempty"`
	// Aborted is set when the run ended before every test executed.
	Aborted string `json:"aborted,omitempty"`
}

// FlashRecord captures a fastboot flash.
type FlashRecord struct {
	Serial    string    `json:"serial,omitempty"`
	Partition string    `json:"partition"`
	Image     string    `json:"image"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Duration  string    `json:"duration"`
}

// StreamSession tracks a log capture session.
type StreamSession struct {
	Source    string    `json:"source"`
	Port      string    `json:"port,omitempty"`
	BaudRate  int       `json:"baud_rate,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	LogFile   string    `json:"log_file"`
}
