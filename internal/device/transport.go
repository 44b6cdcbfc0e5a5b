// Package device talks to the attached Android device through the adb and
// fastboot command line tools.
package device

import (
	"context"
	"io"
)

// Identity describes the attached device. It is only meaningful while the
// connection is ready.
type Identity struct {
	Serial    string `json:"serial"`
	OSVersion string `json:"os_version"`
	Model     string `json:"model"`
	DisplayID string `json:"display_id"`
}

// Valid reports whether the identity names a device.
func (i Identity) Valid() bool {
	return i.Serial != ""
}

// Properties flattens the identity for reports.
func (i Identity) Properties() map[string]string {
	return map[string]string{
		"device.serial":     i.Serial,
		"device.os_version": i.OSVersion,
		"device.model":      i.Model,
		"device.display_id": i.DisplayID,
	}
}

// ExecResult is the outcome of a shell command on the device.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}

// RebootMode selects the reboot target. The zero value boots normally.
type RebootMode string

const (
	RebootSystem     RebootMode = ""
	RebootBootloader RebootMode = "bootloader"
	RebootRecovery   RebootMode = "recovery"
	RebootSideload   RebootMode = "sideload"
)

// Transport is the device handle shared by the supervisor, the log streamer
// and test runs. Every call blocks; callers issue them off the UI loop.
type Transport interface {
	StartOrAttach(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	Identity(ctx context.Context) (Identity, error)
	Execute(ctx context.Context, command string) (ExecResult, error)
	Push(ctx context.Context, local, remote string) error
	Pull(ctx context.Context, remote, local string) error
	OpenLogStream(ctx context.Context, mode string) (io.ReadCloser, error)
	Reboot(ctx context.Context, mode RebootMode) error
}
