package device

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logging"
)

// ADB implements Transport on top of the adb client binary.
type ADB struct {
	bin    string
	runner Runner
	pinned string
	logger *log.Logger

	mu     sync.RWMutex
	serial string
}

// Option configures an ADB transport.
type Option func(*ADB)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(a *ADB) { a.runner = r }
}

// WithSerial pins the transport to one device.
func WithSerial(serial string) Option {
	return func(a *ADB) { a.pinned = serial }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *log.Logger) Option {
	return func(a *ADB) { a.logger = l }
}

// NewADB returns a transport using the adb binary at bin.
func NewADB(bin string, opts ...Option) *ADB {
	a := &ADB{bin: bin, runner: ExecRunner{}}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.WithComponent(a.logger, "adb")
	return a
}

// Serial returns the attached serial, or "" when detached.
func (a *ADB) Serial() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.serial
}

// Devices lists everything adb can see.
func (a *ADB) Devices(ctx context.Context) ([]DeviceEntry, error) {
	res, err := a.runner.Run(ctx, a.bin, "devices", "-l")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "adb devices")
	}
	if res.ExitCode != 0 {
		return nil, rejected("adb devices", res)
	}
	return ParseDevices(res.Output), nil
}

// StartOrAttach starts the adb server and binds to the pinned device, or to
// the first online device when none is pinned.
func (a *ADB) StartOrAttach(ctx context.Context) error {
	res, err := a.runner.Run(ctx, a.bin, "start-server")
	if err != nil {
		return errors.Wrap(err, errors.KindTransport, "adb start-server")
	}
	if res.ExitCode != 0 {
		return rejected("adb start-server", res)
	}

	devices, err := a.Devices(ctx)
	if err != nil {
		return err
	}

	serial, err := pick(devices, a.pinned)
	if err != nil {
		a.setSerial("")
		return err
	}
	if prev := a.Serial(); prev != serial {
		a.logger.Info("attached", "serial", serial)
	}
	a.setSerial(serial)
	return nil
}

func pick(devices []DeviceEntry, pinned string) (string, error) {
	for _, d := range devices {
		if pinned != "" && d.Serial != pinned {
			continue
		}
		if d.Online() {
			return d.Serial, nil
		}
		if pinned != "" {
			return "", errors.Attr(
				errors.Errorf(errors.KindUnavailable, "device %s is %s", d.Serial, d.State),
				"serial", d.Serial)
		}
	}
	if pinned != "" {
		return "", errors.Attr(errors.Errorf(errors.KindUnavailable, "device %s not attached", pinned), "serial", pinned)
	}
	return "", errors.New(errors.KindUnavailable, "no device attached")
}

// IsInitialized reports whether the device finished booting.
func (a *ADB) IsInitialized(ctx context.Context) (bool, error) {
	v, err := a.prop(ctx, "sys.boot_completed")
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// Identity reads the identifying build properties.
func (a *ADB) Identity(ctx context.Context) (Identity, error) {
	id := Identity{Serial: a.Serial()}
	if id.Serial == "" {
		return Identity{}, errors.New(errors.KindUnavailable, "no device attached")
	}

	var err error
	if id.OSVersion, err = a.prop(ctx, "ro.build.version.release"); err != nil {
		return Identity{}, err
	}
	if id.Model, err = a.prop(ctx, "ro.product.model"); err != nil {
		return Identity{}, err
	}
	if id.DisplayID, err = a.prop(ctx, "ro.build.display.id"); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (a *ADB) prop(ctx context.Context, name string) (string, error) {
	res, err := a.Execute(ctx, "getprop "+name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Output), nil
}

// Execute runs a shell command on the device. The remote exit code is
// returned in the result; adb-level failures (device gone, unauthorized)
// are KindRejected errors.
func (a *ADB) Execute(ctx context.Context, command string) (ExecResult, error) {
	res, err := a.device(ctx, "shell", command)
	if err != nil {
		return ExecResult{ExitCode: -1, Output: res.Output}, err
	}
	if res.ExitCode != 0 && adbFailure(res.Output) {
		return ExecResult{ExitCode: res.ExitCode, Output: res.Output}, rejected("adb shell", res)
	}
	return ExecResult{ExitCode: res.ExitCode, Output: res.Output}, nil
}

// Push copies a host file to the device.
func (a *ADB) Push(ctx context.Context, local, remote string) error {
	return a.check(ctx, "adb push", "push", local, remote)
}

// Pull copies a device file to the host.
func (a *ADB) Pull(ctx context.Context, remote, local string) error {
	return a.check(ctx, "adb pull", "pull", remote, local)
}

// Reboot restarts the device into the given mode.
func (a *ADB) Reboot(ctx context.Context, mode RebootMode) error {
	args := []string{"reboot"}
	if mode != RebootSystem {
		args = append(args, string(mode))
	}
	return a.check(ctx, "adb reboot", args...)
}

// OpenLogStream starts `adb logcat -v <mode>`.
func (a *ADB) OpenLogStream(ctx context.Context, mode string) (io.ReadCloser, error) {
	serial := a.Serial()
	if serial == "" {
		return nil, errors.New(errors.KindUnavailable, "no device attached")
	}
	if mode == "" {
		mode = "threadtime"
	}
	return a.runner.Stream(ctx, a.bin, "-s", serial, "logcat", "-v", mode)
}

func (a *ADB) check(ctx context.Context, what string, args ...string) error {
	res, err := a.device(ctx, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return rejected(what, res)
	}
	return nil
}

func (a *ADB) device(ctx context.Context, args ...string) (Result, error) {
	serial := a.Serial()
	if serial == "" {
		return Result{}, errors.New(errors.KindUnavailable, "no device attached")
	}
	full := append([]string{"-s", serial}, args...)
	res, err := a.runner.Run(ctx, a.bin, full...)
	if err != nil {
		return res, errors.Attr(errors.Wrapf(err, errors.KindTransport, "adb %s", args[0]), "serial", serial)
	}
	return res, nil
}

func (a *ADB) setSerial(s string) {
	a.mu.Lock()
	a.serial = s
	a.mu.Unlock()
}

// adbFailure recognizes errors printed by the adb client itself rather than
// by the remote command.
func adbFailure(output string) bool {
	out := strings.TrimSpace(output)
	return strings.HasPrefix(out, "error:") || strings.HasPrefix(out, "adb: error") ||
		strings.Contains(out, "device offline") || strings.Contains(out, "no devices/emulators found")
}

func rejected(what string, res Result) error {
	msg := strings.TrimSpace(res.Output)
	if msg == "" {
		msg = "no output"
	}
	return errors.Attr(errors.Errorf(errors.KindRejected, "%s: exit %d: %s", what, res.ExitCode, msg), "exit_code", res.ExitCode)
}
