package device

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/buckleypaul/certbench/internal/errors"
)

// FastbootTimeout bounds every fastboot invocation.
const FastbootTimeout = 30 * time.Second

// Fastboot drives the fastboot binary for devices in bootloader mode.
type Fastboot struct {
	bin     string
	runner  Runner
	timeout time.Duration
}

// NewFastboot returns a client for the fastboot binary at bin. A nil
// runner uses os/exec.
func NewFastboot(bin string, r Runner) *Fastboot {
	if r == nil {
		r = ExecRunner{}
	}
	return &Fastboot{bin: bin, runner: r, timeout: FastbootTimeout}
}

// Devices lists devices in fastboot mode.
func (f *Fastboot) Devices(ctx context.Context) ([]DeviceEntry, error) {
	res, err := f.run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return ParseDevices(res.Output), nil
}

// Flash writes image to partition on the device with the given serial.
func (f *Fastboot) Flash(ctx context.Context, serial, partition, image string) error {
	if partition == "" {
		return errors.New(errors.KindValidation, "partition is required")
	}
	if _, err := os.Stat(image); err != nil {
		return errors.Wrapf(err, errors.KindValidation, "image %s", image)
	}
	_, err := f.run(ctx, withSerial(serial, "flash", partition, image)...)
	return err
}

// Reboot restarts the device out of the bootloader.
func (f *Fastboot) Reboot(ctx context.Context, serial string) error {
	_, err := f.run(ctx, withSerial(serial, "reboot")...)
	return err
}

func (f *Fastboot) run(ctx context.Context, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.runner.Run(ctx, f.bin, args...)
	if err != nil {
		return res, errors.Wrapf(err, errors.KindTransport, "fastboot %s", strings.Join(args, " "))
	}
	if res.ExitCode != 0 {
		return res, rejected("fastboot "+strings.Join(args, " "), res)
	}
	return res, nil
}

func withSerial(serial string, args ...string) []string {
	if serial == "" {
		return args
	}
	return append([]string{"-s", serial}, args...)
}
