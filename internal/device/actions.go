package device

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/buckleypaul/certbench/internal/errors"
)

const remoteTmp = "/data/local/tmp"

// Screenshot captures the screen into a local PNG.
func Screenshot(ctx context.Context, t Transport, local string) error {
	remote := path.Join(remoteTmp, "certbench_screen.png")
	if err := run(ctx, t, "screencap -p "+remote); err != nil {
		return err
	}
	defer t.Execute(context.WithoutCancel(ctx), "rm -f "+remote)
	return t.Pull(ctx, remote, local)
}

// SendText types text into the focused field.
func SendText(ctx context.Context, t Transport, text string) error {
	if text == "" {
		return nil
	}
	return run(ctx, t, "input text "+escapeInputText(text))
}

// KeyEvent sends a key code such as "KEYCODE_HOME" or "3".
func KeyEvent(ctx context.Context, t Transport, code string) error {
	code = strings.TrimSpace(code)
	if code == "" || strings.ContainsAny(code, " ;&|'\"") {
		return errors.Errorf(errors.KindValidation, "invalid key code %q", code)
	}
	return run(ctx, t, "input keyevent "+code)
}

// ClearAppData wipes an installed package's data.
func ClearAppData(ctx context.Context, t Transport, pkg string) error {
	if !validPackage(pkg) {
		return errors.Errorf(errors.KindValidation, "invalid package name %q", pkg)
	}
	return expectSuccess(ctx, t, "pm clear "+pkg)
}

// InstallAPK pushes an APK to the device and installs it.
func InstallAPK(ctx context.Context, t Transport, apk string) error {
	remote := path.Join(remoteTmp, filepath.Base(apk))
	if err := t.Push(ctx, apk, remote); err != nil {
		return err
	}
	defer t.Execute(context.WithoutCancel(ctx), "rm -f "+shellQuote(remote))
	return expectSuccess(ctx, t, "pm install -r "+shellQuote(remote))
}

func run(ctx context.Context, t Transport, command string) error {
	res, err := t.Execute(ctx, command)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errors.Errorf(errors.KindRejected, "%s: exit %d: %s", command, res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}

// pm prints "Success" on success but does not always exit non-zero on
// failure.
func expectSuccess(ctx context.Context, t Transport, command string) error {
	res, err := t.Execute(ctx, command)
	if err != nil {
		return err
	}
	if !strings.Contains(res.Output, "Success") {
		return errors.Errorf(errors.KindRejected, "%s: %s", command, strings.TrimSpace(res.Output))
	}
	return nil
}

// escapeInputText encodes text for `input text`: spaces become %s and shell
// metacharacters are backslash-escaped.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case strings.ContainsRune(`\'"&|;<>()$`+"`"+`*?~#!%[]{}`, r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func validPackage(pkg string) bool {
	if pkg == "" {
		return false
	}
	for _, r := range pkg {
		if !(r == '.' || r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Describe renders an identity for narration.
func Describe(id Identity) string {
	if !id.Valid() {
		return "(no device)"
	}
	return fmt.Sprintf("%s / %s", id.Serial, id.DisplayID)
}
