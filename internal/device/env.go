package device

import (
	"os"
	"path/filepath"
	"runtime"
)

// ResolveTool finds an Android platform tool such as "adb" or "fastboot".
// Detection order: override → $ANDROID_HOME/platform-tools →
// $ANDROID_SDK_ROOT/platform-tools → bare name (resolved via PATH).
func ResolveTool(name, override string) string {
	if override != "" {
		return override
	}

	exe := exeName(name)
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		sdk := os.Getenv(env)
		if sdk == "" {
			continue
		}
		candidate := filepath.Join(sdk, "platform-tools", exe)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return exe
}

// exeName returns the executable name for the current OS.
func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}
