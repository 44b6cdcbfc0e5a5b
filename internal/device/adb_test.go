package device

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/certbench/internal/errors"
)

const devicesOut = `List of devices attached
emulator-5554          offline transport_id:1
R58M123ABC             device usb:1-1 product:beyond1 model:SM_G973F device:beyond1 transport_id:2
`

func attachedADB(t *testing.T) (*ADB, *fakeRunner) {
	t.Helper()
	f := newFakeRunner()
	f.on("devices -l", devicesOut, 0)
	a := NewADB("adb", WithRunner(f))
	require.NoError(t, a.StartOrAttach(context.Background()))
	return a, f
}

func TestStartOrAttachPicksFirstOnline(t *testing.T) {
	a, f := attachedADB(t)
	assert.Equal(t, "R58M123ABC", a.Serial())
	assert.Equal(t, []string{"start-server", "devices -l"}, f.commands())
}

func TestStartOrAttachPinned(t *testing.T) {
	f := newFakeRunner()
	f.on("devices -l", devicesOut, 0)

	a := NewADB("adb", WithRunner(f), WithSerial("emulator-5554"))
	err := a.StartOrAttach(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
	assert.Contains(t, err.Error(), "offline")
	assert.Empty(t, a.Serial())

	a = NewADB("adb", WithRunner(f), WithSerial("missing"))
	err = a.StartOrAttach(context.Background())
	require.Error(t, err)
	assert.Equal(t, "missing", errors.GetAttributes(err)["serial"])
}

func TestStartOrAttachNoDevice(t *testing.T) {
	f := newFakeRunner()
	f.on("devices -l", "List of devices attached\n\n", 0)
	a := NewADB("adb", WithRunner(f))

	err := a.StartOrAttach(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
}

func TestStartOrAttachServerFailure(t *testing.T) {
	f := newFakeRunner()
	f.errs["start-server"] = io.ErrUnexpectedEOF
	a := NewADB("adb", WithRunner(f))

	err := a.StartOrAttach(context.Background())
	assert.Equal(t, errors.KindTransport, errors.GetKind(err))
}

func TestIsInitialized(t *testing.T) {
	a, f := attachedADB(t)
	f.on("-s R58M123ABC shell getprop sys.boot_completed", "1\n", 0)
	ok, err := a.IsInitialized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	f.on("-s R58M123ABC shell getprop sys.boot_completed", "\n", 0)
	ok, err = a.IsInitialized(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdentity(t *testing.T) {
	a, f := attachedADB(t)
	f.on("-s R58M123ABC shell getprop ro.build.version.release", "14\n", 0)
	f.on("-s R58M123ABC shell getprop ro.product.model", "SM-G973F\n", 0)
	f.on("-s R58M123ABC shell getprop ro.build.display.id", "UP1A.231005.007\n", 0)

	id, err := a.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Identity{Serial: "R58M123ABC", OSVersion: "14", Model: "SM-G973F", DisplayID: "UP1A.231005.007"}, id)
	assert.Equal(t, "R58M123ABC / UP1A.231005.007", Describe(id))
}

func TestIdentityDetached(t *testing.T) {
	a := NewADB("adb", WithRunner(newFakeRunner()))
	_, err := a.Identity(context.Background())
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
}

func TestExecute(t *testing.T) {
	a, f := attachedADB(t)
	f.on("-s R58M123ABC shell echo", "\n", 0)
	f.on("-s R58M123ABC shell false", "", 1)
	f.on("-s R58M123ABC shell ls", "error: device offline\n", 1)

	res, err := a.Execute(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	res, err = a.Execute(context.Background(), "false")
	require.NoError(t, err, "remote exit codes are results, not errors")
	assert.Equal(t, 1, res.ExitCode)

	_, err = a.Execute(context.Background(), "ls")
	require.Error(t, err)
	assert.Equal(t, errors.KindRejected, errors.GetKind(err))
}

func TestExecuteTransportFailure(t *testing.T) {
	a, f := attachedADB(t)
	f.errs["-s R58M123ABC shell echo"] = io.ErrClosedPipe
	_, err := a.Execute(context.Background(), "echo")
	assert.Equal(t, errors.KindTransport, errors.GetKind(err))
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
}

func TestPushPullReboot(t *testing.T) {
	a, f := attachedADB(t)
	f.on("-s R58M123ABC pull /sdcard/x ./x", "adb: error: remote object does not exist", 1)

	require.NoError(t, a.Push(context.Background(), "a.apk", "/data/local/tmp/a.apk"))
	require.NoError(t, a.Reboot(context.Background(), RebootBootloader))
	require.NoError(t, a.Reboot(context.Background(), RebootSystem))
	err := a.Pull(context.Background(), "/sdcard/x", "./x")
	assert.Equal(t, errors.KindRejected, errors.GetKind(err))

	cmds := f.commands()
	assert.Contains(t, cmds, "-s R58M123ABC push a.apk /data/local/tmp/a.apk")
	assert.Contains(t, cmds, "-s R58M123ABC reboot bootloader")
	assert.Contains(t, cmds, "-s R58M123ABC reboot")
}

func TestOpenLogStream(t *testing.T) {
	a, f := attachedADB(t)
	f.stream = "line\n"

	rc, err := a.OpenLogStream(context.Background(), "")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "line\n", string(data))
	assert.Contains(t, f.commands(), "-s R58M123ABC logcat -v threadtime")
}

func TestOpenLogStreamDetached(t *testing.T) {
	a := NewADB("adb", WithRunner(newFakeRunner()))
	_, err := a.OpenLogStream(context.Background(), "brief")
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
}
