package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckleypaul/certbench/internal/errors"
)

func newTestRegistry(t *testing.T, root string, opts ...RegistryOption) *Registry {
	t.Helper()
	return NewRegistry(root, &ZipLoader{CacheDir: t.TempDir()}, opts...)
}

func TestScanFindsMarkedUnitsOnly(t *testing.T) {
	root := t.TempDir()
	accessArchive(t, filepath.Join(root, "fdp"))

	reg := newTestRegistry(t, root)
	res, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Archives)
	assert.Equal(t, []string{"fdp/FDP_ACF_EXT"}, res.Added)
	require.Equal(t, 1, reg.Len())

	p, ok := reg.Get("fdp/FDP_ACF_EXT")
	require.True(t, ok)
	assert.Equal(t, "FDP_ACF_EXT.1 access control", p.DisplayName)
	assert.Equal(t, "FDP_ACF_EXT", p.ShortName)
	assert.Equal(t, "Access control", p.Suite)
	assert.Equal(t, []string{"permissions"}, p.Tests)
	assert.Equal(t, StatusReady, p.Status)
	require.NotNil(t, p.Unit)
	assert.Equal(t, "FDP_ACF_EXT", p.Unit.Name())
}

func TestScanTwiceHasNoDuplicates(t *testing.T) {
	root := t.TempDir()
	accessArchive(t, filepath.Join(root, "fdp"))
	reg := newTestRegistry(t, root)

	_, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)
	res, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Len())
	assert.Empty(t, res.Added)
	assert.Equal(t, []string{"fdp/FDP_ACF_EXT"}, res.Duplicates)
}

func TestScanContinuesPastBrokenArchives(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "corrupt.zip"), []byte("not a zip"), 0o644))
	writeArchive(t, root, "nomanifest.zip", entry{name: "README", body: "hi"})
	accessArchive(t, filepath.Join(root, "z-last"))

	reg := newTestRegistry(t, root)
	res, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Archives)
	assert.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.Equal(t, errors.KindPluginLoad, errors.GetKind(f.Err))
	}
	assert.Equal(t, 1, reg.Len())
	assert.Contains(t, res.Summary(), "2 failed")
}

func TestScanSkipsUnitWithMissingExec(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, filepath.Join(root, "suite"), "a.zip",
		entry{name: "plugin.yaml", body: `units:
  - name: Present
    exec: run.sh
    methods: [{name: t1, test: true}]
  - name: Missing
    exec: gone.sh
    methods: [{name: t1, test: true}]
`},
		entry{name: "run.sh", body: "#!/bin/sh\n", mode: 0o755},
	)

	reg := newTestRegistry(t, root)
	res, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Equal(t, []string{"suite/Present"}, res.Added)
}

func TestSameUnitNameInDifferentFolders(t *testing.T) {
	root := t.TempDir()
	accessArchive(t, filepath.Join(root, "vendorA"))
	accessArchive(t, filepath.Join(root, "vendorB"))

	reg := newTestRegistry(t, root)
	_, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)

	var ids []string
	for _, p := range reg.List() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"vendorA/FDP_ACF_EXT", "vendorB/FDP_ACF_EXT"}, ids)
}

func TestScanMissingRoot(t *testing.T) {
	reg := newTestRegistry(t, "")
	_, err := reg.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestRefreshRefusedWhileBusy(t *testing.T) {
	root := t.TempDir()
	accessArchive(t, filepath.Join(root, "fdp"))
	busy := true
	reg := newTestRegistry(t, root, WithBusy(func() bool { return busy }))
	_, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "fdp")))
	res, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 1, reg.Len(), "refused refresh leaves the catalog alone")

	busy = false
	res, err = reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Warning)
	assert.Equal(t, 0, reg.Len())
}

func TestRefreshRecomputesSameIDs(t *testing.T) {
	root := t.TempDir()
	accessArchive(t, filepath.Join(root, "fdp"))
	reg := newTestRegistry(t, root)

	_, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	require.NoError(t, reg.SetStatus("fdp/FDP_ACF_EXT", StatusCompleted))

	_, err = reg.Refresh(context.Background())
	require.NoError(t, err)
	p, ok := reg.Get("fdp/FDP_ACF_EXT")
	require.True(t, ok)
	assert.Equal(t, StatusReady, p.Status)
}

func TestSetStatusAndClear(t *testing.T) {
	root := t.TempDir()
	accessArchive(t, filepath.Join(root, "fdp"))
	reg := newTestRegistry(t, root)
	_, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)

	v := reg.Version()
	require.NoError(t, reg.SetStatus("fdp/FDP_ACF_EXT", StatusRunning))
	assert.Greater(t, reg.Version(), v)
	p, _ := reg.Get("fdp/FDP_ACF_EXT")
	assert.Equal(t, StatusRunning, p.Status)

	err = reg.SetStatus("nope", StatusRunning)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))

	reg.Clear()
	assert.Equal(t, 0, reg.Len())
	_, ok := reg.Get("fdp/FDP_ACF_EXT")
	assert.False(t, ok)
}

type panickyLoader struct{}

func (panickyLoader) Load(context.Context, string) ([]Plugin, error) { panic("boom") }

func TestLoaderPanicIsAFailure(t *testing.T) {
	root := t.TempDir()
	writeArchive(t, root, "x.zip", entry{name: "plugin.yaml", body: "units: []"})
	reg := NewRegistry(root, panickyLoader{})

	res, err := reg.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Err.Error(), "boom")
}
