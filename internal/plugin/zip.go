package plugin

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logging"
)

const maxManifestSize = 1 << 20

// ZipLoader loads plugin archives: zip files with a plugin.yaml manifest and
// one executable per unit.
type ZipLoader struct {
	// CacheDir receives one extraction directory per opened session.
	CacheDir string
	Logger   *log.Logger
}

// Load reads one archive's manifest and returns its qualifying units.
// Units without a marked test method or whose executable is missing from
// the archive are skipped.
func (l *ZipLoader) Load(ctx context.Context, archive string) ([]Plugin, error) {
	logger := logging.WithComponent(l.Logger, "plugins")

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPluginLoad, "open %s", filepath.Base(archive))
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[path.Clean(f.Name)] = f
	}

	mf, ok := files[ManifestName]
	if !ok {
		return nil, errors.Errorf(errors.KindPluginLoad, "%s: no %s", filepath.Base(archive), ManifestName)
	}
	data, err := readEntry(mf, maxManifestSize)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPluginLoad, "%s: read manifest", filepath.Base(archive))
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPluginLoad, "%s", filepath.Base(archive))
	}

	folder := filepath.Base(filepath.Dir(archive))
	var plugins []Plugin
	for _, spec := range manifest.Units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tests := spec.Tests()
		if len(tests) == 0 {
			continue
		}
		if spec.Exec == "" || files[path.Clean(spec.Exec)] == nil {
			logger.Debug("unit skipped, executable missing", "archive", archive, "unit", spec.Name, "exec", spec.Exec)
			continue
		}

		display := spec.Title
		if display == "" {
			display = spec.Name
		}
		plugins = append(plugins, Plugin{
			ID:          folder + "/" + spec.Name,
			DisplayName: display,
			ShortName:   spec.Name,
			Description: spec.Description,
			Suite:       manifest.Suite,
			Archive:     archive,
			Tests:       tests,
			Status:      StatusReady,
			Unit: &execUnit{
				archive:  archive,
				spec:     spec,
				tests:    tests,
				cacheDir: l.CacheDir,
			},
		})
	}
	return plugins, nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.Errorf(errors.KindPluginLoad, "%s exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}

// extract unpacks archive into a fresh directory under cacheDir.
func extract(archive, cacheDir, prefix string) (string, error) {
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", errors.Wrap(err, errors.KindIO, "create plugin cache")
	}
	dir, err := os.MkdirTemp(cacheDir, sanitize(prefix)+"-*")
	if err != nil {
		return "", errors.Wrap(err, errors.KindIO, "create session dir")
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		os.RemoveAll(dir)
		return "", errors.Wrapf(err, errors.KindPluginLoad, "open %s", filepath.Base(archive))
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractFile(f, dir); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

func extractFile(f *zip.File, dir string) error {
	name := filepath.FromSlash(path.Clean(f.Name))
	if !filepath.IsLocal(name) {
		return errors.Errorf(errors.KindPluginLoad, "archive entry %q escapes the plugin directory", f.Name)
	}
	target := filepath.Join(dir, name)

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, errors.KindIO, "extract")
	}

	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, errors.KindPluginLoad, "open entry %s", f.Name)
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrap(err, errors.KindIO, "extract")
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return errors.Wrapf(err, errors.KindIO, "extract %s", f.Name)
	}
	return out.Close()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
