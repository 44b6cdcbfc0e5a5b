package plugin

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

type entry struct {
	name string
	body string
	mode os.FileMode
}

// writeArchive builds a plugin zip at dir/name.
func writeArchive(t *testing.T, dir, name string, entries ...entry) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

const twoUnitManifest = `suite: Access control
units:
  - name: FDP_ACF_EXT
    title: FDP_ACF_EXT.1 access control
    exec: bin/fdp_acf_ext
    methods:
      - name: permissions
        test: true
      - name: helper
  - name: TestUtils
    exec: bin/utils
    methods:
      - name: adbShell
`

func accessArchive(t *testing.T, dir string) string {
	return writeArchive(t, dir, "access.zip",
		entry{name: "plugin.yaml", body: twoUnitManifest},
		entry{name: "bin/fdp_acf_ext", body: "#!/bin/sh\nexit 0\n", mode: 0o755},
		entry{name: "bin/utils", body: "#!/bin/sh\n", mode: 0o755},
	)
}
