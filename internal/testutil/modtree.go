// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"path"
	"testing"

	"github.com/spf13/afero"
)

type (
	manifest struct {
		fields  map[string]any
		depends map[string]any
	}

	// ManifestOption adds a field to a generated manifest.
	ManifestOption func(*manifest)
)

// WithType sets the manifest "type" field.
func WithType(t string) ManifestOption {
	return func(m *manifest) { m.fields["type"] = t }
}

// WithField sets an arbitrary top-level field.
func WithField(key string, value any) ManifestOption {
	return func(m *manifest) { m.fields[key] = value }
}

// DependsOn adds a "depends" entry. Several requirements become an array.
func DependsOn(id string, requirements ...string) ManifestOption {
	return func(m *manifest) {
		if len(requirements) == 1 {
			m.depends[id] = requirements[0]
			return
		}
		m.depends[id] = requirements
	}
}

// Manifest renders a balloon.mod.json document.
func Manifest(id, version string, opts ...ManifestOption) string {
	m := &manifest{
		fields:  map[string]any{"schemaVersion": 1, "id": id, "version": version},
		depends: map[string]any{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.depends) > 0 {
		m.fields["depends"] = m.depends
	}
	data, err := json.MarshalIndent(m.fields, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(data)
}

// WriteMod lays out an unpacked mod at dir: the manifest plus one file per
// library name under bin/.
func WriteMod(t testing.TB, fs afero.Fs, dir, manifestJSON string, libs ...string) {
	t.Helper()
	if err := fs.MkdirAll(path.Join(dir, "bin"), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	if err := afero.WriteFile(fs, path.Join(dir, "balloon.mod.json"), []byte(manifestJSON), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	for _, lib := range libs {
		if err := afero.WriteFile(fs, path.Join(dir, "bin", lib), []byte("lib:"+lib), 0o755); err != nil {
			t.Fatalf("failed to write library %s: %v", lib, err)
		}
	}
}

// ZipMod builds a zip archive in memory from name → content pairs. No
// directory entries are written.
func ZipMod(t testing.TB, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to add %s to archive: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write %s to archive: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish archive: %v", err)
	}
	return buf.Bytes()
}

// WriteZipMod writes an archived mod to archivePath.
func WriteZipMod(t testing.TB, fs afero.Fs, archivePath, manifestJSON string, libs ...string) {
	t.Helper()
	files := map[string]string{"balloon.mod.json": manifestJSON}
	for _, lib := range libs {
		files["bin/"+lib] = "lib:" + lib
	}
	if err := afero.WriteFile(fs, archivePath, ZipMod(t, files), 0o644); err != nil {
		t.Fatalf("failed to write archive %s: %v", archivePath, err)
	}
}
