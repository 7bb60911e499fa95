package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "plots"), 0o755))
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"file in dir", filepath.Join(dir, "a.png"), true},
		{"missing subdir", filepath.Join(dir, "new", "deeper", "a.png"), true},
		{"existing subdir", filepath.Join(dir, "plots", "a.png"), true},
		{"dot dot", filepath.Join(dir, "..", "a.png"), false},
		{"other dir", filepath.Join(outside, "a.png"), false},
		{"through symlink", filepath.Join(dir, "link", "a.png"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePathWithinDirectory(tt.path, dir)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateExportPath(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateExportPath(filepath.Join(os.TempDir(), "tracks.png")))
	assert.NoError(t, ValidateExportPath("tracks.png"))
	assert.Error(t, ValidateExportPath("/etc/passwd"))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                   "unknown",
		"seq-1":              "seq-1",
		"../../etc/passwd":   "etc_passwd",
		"day 3 / cage B.png": "day_3_cage_B.png",
		"///":                "unknown",
		"mücke_01":           "m_cke_01",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}
