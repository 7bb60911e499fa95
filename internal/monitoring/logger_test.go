package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("frame %d", 7)
	assert.Equal(t, []string{"frame 7"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted %d", 1) })
	assert.Len(t, got, 1, "nil installs a no-op logger")
}

func TestNewRotatingLogf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mozzie.log")

	logf, closeLog := NewRotatingLogf(path)
	logf("pass %s finished: %d tracks", "abc", 3)
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pass abc finished: 3 tracks")
}
