package main

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/storage/sqlite"
	"github.com/banshee-data/mosquito.tracker/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// writeFrames renders a single disc crossing the frame into dir.
func writeFrames(t *testing.T, dir string, n int) {
	t.Helper()
	scene := testutil.Scene{
		W: 100, H: 40, Background: 200,
		Discs: []testutil.Disc{{X0: 10, Y0: 20, VX: 8, R: 3, Level: 20, To: -1}},
	}
	for i, img := range scene.Frames(n) {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
}

// setFlags points the command flags at a fresh workspace and restores
// them afterwards.
func setFlags(t *testing.T) (frames, db, plot string) {
	t.Helper()
	root := t.TempDir()
	frames = filepath.Join(root, "seq-1")
	require.NoError(t, os.Mkdir(frames, 0o755))
	db = filepath.Join(root, "m.db")
	plot = filepath.Join(root, "tracks.png")

	saved := []interface{}{*framesDir, *dbFile, *plotPath, *sequence, *loadOnly, *appendMode, *listen}
	*framesDir, *dbFile, *plotPath = frames, db, plot
	*sequence, *loadOnly, *appendMode, *listen = "", false, false, ""
	t.Cleanup(func() {
		*framesDir, *dbFile, *plotPath = saved[0].(string), saved[1].(string), saved[2].(string)
		*sequence, *loadOnly, *appendMode, *listen = saved[3].(string), saved[4].(bool), saved[5].(bool), saved[6].(string)
	})
	return frames, db, plot
}

func TestRunPipeline(t *testing.T) {
	frames, dbPath, plot := setFlags(t)
	writeFrames(t, frames, 10)

	require.NoError(t, run(context.Background()))

	info, err := os.Stat(plot)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	reg, err := db.LoadTracks("seq-1")
	require.NoError(t, err)
	require.Equal(t, 1, reg.NumOfTracks())
	tr, ok := reg.GetSingleTrack(reg.IDs()[0])
	require.True(t, ok)
	assert.Equal(t, 9, tr.Len())

	runs, err := db.Runs("seq-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "done", r.Status)
		assert.NotEmpty(t, r.ParamsJSON)
	}
}

func TestRunLoadOnlyRetracks(t *testing.T) {
	frames, dbPath, _ := setFlags(t)
	writeFrames(t, frames, 10)
	*plotPath = ""
	require.NoError(t, run(context.Background()))

	*loadOnly = true
	require.NoError(t, run(context.Background()))

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.Runs("seq-1")
	require.NoError(t, err)
	assert.Len(t, runs, 3, "the second run only tracks")

	reg, err := db.LoadTracks("seq-1")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.NumOfTracks())
}

func TestRunNeedsDatabaseForLoad(t *testing.T) {
	frames, _, _ := setFlags(t)
	writeFrames(t, frames, 3)
	*dbFile = ""
	*loadOnly = true
	assert.Error(t, run(context.Background()))
}
