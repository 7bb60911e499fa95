package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mosquito.tracker/internal/config"
	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l1frames"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l4tracks"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/session"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/storage/sqlite"
	"github.com/banshee-data/mosquito.tracker/internal/testutil"
	"github.com/banshee-data/mosquito.tracker/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// mover is a dark disc crossing a light background 8 px per frame.
func mover() testutil.Scene {
	return testutil.Scene{
		W: 100, H: 40, Background: 200,
		Discs: []testutil.Disc{{X0: 10, Y0: 20, VX: 8, R: 3, Level: 20, To: -1}},
	}
}

func newTestSession(t *testing.T, name string) *session.Session {
	t.Helper()
	s := session.New(name, l1frames.NewMemorySource(mover().Frames(10)), config.EmptyTuningConfig())
	s.SetClock(timeutil.NewSteppingClock(time.Unix(1000, 0), time.Millisecond))
	return s
}

func newTestServer(t *testing.T, db *sqlite.DB, names ...string) (*WebServer, *session.Project) {
	t.Helper()
	p := session.NewProject()
	for _, n := range names {
		require.NoError(t, p.Add(newTestSession(t, n)))
	}
	return NewWebServer(WebServerConfig{Address: ":0", Project: p, DB: db}), p
}

func do(ws *WebServer, method, path string, body []byte) *httptest.ResponseRecorder {
	return testutil.Serve(ws.Handler(), method, path, body)
}

// seedTrack registers a five point track on s.
func seedTrack(t *testing.T, s *session.Session) int {
	t.Helper()
	id := s.Tracks().RegisterNew()
	for f := 0; f < 5; f++ {
		require.True(t, s.Tracks().UpdateTrack(id, l4tracks.TrackPoint{X: float64(10 * f), Y: 5, Frame: f}))
	}
	return id
}

// ----------------------------------------------------------------------------
// Server basics
// ----------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	t.Parallel()

	ws, _ := newTestServer(t, nil)
	w := do(ws, http.MethodGet, "/health", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var body map[string]string
	testutil.DecodeJSON(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "mosquito", body["service"])
}

func TestStatusPage(t *testing.T) {
	t.Parallel()

	ws, _ := newTestServer(t, nil, "alpha", "beta")
	w := do(ws, http.MethodGet, "/", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), "alpha")
	assert.Contains(t, w.Body.String(), "beta")

	w = do(ws, http.MethodGet, "/nope", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	ws := NewWebServer(WebServerConfig{Address: "127.0.0.1:0", Project: session.NewProject()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// ----------------------------------------------------------------------------
// Sessions
// ----------------------------------------------------------------------------

func TestSessionsAndSelect(t *testing.T) {
	t.Parallel()

	ws, p := newTestServer(t, nil, "b", "a")

	var infos []SessionInfo
	testutil.DecodeJSON(t, do(ws, http.MethodGet, "/api/sessions", nil), &infos)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.False(t, infos[0].Selected)
	assert.True(t, infos[1].Selected, "first session added is selected")
	assert.Equal(t, 10, infos[1].Frames)
	assert.True(t, infos[1].Backup)

	w := do(ws, http.MethodPost, "/api/sessions/select?session=a", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	sel, err := p.Selected()
	require.NoError(t, err)
	assert.Equal(t, "a", sel.Name())

	w = do(ws, http.MethodPost, "/api/sessions/select?session=zzz", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	w = do(ws, http.MethodPost, "/api/sessions", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestLookupErrors(t *testing.T) {
	t.Parallel()

	ws, _ := newTestServer(t, nil)
	for _, path := range []string{"/api/progress", "/api/tracks?session=x", "/debug/tracks", "/debug/tracks.png"} {
		w := do(ws, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

// ----------------------------------------------------------------------------
// Passes
// ----------------------------------------------------------------------------

func TestDetectAndTrackOverHTTP(t *testing.T) {
	t.Parallel()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ws, p := newTestServer(t, db, "seq")
	s, err := p.Get("seq")
	require.NoError(t, err)

	w := do(ws, http.MethodPost, "/api/detect?session=seq", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	s.Wait()
	ws.wg.Wait()

	var prog struct {
		Running  bool              `json:"running"`
		Fraction float64           `json:"fraction"`
		Progress *session.Progress `json:"progress"`
	}
	testutil.DecodeJSON(t, do(ws, http.MethodGet, "/api/progress?session=seq", nil), &prog)
	assert.False(t, prog.Running)
	require.NotNil(t, prog.Progress)
	assert.Equal(t, l4tracks.StateDone, prog.Progress.State)
	assert.Equal(t, 1.0, prog.Fraction)

	w = do(ws, http.MethodPost, "/api/track", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	s.Wait()
	ws.wg.Wait()

	var tracks []TrackJSON
	testutil.DecodeJSON(t, do(ws, http.MethodGet, "/api/tracks?session=seq", nil), &tracks)
	require.Len(t, tracks, 1)
	assert.Equal(t, 1, tracks[0].FirstFrame)
	assert.Equal(t, 9, tracks[0].LastFrame)
	assert.Len(t, tracks[0].Points, 9)

	var one TrackJSON
	testutil.DecodeJSON(t, do(ws, http.MethodGet, "/api/tracks?id=1", nil), &one)
	assert.Equal(t, 1, one.ID)
	w = do(ws, http.MethodGet, "/api/tracks?id=42", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	var runs []sqlite.Run
	testutil.DecodeJSON(t, do(ws, http.MethodGet, "/api/runs", nil), &runs)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "done", r.Status)
	}

	saved, err := db.LoadTracks("seq")
	require.NoError(t, err)
	assert.Equal(t, 1, saved.NumOfTracks())
	dets, err := db.LoadDetections("seq")
	require.NoError(t, err)
	assert.Equal(t, 9, dets.Count())
}

func TestDetectRejectsBadRange(t *testing.T) {
	t.Parallel()

	ws, _ := newTestServer(t, nil, "seq")
	w := do(ws, http.MethodPost, "/api/detect?from=5&to=2", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	w = do(ws, http.MethodPost, "/api/detect?from=x", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	w = do(ws, http.MethodPost, "/api/track?append=maybe", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	w = do(ws, http.MethodGet, "/api/detect", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestRunsWithoutDatabase(t *testing.T) {
	t.Parallel()

	ws, _ := newTestServer(t, nil, "seq")
	w := do(ws, http.MethodGet, "/api/runs", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
}

// ----------------------------------------------------------------------------
// Edits
// ----------------------------------------------------------------------------

func TestEditAndUndo(t *testing.T) {
	t.Parallel()

	ws, p := newTestServer(t, nil, "seq")
	s, err := p.Get("seq")
	require.NoError(t, err)
	id := seedTrack(t, s)

	body, _ := json.Marshal(EditRequest{Op: "split", ID: id, Index: 2})
	w := do(ws, http.MethodPost, "/api/edit", body)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var resp struct {
		Applied bool                   `json:"applied"`
		Layer   string                 `json:"layer"`
		Result  map[string]interface{} `json:"result"`
	}
	testutil.DecodeJSON(t, w, &resp)
	assert.True(t, resp.Applied)
	assert.Equal(t, "tracks", resp.Layer)
	assert.Equal(t, float64(2), resp.Result["NewID"])
	assert.Equal(t, 2, s.Tracks().NumOfTracks())

	// An edit on a missing track is reported, not an error.
	body, _ = json.Marshal(EditRequest{Op: "delete_track", ID: 99})
	testutil.DecodeJSON(t, do(ws, http.MethodPost, "/api/edit", body), &resp)
	assert.False(t, resp.Applied)

	w = do(ws, http.MethodPost, "/api/undo?layer=tracks", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, 1, s.Tracks().NumOfTracks())
	tr, ok := s.Tracks().GetSingleTrack(id)
	require.True(t, ok)
	assert.Equal(t, 5, tr.Len())

	w = do(ws, http.MethodPost, "/api/undo?layer=bogus", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestEditRequestValidation(t *testing.T) {
	t.Parallel()

	ws, _ := newTestServer(t, nil, "seq")
	w := do(ws, http.MethodPost, "/api/edit", []byte(`{"op":"teleport"}`))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	w = do(ws, http.MethodPost, "/api/edit", []byte(`{not json`))
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)

	for _, op := range []string{"join", "split", "delete_track", "remove_point", "add_point",
		"extrapolate", "add_detection", "remove_detection", "clean_cluster"} {
		e, err := EditRequest{Op: op}.Edit()
		require.NoError(t, err, op)
		assert.NotEmpty(t, e.Name(), op)
	}
}

func TestDetectionsEndpoint(t *testing.T) {
	t.Parallel()

	ws, p := newTestServer(t, nil, "seq")
	s, err := p.Get("seq")
	require.NoError(t, err)

	body, _ := json.Marshal(EditRequest{Op: "add_detection", Frame: 4, X: 3, Y: 4, Area: 9})
	w := do(ws, http.MethodPost, "/api/edit", body)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, 1, s.Detections().Count())

	w = do(ws, http.MethodGet, "/api/detections?frame=4", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), `"Area":9`)
	w = do(ws, http.MethodGet, "/api/detections?frame=5", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

// ----------------------------------------------------------------------------
// Charts and plots
// ----------------------------------------------------------------------------

func TestTracksChart(t *testing.T) {
	t.Parallel()

	ws, p := newTestServer(t, nil, "seq")
	s, err := p.Get("seq")
	require.NoError(t, err)
	seedTrack(t, s)

	w := do(ws, http.MethodGet, "/debug/tracks", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Body.String(), "track 1")

	w = do(ws, http.MethodGet, "/debug/tracks.png", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestExportPlot(t *testing.T) {
	t.Parallel()

	ws, p := newTestServer(t, nil, "cage 3/a")
	s, err := p.Get("cage 3/a")
	require.NoError(t, err)
	seedTrack(t, s)

	w := do(ws, http.MethodPost, "/api/plot", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var resp map[string]string
	testutil.DecodeJSON(t, w, &resp)
	assert.Equal(t, filepath.Join(os.TempDir(), "cage_3_a-tracks.png"), resp["path"])
	t.Cleanup(func() { os.Remove(resp["path"]) })
	_, err = os.Stat(resp["path"])
	assert.NoError(t, err)

	w = do(ws, http.MethodPost, "/api/plot?path=/etc/tracks.png", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusForbidden)
}

func TestPlotterSave(t *testing.T) {
	t.Parallel()

	reg := l4tracks.NewRegistry()
	for i := 0; i < 3; i++ {
		id := reg.RegisterNew()
		for f := 0; f < 4; f++ {
			require.True(t, reg.UpdateTrack(id, l4tracks.TrackPoint{X: float64(f * 5), Y: float64(i * 10), Frame: f}))
		}
	}
	path := filepath.Join(t.TempDir(), "plots", "tracks.png")
	require.NoError(t, NewPlotter().Save(reg, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	// An empty registry still renders.
	require.NoError(t, NewPlotter().Save(l4tracks.NewRegistry(), filepath.Join(t.TempDir(), "empty.png")))
}

func TestGenerateColors(t *testing.T) {
	t.Parallel()

	assert.Nil(t, generateColors(0))
	colors := generateColors(6)
	require.Len(t, colors, 6)
	seen := make(map[interface{}]bool)
	for _, c := range colors {
		seen[c] = true
	}
	assert.Len(t, seen, 6)
}
