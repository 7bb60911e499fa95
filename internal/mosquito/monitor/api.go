package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/mosquito.tracker/internal/httputil"
	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l4tracks"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l5history"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/session"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/storage/sqlite"
)

// SessionInfo is the summary of one session in /api/sessions.
type SessionInfo struct {
	Name           string `json:"name"`
	Selected       bool   `json:"selected"`
	Frames         int    `json:"frames"`
	DetectedFrames int    `json:"detected_frames"`
	Detections     int    `json:"detections"`
	Tracks         int    `json:"tracks"`
	Running        bool   `json:"running"`
	Backup         bool   `json:"backup"`
	UndoTracks     int    `json:"undo_tracks"`
	UndoDetections int    `json:"undo_detections"`
}

// TrackJSON is a track as served by /api/tracks.
type TrackJSON struct {
	ID         int                   `json:"id"`
	FirstFrame int                   `json:"first_frame"`
	LastFrame  int                   `json:"last_frame"`
	Points     []l4tracks.TrackPoint `json:"points"`
}

func (ws *WebServer) sessionInfos() []SessionInfo {
	var selected string
	if s, err := ws.project.Selected(); err == nil {
		selected = s.Name()
	}
	var out []SessionInfo
	for _, name := range ws.project.Names() {
		s, err := ws.project.Get(name)
		if err != nil {
			continue
		}
		undoTracks, undoDets := s.UndoDepth()
		out = append(out, SessionInfo{
			Name:           name,
			Selected:       name == selected,
			Frames:         s.Source().Len(),
			DetectedFrames: s.Detections().Len(),
			Detections:     s.Detections().Count(),
			Tracks:         s.Tracks().NumOfTracks(),
			Running:        s.Running(),
			Backup:         s.Backup(),
			UndoTracks:     undoTracks,
			UndoDetections: undoDets,
		})
	}
	return out
}

// lookup resolves the "session" query parameter, falling back to the
// selected session when it is absent.
func (ws *WebServer) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	var (
		s   *session.Session
		err error
	)
	if name := r.URL.Query().Get("session"); name != "" {
		s, err = ws.project.Get(name)
	} else {
		s, err = ws.project.Selected()
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return s, true
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ws.sessionInfos())
}

func (ws *WebServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	name := r.URL.Query().Get("session")
	if err := ws.project.Select(name); err != nil {
		httputil.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"selected": name})
}

func (ws *WebServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	resp := struct {
		Session  string                 `json:"session"`
		Running  bool                   `json:"running"`
		Progress *session.Progress      `json:"progress,omitempty"`
		Fraction float64                `json:"fraction"`
		Detect   *session.DetectSummary `json:"detect,omitempty"`
		Track    *l4tracks.Summary      `json:"track,omitempty"`
	}{Session: s.Name(), Running: s.Running()}
	if p, ok := s.LastProgress(); ok {
		resp.Progress = &p
		resp.Fraction = p.Fraction()
	}
	if d, ok := s.LastDetectSummary(); ok {
		resp.Detect = &d
	}
	if t, ok := s.LastTrackSummary(); ok {
		resp.Track = &t
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("id") != "" {
		id, err := httputil.QueryInt(r, "id", 0)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		tr, ok := s.Tracks().GetSingleTrack(id)
		if !ok {
			httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("track %d not found", id))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, trackJSON(tr))
		return
	}
	tracks := s.Tracks().Tracks()
	out := make([]TrackJSON, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, trackJSON(tr))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func trackJSON(tr l4tracks.Track) TrackJSON {
	return TrackJSON{ID: tr.ID, FirstFrame: tr.FirstFrame(), LastFrame: tr.LastFrame(), Points: tr.Points}
}

func (ws *WebServer) handleDetections(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	frame, err := httputil.QueryInt(r, "frame", -1)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if frame < 0 {
		httputil.WriteJSON(w, http.StatusOK, s.Detections().All())
		return
	}
	fd, ok := s.Detections().Frame(frame)
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, fmt.Sprintf("frame %d has no detections", frame))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fd)
}

// handleDetect starts a detection pass over [from, to]; the whole
// sequence when the range is omitted.
func (ws *WebServer) handleDetect(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	from, err := httputil.QueryInt(r, "from", 0)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := httputil.QueryInt(r, "to", s.Source().Len()-1)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ch, _, err := s.DetectRange(context.Background(), from, to)
	if err != nil {
		ws.writePassError(w, err)
		return
	}
	params := map[string]int{"from": from, "to": to}
	ws.follow(s, session.JobDetect, params, ch)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"session": s.Name(), "job": string(session.JobDetect)})
}

// handleTrack starts a tracking pass with the session's tuning. The
// start, end and append parameters override the frame range and mode.
func (ws *WebServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	cfg := s.TrackerConfig()
	var err error
	if cfg.StartFrame, err = httputil.QueryInt(r, "start", cfg.StartFrame); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.EndFrame, err = httputil.QueryInt(r, "end", cfg.EndFrame); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.Append, err = httputil.QueryBool(r, "append", cfg.Append); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ch, _, err := s.RunTrackingPass(context.Background(), cfg)
	if err != nil {
		ws.writePassError(w, err)
		return
	}
	ws.follow(s, session.JobTrack, cfg, ch)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"session": s.Name(), "job": string(session.JobTrack)})
}

func (ws *WebServer) writePassError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrPassRunning):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
	}
}

// follow drains a pass's progress channel. With a database attached the
// pass is recorded as a run and the session's layers are saved when it
// ends.
func (ws *WebServer) follow(s *session.Session, job session.Job, params interface{}, ch <-chan session.Progress) {
	var run *sqlite.Run
	if ws.db != nil {
		run = &sqlite.Run{Sequence: s.Name(), Job: string(job)}
		if b, err := json.Marshal(params); err == nil {
			run.ParamsJSON = b
		}
		if err := ws.db.InsertRun(run); err != nil {
			monitoring.Logf("monitor: record %s run for %s: %v", job, s.Name(), err)
			run = nil
		}
	}

	ws.wg.Add(1)
	go func() {
		defer ws.wg.Done()
		var last session.Progress
		for p := range ch {
			last = p
		}
		monitoring.Logf("monitor: %s pass on %s finished: %s", job, s.Name(), last.State)
		if run == nil {
			return
		}
		if err := Persist(ws.db, s); err != nil {
			monitoring.Logf("monitor: save %s: %v", s.Name(), err)
		}
		status, summary := string(last.State), interface{}(last)
		if job == session.JobDetect {
			if d, ok := s.LastDetectSummary(); ok {
				status, summary = string(d.State), d
			}
		} else if t, ok := s.LastTrackSummary(); ok {
			status, summary = string(t.State), t
		}
		if err := ws.db.FinishRun(run.RunID, status, summary); err != nil {
			monitoring.Logf("monitor: finish run %s: %v", run.RunID, err)
		}
	}()
}

// Persist saves both layers of s under its name.
func Persist(db *sqlite.DB, s *session.Session) error {
	if err := db.SaveDetections(s.Name(), s.Detections()); err != nil {
		return err
	}
	return db.SaveTracks(s.Name(), s.Tracks())
}

func (ws *WebServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	running := s.Running()
	s.Stop()
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"stopped": running})
}

func (ws *WebServer) handleUndo(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	var layer l5history.Layer
	switch name := r.URL.Query().Get("layer"); name {
	case "tracks", "":
		layer = l5history.LayerTracks
	case "detections":
		layer = l5history.LayerDetections
	default:
		httputil.WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown layer %q", name))
		return
	}
	restored, err := s.Undo(layer)
	if err != nil {
		ws.writePassError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"layer": layer.String(), "restored": restored})
}

// EditRequest is the body of POST /api/edit. Op selects the edit; the
// other fields are read as that edit needs them.
type EditRequest struct {
	Op       string  `json:"op"`
	A        int     `json:"a"`
	B        int     `json:"b"`
	ID       int     `json:"id"`
	Index    int     `json:"index"`
	Frame    int     `json:"frame"`
	N        int     `json:"n"`
	Ahead    int     `json:"ahead"`
	Backward bool    `json:"backward"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Radius   float64 `json:"radius"`
	Area     float64 `json:"area"`
	From     int     `json:"from"`
	To       int     `json:"to"`
}

// Edit builds the history edit named by Op.
func (req EditRequest) Edit() (l5history.Edit, error) {
	switch req.Op {
	case "join":
		return &l5history.JoinEdit{A: req.A, B: req.B}, nil
	case "split":
		return &l5history.SplitEdit{ID: req.ID, Index: req.Index}, nil
	case "delete_track":
		return &l5history.DeleteTrackEdit{ID: req.ID}, nil
	case "remove_point":
		return &l5history.RemovePointEdit{ID: req.ID, Index: req.Index}, nil
	case "add_point":
		return &l5history.AddPointEdit{ID: req.ID, Point: l4tracks.TrackPoint{X: req.X, Y: req.Y, Frame: req.Frame, Area: req.Area}}, nil
	case "extrapolate":
		return &l5history.ExtrapolateEdit{ID: req.ID, N: req.N, Ahead: req.Ahead, Backward: req.Backward}, nil
	case "add_detection":
		return &l5history.AddDetectionEdit{Frame: req.Frame, Detection: l3detections.Detection{X: req.X, Y: req.Y, Area: req.Area}}, nil
	case "remove_detection":
		return &l5history.RemoveDetectionEdit{Frame: req.Frame, Index: req.Index}, nil
	case "clean_cluster":
		return &l5history.CleanClusterEdit{X: req.X, Y: req.Y, Radius: req.Radius, FromFrame: req.From, ToFrame: req.To}, nil
	}
	return nil, fmt.Errorf("unknown edit %q", req.Op)
}

func (ws *WebServer) handleEdit(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, "invalid edit: "+err.Error())
		return
	}
	edit, err := req.Edit()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied, err := s.Apply(edit)
	if err != nil {
		ws.writePassError(w, err)
		return
	}
	monitoring.Logf("monitor: %s on %s applied=%t", edit.Name(), s.Name(), applied)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"edit":    edit.Name(),
		"layer":   edit.Layer().String(),
		"applied": applied,
		"result":  edit,
	})
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database attached")
		return
	}
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	runs, err := ws.db.Runs(s.Name())
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*sqlite.Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}
