package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/mosquito.tracker/internal/httputil"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l4tracks"
	"github.com/banshee-data/mosquito.tracker/internal/security"
)

// tracksChart builds a scatter chart with one series per track, in
// image coordinates (y grows downwards).
func tracksChart(title string, tracks []l4tracks.Track) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Mosquito tracks", Theme: "light", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d tracks", len(tracks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(len(tracks) <= 20)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (px)", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (px)", Type: "value", Inverse: opts.Bool(true)}),
	)

	for _, tr := range tracks {
		pts := make([]opts.ScatterData, 0, len(tr.Points))
		for _, p := range tr.Points {
			pts = append(pts, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Frame}})
		}
		scatter.AddSeries(fmt.Sprintf("track %d", tr.ID), pts,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}
	return scatter
}

// handleTracksChart renders the session's trajectories as an interactive
// chart.
func (ws *WebServer) handleTracksChart(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	chart := tracksChart(s.Name(), s.Tracks().Tracks())

	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		http.Error(w, "failed to render chart", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleTracksPNG renders the session's trajectories as a static PNG.
func (ws *WebServer) handleTracksPNG(w http.ResponseWriter, r *http.Request) {
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := ws.plotter.WritePNG(&buf, s.Name(), s.Tracks()); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// handleExportPlot saves the session's trajectory plot on the server. The
// path must lie under the temp or working directory; it defaults to
// <session>-tracks.png in the temp directory.
func (ws *WebServer) handleExportPlot(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	s, ok := ws.lookup(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = filepath.Join(os.TempDir(), security.SanitizeFilename(s.Name())+"-tracks.png")
	}
	if err := security.ValidateExportPath(path); err != nil {
		httputil.WriteJSONError(w, http.StatusForbidden, err.Error())
		return
	}
	if err := ws.plotter.Save(s.Tracks(), path); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"path": path})
}
