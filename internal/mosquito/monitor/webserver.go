package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/mosquito.tracker/internal/httputil"
	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/session"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/storage/sqlite"
	"github.com/banshee-data/mosquito.tracker/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

// WebServer serves the session API and the trajectory debug views.
type WebServer struct {
	address string
	project *session.Project
	db      *sqlite.DB
	plotter *Plotter
	server  *http.Server
	started time.Time

	// Passes started over HTTP, followed until they finish.
	wg sync.WaitGroup
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Project *session.Project
	// DB is optional. When set, passes started over HTTP are recorded as
	// runs and their results saved, and the admin routes are mounted.
	DB *sqlite.DB
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		project: config.Project,
		db:      config.DB,
		plotter: NewPlotter(),
		started: time.Now(),
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Handler returns the server's route multiplexer.
func (ws *WebServer) Handler() http.Handler { return ws.server.Handler }

// Start begins the HTTP server in a goroutine and handles graceful shutdown.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting monitor HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("monitor server: %w", err)
	case <-ctx.Done():
	}

	monitoring.Logf("Shutting down monitor HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("Monitor server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("Monitor server force close error: %v", err)
		}
	}
	ws.wg.Wait()
	monitoring.Logf("Monitor HTTP server stopped")
	return nil
}

// Close shuts the server down immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/health", ws.handleHealth)

	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/api/sessions/select", ws.handleSelect)
	mux.HandleFunc("/api/progress", ws.handleProgress)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/detections", ws.handleDetections)
	mux.HandleFunc("/api/detect", ws.handleDetect)
	mux.HandleFunc("/api/track", ws.handleTrack)
	mux.HandleFunc("/api/stop", ws.handleStop)
	mux.HandleFunc("/api/edit", ws.handleEdit)
	mux.HandleFunc("/api/undo", ws.handleUndo)
	mux.HandleFunc("/api/runs", ws.handleRuns)
	mux.HandleFunc("/api/plot", ws.handleExportPlot)

	mux.HandleFunc("/debug/tracks", ws.handleTracksChart)
	mux.HandleFunc("/debug/tracks.png", ws.handleTracksPNG)

	if ws.db != nil {
		if err := ws.db.AttachAdminRoutes(mux); err != nil {
			monitoring.Logf("monitor: admin routes unavailable: %v", err)
		}
	}
	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "mosquito",
		"version":   version.String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus renders the overview page listing every session.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	tmpl, err := template.ParseFS(statusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	data := struct {
		HTTPAddress string
		Uptime      string
		Sessions    []SessionInfo
		Persistent  bool
	}{
		HTTPAddress: ws.address,
		Uptime:      time.Since(ws.started).Round(time.Second).String(),
		Sessions:    ws.sessionInfos(),
		Persistent:  ws.db != nil,
	}

	w.Header().Set("Content-Type", "text/html")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}
