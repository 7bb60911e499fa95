// Command mozzie detects and tracks mosquitoes in a directory of video
// frames, saves the results to SQLite and optionally serves the monitor.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/banshee-data/mosquito.tracker/internal/config"
	"github.com/banshee-data/mosquito.tracker/internal/monitoring"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l1frames"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/monitor"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/session"
	"github.com/banshee-data/mosquito.tracker/internal/mosquito/storage/sqlite"
	"github.com/banshee-data/mosquito.tracker/internal/version"
)

var (
	framesDir  = flag.String("frames", "", "Directory of PNG/JPEG frames, in file name order")
	configPath = flag.String("config", "", "Tuning config JSON (default: built-in defaults)")
	dbFile     = flag.String("db", "", "SQLite database to save results to (empty: no persistence)")
	sequence   = flag.String("sequence", "", "Sequence name (default: base name of -frames)")
	fps        = flag.Float64("fps", 25, "Frame rate used to derive frame timestamps")
	appendMode = flag.Bool("append", false, "Extend tracks loaded from -db instead of replacing them")
	startFrame = flag.Int("start", -1, "First frame to track (-1: first detected frame)")
	endFrame   = flag.Int("end", -1, "Last frame to track (-1: last detected frame)")
	loadOnly   = flag.Bool("load", false, "Load detections from -db instead of segmenting frames")
	plotPath   = flag.String("plot", "", "Write a trajectory plot to this file (.png, .svg or .pdf)")
	listen     = flag.String("listen", "", "Serve the monitor on this address after the passes (e.g. :8082)")
	logFile    = flag.String("log-file", "", "Write logs to this size-rotated file instead of stderr")
	watch      = flag.Bool("watch", false, "Reload -config on change while serving")
	workers    = flag.Int("workers", 0, "Segmentation workers (0: one per CPU)")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("mozzie", version.String())
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}
	if *framesDir == "" {
		log.Fatal("-frames is required")
	}
	if *logFile != "" {
		logf, closeLog := monitoring.NewRotatingLogf(*logFile)
		monitoring.SetLogger(logf)
		defer closeLog()
	}

	monitoring.Logf("mozzie %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("mozzie: %v", err)
	}
}

func run(ctx context.Context) error {
	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*configPath); err != nil {
			return err
		}
	}

	src, err := l1frames.NewDirSource(*framesDir, *fps)
	if err != nil {
		return err
	}
	name := *sequence
	if name == "" {
		name = filepath.Base(filepath.Clean(*framesDir))
	}
	sess := session.New(name, src, tuning)
	if *workers > 0 {
		sess.SetWorkers(*workers)
	}
	monitoring.Logf("Loaded sequence %s: %d frames from %s", name, src.Len(), *framesDir)

	var db *sqlite.DB
	if *dbFile != "" {
		if db, err = sqlite.Open(*dbFile); err != nil {
			return err
		}
		defer db.Close()
		if err := restore(db, sess); err != nil {
			return err
		}
	} else if *loadOnly || *appendMode {
		return errors.New("-load and -append need -db")
	}

	if !*loadOnly {
		ch, _, err := sess.DetectRange(ctx, 0, src.Len()-1)
		if err != nil {
			return err
		}
		if err := follow(db, sess, session.JobDetect, map[string]int{"from": 0, "to": src.Len() - 1}, ch); err != nil {
			return err
		}
	}

	cfg := sess.TrackerConfig()
	cfg.Append = cfg.Append || *appendMode
	cfg.StartFrame = *startFrame
	cfg.EndFrame = *endFrame
	ch, _, err := sess.RunTrackingPass(ctx, cfg)
	if err != nil {
		return err
	}
	if err := follow(db, sess, session.JobTrack, cfg, ch); err != nil {
		return err
	}
	if sum, ok := sess.LastTrackSummary(); ok {
		m := sum.Metrics
		monitoring.Logf("Tracking %s: %d tracks, %d links, %d created, %d dropped, %d cleaned",
			sum.State, sum.Tracks, m.Links, m.Created, m.Dropped, m.Cleaned)
	}

	if db != nil {
		if err := monitor.Persist(db, sess); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		monitoring.Logf("Saved %s to %s", name, *dbFile)
	}
	if *plotPath != "" {
		if err := monitor.NewPlotter().Save(sess.Tracks(), *plotPath); err != nil {
			return err
		}
	}
	if *listen == "" || ctx.Err() != nil {
		return nil
	}
	return serve(ctx, db, sess)
}

// restore loads what db already holds for the session's sequence. Stored
// detections are only needed with -load; stored tracks only with -append.
func restore(db *sqlite.DB, sess *session.Session) error {
	if *loadOnly {
		dets, err := db.LoadDetections(sess.Name())
		if err != nil {
			return err
		}
		sess.Detections().Replace(dets)
		monitoring.Logf("Loaded %d detections in %d frames", dets.Count(), dets.Len())
	}
	if *appendMode {
		reg, err := db.LoadTracks(sess.Name())
		if err != nil {
			return err
		}
		sess.Tracks().Replace(reg)
		monitoring.Logf("Loaded %d tracks", reg.NumOfTracks())
	}
	return nil
}

// follow logs a pass's progress until it ends and, with a database,
// records it as a run.
func follow(db *sqlite.DB, sess *session.Session, job session.Job, params interface{}, ch <-chan session.Progress) error {
	var run *sqlite.Run
	if db != nil {
		run = &sqlite.Run{Sequence: sess.Name(), Job: string(job)}
		if b, err := json.Marshal(params); err == nil {
			run.ParamsJSON = b
		}
		if err := db.InsertRun(run); err != nil {
			return err
		}
	}

	decile := -1
	var last session.Progress
	for p := range ch {
		last = p
		if d := int(p.Fraction() * 10); d > decile {
			decile = d
			monitoring.Logf("%s: %3.0f%% (frame %d, %d detections, %d tracks)",
				job, p.Fraction()*100, p.Frame, p.Detections, p.Tracks)
		}
	}

	status, summary := string(last.State), interface{}(last)
	if job == session.JobDetect {
		if d, ok := sess.LastDetectSummary(); ok {
			status, summary = string(d.State), d
			monitoring.Logf("Detection %s: %d frames, %d skipped, %d detections", d.State, d.Frames, d.Skipped, d.Detections)
		}
	} else if t, ok := sess.LastTrackSummary(); ok {
		status, summary = string(t.State), t
	}
	if run != nil {
		if err := db.FinishRun(run.RunID, status, summary); err != nil {
			return err
		}
	}
	if last.Error != "" {
		return fmt.Errorf("%s pass failed: %s", job, last.Error)
	}
	return nil
}

func serve(ctx context.Context, db *sqlite.DB, sess *session.Session) error {
	project := session.NewProject()
	if err := project.Add(sess); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if *watch && *configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, *configPath, func(c *config.TuningConfig) {
				if err := sess.ApplyTuning(c); err != nil {
					monitoring.Logf("Ignoring tuning change: %v", err)
					return
				}
				monitoring.Logf("Applied tuning from %s", *configPath)
			})
			if err != nil {
				monitoring.Logf("config watcher stopped: %v", err)
			}
		}()
	}

	ws := monitor.NewWebServer(monitor.WebServerConfig{Address: *listen, Project: project, DB: db})
	err := ws.Start(ctx)
	sess.Stop()
	sess.Wait()
	wg.Wait()
	return err
}
