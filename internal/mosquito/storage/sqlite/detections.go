package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l3detections"
)

// touchSequence records that seq exists, keeping its next track id.
func touchSequence(tx *sql.Tx, seq string) error {
	_, err := tx.Exec(`
		INSERT INTO sequences (sequence, updated_at) VALUES (?, ?)
		ON CONFLICT (sequence) DO UPDATE SET updated_at = excluded.updated_at`,
		seq, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("touch sequence %s: %w", seq, err)
	}
	return nil
}

// SaveDetections replaces the stored detections of seq with the contents
// of store.
func (db *DB) SaveDetections(seq string, store *l3detections.Store) error {
	frames := store.All()
	return db.inTx(func(tx *sql.Tx) error {
		if err := touchSequence(tx, seq); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM frame_detections WHERE sequence = ?`, seq); err != nil {
			return fmt.Errorf("clear detections: %w", err)
		}

		frameStmt, err := tx.Prepare(`
			INSERT INTO frame_detections (
				sequence, frame, trigger_num, max_diff, threshold,
				min_area, max_area, min_threshold, which_prev
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare frame insert: %w", err)
		}
		defer frameStmt.Close()

		detStmt, err := tx.Prepare(`
			INSERT INTO detections (sequence, frame, idx, x, y, intensity, area, contour)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare detection insert: %w", err)
		}
		defer detStmt.Close()

		for _, fd := range frames {
			var trigger interface{}
			if fd.HasTrigger {
				trigger = fd.Trigger
			}
			info := fd.Info
			if _, err := frameStmt.Exec(seq, fd.Frame, trigger, info.MaxDiff, info.Threshold,
				info.MinArea, info.MaxArea, info.MinThreshold, info.WhichPrev); err != nil {
				return fmt.Errorf("insert frame %d: %w", fd.Frame, err)
			}
			for i, d := range fd.Detections {
				var contour interface{}
				if d.Contour != nil {
					b, err := json.Marshal(d.Contour)
					if err != nil {
						return fmt.Errorf("encode contour: %w", err)
					}
					contour = string(b)
				}
				if _, err := detStmt.Exec(seq, fd.Frame, i, d.X, d.Y, d.Intensity, d.Area, contour); err != nil {
					return fmt.Errorf("insert detection %d of frame %d: %w", i, fd.Frame, err)
				}
			}
		}
		return nil
	})
}

// LoadDetections reads the stored detections of seq into a new store.
// An unknown sequence yields an empty store.
func (db *DB) LoadDetections(seq string) (*l3detections.Store, error) {
	rows, err := db.Query(`
		SELECT frame, trigger_num, max_diff, threshold, min_area, max_area, min_threshold, which_prev
		FROM frame_detections
		WHERE sequence = ?
		ORDER BY frame`, seq)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	frames := make(map[int]*l3detections.FrameDetections)
	var order []int
	for rows.Next() {
		var fd l3detections.FrameDetections
		var trigger sql.NullInt64
		if err := rows.Scan(&fd.Frame, &trigger, &fd.Info.MaxDiff, &fd.Info.Threshold,
			&fd.Info.MinArea, &fd.Info.MaxArea, &fd.Info.MinThreshold, &fd.Info.WhichPrev); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		if trigger.Valid {
			fd.Trigger, fd.HasTrigger = int(trigger.Int64), true
		}
		frames[fd.Frame] = &fd
		order = append(order, fd.Frame)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Query(`
		SELECT frame, x, y, intensity, area, contour
		FROM detections
		WHERE sequence = ?
		ORDER BY frame, idx`, seq)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var frame int
		var d l3detections.Detection
		var contour sql.NullString
		if err := rows.Scan(&frame, &d.X, &d.Y, &d.Intensity, &d.Area, &contour); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		if contour.Valid {
			var pts []image.Point
			if err := json.Unmarshal([]byte(contour.String), &pts); err != nil {
				return nil, fmt.Errorf("decode contour of frame %d: %w", frame, err)
			}
			d.Contour = pts
		}
		fd, ok := frames[frame]
		if !ok {
			return nil, fmt.Errorf("detection in unknown frame %d", frame)
		}
		fd.Detections = append(fd.Detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	store := l3detections.NewStore()
	for _, f := range order {
		store.SetFrame(*frames[f])
	}
	return store, nil
}
