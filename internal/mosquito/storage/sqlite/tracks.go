package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/mosquito.tracker/internal/mosquito/l4tracks"
)

// SaveTracks replaces the stored tracks of seq with the contents of reg,
// including the registry's next id so that reloaded sequences never
// reuse a retired id.
func (db *DB) SaveTracks(seq string, reg *l4tracks.Registry) error {
	tracks := reg.Tracks()
	nextID := reg.NextID()
	return db.inTx(func(tx *sql.Tx) error {
		if err := touchSequence(tx, seq); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE sequences SET next_track_id = ? WHERE sequence = ?`, nextID, seq); err != nil {
			return fmt.Errorf("update next track id: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM tracks WHERE sequence = ?`, seq); err != nil {
			return fmt.Errorf("clear tracks: %w", err)
		}

		trackStmt, err := tx.Prepare(`INSERT INTO tracks (sequence, track_id) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare track insert: %w", err)
		}
		defer trackStmt.Close()

		pointStmt, err := tx.Prepare(`
			INSERT INTO track_points (
				sequence, track_id, frame, x, y, sec, msec, usec,
				intensity, area, max_diff, min_area, max_area,
				threshold, min_threshold, which_prev
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare point insert: %w", err)
		}
		defer pointStmt.Close()

		for _, tr := range tracks {
			if _, err := trackStmt.Exec(seq, tr.ID); err != nil {
				return fmt.Errorf("insert track %d: %w", tr.ID, err)
			}
			for _, p := range tr.Points {
				if _, err := pointStmt.Exec(seq, tr.ID, p.Frame, p.X, p.Y, p.Sec, p.Msec, p.Usec,
					p.Intensity, p.Area, p.MaxDiff, p.MinArea, p.MaxArea,
					p.Threshold, p.MinThreshold, p.WhichPrev); err != nil {
					return fmt.Errorf("insert point %d of track %d: %w", p.Frame, tr.ID, err)
				}
			}
		}
		return nil
	})
}

// LoadTracks reads the stored tracks of seq into a new registry. An
// unknown sequence yields an empty registry.
func (db *DB) LoadTracks(seq string) (*l4tracks.Registry, error) {
	nextID := 0
	err := db.QueryRow(`SELECT next_track_id FROM sequences WHERE sequence = ?`, seq).Scan(&nextID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query sequence %s: %w", seq, err)
	}

	rows, err := db.Query(`SELECT track_id FROM tracks WHERE sequence = ? ORDER BY track_id`, seq)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	byID := make(map[int]*l4tracks.Track)
	var order []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan track: %w", err)
		}
		byID[id] = &l4tracks.Track{ID: id}
		order = append(order, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Query(`
		SELECT track_id, frame, x, y, sec, msec, usec, intensity, area,
		       max_diff, min_area, max_area, threshold, min_threshold, which_prev
		FROM track_points
		WHERE sequence = ?
		ORDER BY track_id, frame`, seq)
	if err != nil {
		return nil, fmt.Errorf("query track points: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		var p l4tracks.TrackPoint
		if err := rows.Scan(&id, &p.Frame, &p.X, &p.Y, &p.Sec, &p.Msec, &p.Usec,
			&p.Intensity, &p.Area, &p.MaxDiff, &p.MinArea, &p.MaxArea,
			&p.Threshold, &p.MinThreshold, &p.WhichPrev); err != nil {
			return nil, fmt.Errorf("scan track point: %w", err)
		}
		tr, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("point of unknown track %d", id)
		}
		tr.Points = append(tr.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tracks := make([]l4tracks.Track, 0, len(order))
	for _, id := range order {
		tracks = append(tracks, *byID[id])
	}
	reg := l4tracks.NewRegistry()
	reg.Load(tracks, nextID)
	return reg, nil
}
