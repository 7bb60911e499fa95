package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

// Run is the record of one detection or tracking pass.
type Run struct {
	RunID       string          `json:"run_id"`
	Sequence    string          `json:"sequence"`
	Job         string          `json:"job"`
	Status      string          `json:"status"`
	ParamsJSON  json.RawMessage `json:"params_json,omitempty"`
	SummaryJSON json.RawMessage `json:"summary_json,omitempty"`
	StartedAt   int64           `json:"started_at"`
	FinishedAt  int64           `json:"finished_at,omitempty"`
}

// InsertRun persists a new run. If RunID is empty, a UUID is generated.
func (db *DB) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = "running"
	}

	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}
	return retryOnBusy(func() error {
		_, err := db.Exec(`
			INSERT INTO runs (run_id, sequence, job, status, params_json, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Sequence, run.Job, run.Status, params, run.StartedAt)
		return err
	})
}

// FinishRun records the final status of a run and its summary, encoded
// as JSON.
func (db *DB) FinishRun(runID, status string, summary interface{}) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	return retryOnBusy(func() error {
		res, err := db.Exec(`
			UPDATE runs SET status = ?, summary_json = ?, finished_at = ?
			WHERE run_id = ?`,
			status, string(b), time.Now().UnixNano(), runID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("finish %s: %w", runID, ErrRunNotFound)
		}
		return nil
	})
}

// Runs returns the runs of seq, most recent first.
func (db *DB) Runs(seq string) ([]*Run, error) {
	rows, err := db.Query(`
		SELECT run_id, sequence, job, status, params_json, summary_json, started_at, finished_at
		FROM runs
		WHERE sequence = ?
		ORDER BY started_at DESC`, seq)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var params, summary sql.NullString
		var finished sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.Sequence, &r.Job, &r.Status,
			&params, &summary, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if params.Valid {
			r.ParamsJSON = json.RawMessage(params.String)
		}
		if summary.Valid {
			r.SummaryJSON = json.RawMessage(summary.String)
		}
		r.FinishedAt = finished.Int64
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
