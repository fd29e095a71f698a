package history

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordStart inserts a new running row and returns its ID.
func RecordStart(db *sql.DB, command string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := db.Exec(
		`INSERT INTO runs (command, outcome, started_at) VALUES (?, ?, ?)`,
		command, OutcomeRunning, now,
	)
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

// RecordFinish closes a run with its outcome, the backup it produced or
// consumed (may be empty), and a one-line detail.
func RecordFinish(db *sql.DB, runID int64, outcome, backupName, detail string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := db.Exec(
		`UPDATE runs SET outcome = ?, backup_name = ?, detail = ?, finished_at = ? WHERE id = ?`,
		outcome, backupName, detail, now, runID,
	)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking run update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %d not found", runID)
	}
	return nil
}

// AddEvent appends a stage-level event to a run.
func AddEvent(db *sql.DB, runID int64, stage, level, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(
		`INSERT INTO run_events (run_id, stage, level, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, stage, level, message, now,
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// ListRuns returns runs ordered most recent first, up to limit (0 for all).
func ListRuns(db *sql.DB, limit int) ([]Run, error) {
	query := `SELECT id, command, outcome, backup_name, detail, started_at, finished_at
	          FROM runs
	          ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var backup, detail, finished sql.NullString
		var started string
		if err := rows.Scan(&r.ID, &r.Command, &r.Outcome, &backup, &detail, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.BackupName = backup.String
		r.Detail = detail.String

		r.StartedAt, err = time.Parse(time.RFC3339, started)
		if err != nil {
			return nil, fmt.Errorf("parsing run started_at: %w", err)
		}
		if finished.Valid {
			r.FinishedAt, err = time.Parse(time.RFC3339, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parsing run finished_at: %w", err)
			}
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}
	return runs, nil
}

// GetEvents returns the events of one run in insertion order.
func GetEvents(db *sql.DB, runID int64) ([]Event, error) {
	rows, err := db.Query(
		`SELECT id, run_id, stage, level, message, created_at
		 FROM run_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Level, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, fmt.Errorf("parsing event created_at: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}
