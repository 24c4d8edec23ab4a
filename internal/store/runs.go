package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lox/taxiemissions/internal/models"
)

// PipelineRun is one CLI invocation.
type PipelineRun struct {
	ID           string
	Command      string // "ingest", "run", ...
	Year         int
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Success      bool
	ErrorMessage sql.NullString
}

// StageRun is one stage executed for one fleet within a pipeline run.
type StageRun struct {
	ID           int64
	RunID        string
	Stage        string // "ingest", "clean", "derive", "report"
	Fleet        string
	Table        string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	RowsIn       sql.NullInt64
	RowsOut      sql.NullInt64
	Success      bool
	ErrorKind    sql.NullString // "configuration", "missing input", ...
	ErrorMessage sql.NullString
}

// Duration is zero until the run is completed.
func (r StageRun) Duration() time.Duration {
	if !r.FinishedAt.Valid {
		return 0
	}
	return r.FinishedAt.Time.Sub(r.StartedAt)
}

// StartPipelineRun creates a new pipeline run record with a fresh identifier.
func (s *Store) StartPipelineRun(command string, year int) (*PipelineRun, error) {
	run := &PipelineRun{
		ID:        uuid.NewString(),
		Command:   command,
		Year:      year,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (id, command, year, started_at, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.ID, run.Command, run.Year, run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompletePipelineRun marks the run finished. A non-nil runErr marks it failed.
func (s *Store) CompletePipelineRun(run *PipelineRun, runErr error) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.Success = runErr == nil
	if runErr != nil {
		run.ErrorMessage = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		UPDATE pipeline_runs SET finished_at = ?, success = ?, error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Success, run.ErrorMessage, run.ID)
	return err
}

// StartStageRun creates a stage run record and returns it.
func (s *Store) StartStageRun(runID, stage, fleet, table string) (*StageRun, error) {
	run := &StageRun{
		RunID:     runID,
		Stage:     stage,
		Fleet:     fleet,
		Table:     table,
		StartedAt: time.Now().UTC(),
	}
	result, err := s.db.Exec(`
		INSERT INTO stage_runs (run_id, stage, fleet, table_name, started_at, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.RunID, run.Stage, run.Fleet, run.Table, run.StartedAt)
	if err != nil {
		return nil, err
	}
	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteStageRun updates the stage run with its results.
func (s *Store) CompleteStageRun(run *StageRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE stage_runs SET
			finished_at = ?,
			rows_in = ?,
			rows_out = ?,
			success = ?,
			error_kind = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RowsIn, run.RowsOut, run.Success, run.ErrorKind, run.ErrorMessage, run.ID)
	return err
}

// RecordSourceFile stores the fingerprint of a file consumed by ingestion.
func (s *Store) RecordSourceFile(runID, fleet string, f models.SourceFile) error {
	_, err := s.db.Exec(`
		INSERT INTO source_files (run_id, fleet, path, size_bytes, checksum)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			checksum = excluded.checksum
	`, runID, fleet, f.Path, f.SizeBytes, f.Checksum)
	return err
}

// SourceFiles returns the files recorded for a run, ordered by path.
func (s *Store) SourceFiles(runID string) ([]models.SourceFile, error) {
	rows, err := s.db.Query(`
		SELECT path, size_bytes, checksum FROM source_files
		WHERE run_id = ?
		ORDER BY path
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.SourceFile
	for rows.Next() {
		var f models.SourceFile
		if err := rows.Scan(&f.Path, &f.SizeBytes, &f.Checksum); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// LastChecksum returns the most recently recorded checksum for path, or ""
// when the file has never been ingested.
func (s *Store) LastChecksum(path string) (string, error) {
	var checksum string
	err := s.db.QueryRow(`
		SELECT f.checksum FROM source_files f
		JOIN pipeline_runs r ON r.id = f.run_id
		WHERE f.path = ?
		ORDER BY r.started_at DESC
		LIMIT 1
	`, path).Scan(&checksum)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return checksum, err
}

// RecentStageRuns returns the latest stage runs, newest first.
func (s *Store) RecentStageRuns(limit int) ([]StageRun, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, stage, fleet, table_name, started_at, finished_at,
			rows_in, rows_out, success, error_kind, error_message
		FROM stage_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		var r StageRun
		if err := rows.Scan(&r.ID, &r.RunID, &r.Stage, &r.Fleet, &r.Table, &r.StartedAt, &r.FinishedAt,
			&r.RowsIn, &r.RowsOut, &r.Success, &r.ErrorKind, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StageHealthSummary aggregates stage outcomes per stage and fleet.
type StageHealthSummary struct {
	Stage       string
	Fleet       string
	TotalRuns   int
	SuccessRuns int
	FailedRuns  int
	LastRowsOut sql.NullInt64
}

// GetStageHealth summarises stage runs started in the last N days.
func (s *Store) GetStageHealth(days int) ([]StageHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			stage,
			fleet,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			(SELECT rows_out FROM stage_runs s2
				WHERE s2.stage = s1.stage AND s2.fleet = s1.fleet AND s2.success
				ORDER BY s2.id DESC LIMIT 1) as last_rows_out
		FROM stage_runs s1
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY stage, fleet
		ORDER BY stage, fleet
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StageHealthSummary
	for rows.Next() {
		var h StageHealthSummary
		if err := rows.Scan(&h.Stage, &h.Fleet, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns, &h.LastRowsOut); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}
