// Package jobmanager is the control plane's registry of record for every
// Background Job, live or historical (spec.md §3 "Job Manager", §4.C).
// It owns two tables: jobs (one row per process invocation) and settings
// (one row per published setting), backed by the same single-writer WAL
// SQLite pattern the teacher uses in internal/infra/sqlite/db.go.
package jobmanager

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO

	"github.com/pioreactor/pio/internal/domain"
	"github.com/pioreactor/pio/internal/metrics"
)

// Manager wraps the jobs/settings tables.
type Manager struct {
	db *sql.DB
}

// Open creates or opens <dir>/jobs.db in WAL mode and runs migrations.
func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	dsn := filepath.Join(dir, "jobs.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job manager: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping job manager: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	m := &Manager{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			unit            TEXT NOT NULL,
			experiment      TEXT NOT NULL,
			job_name        TEXT NOT NULL,
			job_source      TEXT NOT NULL,
			pid             INTEGER NOT NULL,
			started_at      INTEGER NOT NULL,
			ended_at        INTEGER,
			is_long_running BOOLEAN NOT NULL DEFAULT 0,
			is_running      BOOLEAN NOT NULL DEFAULT 1,
			leader          BOOLEAN NOT NULL DEFAULT 0,
			state           TEXT NOT NULL DEFAULT 'init'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_running ON jobs(unit, experiment, job_name, is_running)`,
		`CREATE TABLE IF NOT EXISTS settings (
			job_id     INTEGER NOT NULL REFERENCES jobs(id),
			setting    TEXT NOT NULL,
			value      TEXT NOT NULL,
			settable   BOOLEAN NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (job_id, setting)
		)`,
	}
	for _, mig := range migrations {
		if _, err := m.db.Exec(mig); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, mig)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (m *Manager) Close() error { return m.db.Close() }

// Register inserts a new job row. It enforces spec.md §3's duplicate-job
// invariant: a (unit, experiment, job_name) triple may have at most one
// is_running=1 row at a time.
func (m *Manager) Register(j domain.Job) (int64, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE unit = ? AND experiment = ? AND job_name = ? AND is_running = 1`,
		j.Unit, j.Experiment, j.JobName,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, domain.ErrDuplicateJob
	}

	res, err := tx.Exec(
		`INSERT INTO jobs (unit, experiment, job_name, job_source, pid, started_at, is_long_running, is_running, leader, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		j.Unit, j.Experiment, j.JobName, string(j.JobSource), j.PID, j.StartedAt.Unix(),
		j.IsLongRunning, j.Leader, string(domain.JobInit),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	metrics.JobsRunning.WithLabelValues(j.JobName).Inc()
	return id, nil
}

// SetNotRunning marks a job row ended: is_running=0, ended_at=now.
func (m *Manager) SetNotRunning(jobID int64) error {
	var name string
	if err := m.db.QueryRow(`SELECT job_name FROM jobs WHERE id = ?`, jobID).Scan(&name); err != nil {
		return err
	}
	res, err := m.db.Exec(
		`UPDATE jobs SET is_running = 0, ended_at = ? WHERE id = ? AND is_running = 1`,
		time.Now().Unix(), jobID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrJobNotFound
	}
	metrics.JobsRunning.WithLabelValues(name).Dec()
	return nil
}

// SetState updates the lifecycle state column, validating the transition
// against domain.CanTransition before writing.
func (m *Manager) SetState(jobID int64, to domain.JobState) error {
	var from domain.JobState
	var name string
	if err := m.db.QueryRow(`SELECT state, job_name FROM jobs WHERE id = ?`, jobID).Scan(&from, &name); err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrJobNotFound
		}
		return err
	}
	if from != to && !domain.CanTransition(from, to) {
		return fmt.Errorf("illegal job state transition %s -> %s", from, to)
	}
	_, err := m.db.Exec(`UPDATE jobs SET state = ? WHERE id = ?`, string(to), jobID)
	if err == nil {
		metrics.JobStateTransitions.WithLabelValues(name, string(to)).Inc()
	}
	return err
}

// UpsertSetting records the latest value of a published setting.
func (m *Manager) UpsertSetting(jobID int64, name, value string, settable bool) error {
	now := time.Now().Unix()
	_, err := m.db.Exec(
		`INSERT INTO settings (job_id, setting, value, settable, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, setting) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		jobID, name, value, settable, now, now,
	)
	return err
}

// ListJobs returns jobs matching filter. OnlyRunning restricts to
// is_running=1 rows; otherwise full history is returned, newest first.
func (m *Manager) ListJobs(f domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT id, unit, experiment, job_name, job_source, pid, started_at, ended_at, is_long_running, is_running, leader, state FROM jobs WHERE 1=1`
	var args []any
	if f.Unit != "" {
		query += ` AND unit = ?`
		args = append(args, f.Unit)
	}
	if f.Experiment != "" {
		query += ` AND experiment = ?`
		args = append(args, f.Experiment)
	}
	if f.JobName != "" {
		query += ` AND job_name = ?`
		args = append(args, f.JobName)
	}
	if f.JobSource != "" {
		query += ` AND job_source = ?`
		args = append(args, string(f.JobSource))
	}
	if f.OnlyRunning {
		query += ` AND is_running = 1`
	}
	query += ` ORDER BY started_at DESC`

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// KillJobs marks every running job matching filter as not-running and
// returns their ids, for the caller to actually signal the processes.
func (m *Manager) KillJobs(f domain.JobFilter) ([]int64, error) {
	f.OnlyRunning = true
	jobs, err := m.ListJobs(f)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, j := range jobs {
		if err := m.SetNotRunning(j.ID); err != nil && err != domain.ErrJobNotFound {
			return ids, err
		}
		ids = append(ids, j.ID)
	}
	return ids, nil
}

// SettingsForJob returns every published setting currently recorded for
// jobID.
func (m *Manager) SettingsForJob(jobID int64) ([]domain.PublishedSetting, error) {
	rows, err := m.db.Query(
		`SELECT job_id, setting, value, settable, created_at, updated_at FROM settings WHERE job_id = ? ORDER BY setting`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PublishedSetting
	for rows.Next() {
		var s domain.PublishedSetting
		var created, updated int64
		if err := rows.Scan(&s.JobID, &s.Name, &s.Value, &s.Settable, &created, &updated); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(created, 0)
		s.UpdatedAt = time.Unix(updated, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*domain.Job, error) {
	var j domain.Job
	var jobSource, state string
	var startedAt int64
	var endedAt sql.NullInt64

	if err := s.Scan(&j.ID, &j.Unit, &j.Experiment, &j.JobName, &jobSource, &j.PID,
		&startedAt, &endedAt, &j.IsLongRunning, &j.IsRunning, &j.Leader, &state); err != nil {
		return nil, err
	}
	j.JobSource = domain.JobSource(jobSource)
	j.State = domain.JobState(state)
	j.StartedAt = time.Unix(startedAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		j.EndedAt = &t
	}
	return &j, nil
}
