package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scriptor/internal/engine"
)

// Store is the SQLite history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies pending
// migrations. busyTimeout bounds how long a write waits on a locked
// database.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for schema inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertRecording stores a finished recording session and returns its ID.
func (s *Store) InsertRecording(r *Recording) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO recordings (started_ns, stopped_ns, events)
		VALUES (?, ?, ?)`,
		r.Started.UnixNano(), r.Stopped.UnixNano(), r.Events,
	)
	if err != nil {
		return 0, fmt.Errorf("insert recording: %w", err)
	}
	return lastID(result)
}

// InsertRun stores a finished playback and returns its ID.
func (s *Store) InsertRun(r *Run) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO runs (started_ns, finished_ns, script, events, passes, injected, failures, infinite, loop_count, halted, empty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Started.UnixNano(), r.Finished.UnixNano(), r.Script, r.Events, r.Passes,
		r.Injected, r.Failures, r.Infinite, r.LoopCount, r.Halted, r.Empty,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return lastID(result)
}

// InsertScriptFile stores a script load or save and returns its ID.
func (s *Store) InsertScriptFile(f *ScriptFile) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO script_files (path, op, events, at_ns)
		VALUES (?, ?, ?, ?)`,
		f.Path, f.Op, f.Events, f.At.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert script file: %w", err)
	}
	return lastID(result)
}

func lastID(result sql.Result) (int64, error) {
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// Recordings returns up to limit sessions, newest first. limit <= 0 means
// no limit.
func (s *Store) Recordings(limit int) ([]Recording, error) {
	rows, err := s.db.Query(`
		SELECT id, started_ns, stopped_ns, events
		FROM recordings ORDER BY started_ns DESC, id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var r Recording
		var started, stopped int64
		if err := rows.Scan(&r.ID, &started, &stopped, &r.Events); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		r.Started = time.Unix(0, started)
		r.Stopped = time.Unix(0, stopped)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs returns up to limit runs, newest first. limit <= 0 means no limit.
func (s *Store) Runs(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_ns, finished_ns, script, events, passes, injected, failures, infinite, loop_count, halted, empty
		FROM runs ORDER BY started_ns DESC, id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Script, &r.Events, &r.Passes,
			&r.Injected, &r.Failures, &r.Infinite, &r.LoopCount, &r.Halted, &r.Empty); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = time.Unix(0, started)
		r.Finished = time.Unix(0, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScriptFiles returns up to limit script loads and saves, newest first.
func (s *Store) ScriptFiles(limit int) ([]ScriptFile, error) {
	rows, err := s.db.Query(`
		SELECT id, path, op, events, at_ns
		FROM script_files ORDER BY at_ns DESC, id DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query script files: %w", err)
	}
	defer rows.Close()

	var out []ScriptFile
	for rows.Next() {
		var f ScriptFile
		var at int64
		if err := rows.Scan(&f.ID, &f.Path, &f.Op, &f.Events, &at); err != nil {
			return nil, fmt.Errorf("scan script file: %w", err)
		}
		f.At = time.Unix(0, at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// GetStats returns totals over the whole history.
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM recordings),
			(SELECT COALESCE(SUM(events), 0) FROM recordings),
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM runs WHERE halted != 0),
			(SELECT COALESCE(SUM(injected), 0) FROM runs),
			(SELECT COALESCE(SUM(failures), 0) FROM runs),
			(SELECT COUNT(*) FROM script_files)`,
	).Scan(&st.Recordings, &st.RecordedEvents, &st.Runs, &st.HaltedRuns,
		&st.InjectedEvents, &st.FailedInjections, &st.ScriptFiles)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return &st, nil
}

// Prune deletes history older than before and returns the rows removed.
func (s *Store) Prune(before time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UnixNano()
	var total int64
	for _, q := range []string{
		"DELETE FROM recordings WHERE started_ns < ?",
		"DELETE FROM runs WHERE started_ns < ?",
		"DELETE FROM script_files WHERE at_ns < ?",
	} {
		res, err := tx.Exec(q, cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune history: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return total, nil
}

// RecordingFinished implements engine.Observer.
func (s *Store) RecordingFinished(sum engine.RecordingSummary) error {
	_, err := s.InsertRecording(&Recording{
		Started: sum.Started,
		Stopped: sum.Stopped,
		Events:  sum.Events,
	})
	return err
}

// RunFinished implements engine.Observer.
func (s *Store) RunFinished(r engine.RunReport) error {
	_, err := s.InsertRun(&Run{
		Started:   r.Started,
		Finished:  r.Finished,
		Script:    r.Script,
		Events:    r.Events,
		Passes:    r.Passes,
		Injected:  r.Injected,
		Failures:  r.Failures,
		Infinite:  r.Infinite,
		LoopCount: r.LoopCount,
		Halted:    r.Halted,
		Empty:     r.Empty,
	})
	return err
}

// ScriptFileChanged implements engine.ScriptObserver.
func (s *Store) ScriptFileChanged(f engine.ScriptFile) error {
	_, err := s.InsertScriptFile(&ScriptFile{
		Path:   f.Path,
		Op:     string(f.Op),
		Events: f.Events,
		At:     f.At,
	})
	return err
}

var (
	_ engine.Observer       = (*Store)(nil)
	_ engine.ScriptObserver = (*Store)(nil)
)
