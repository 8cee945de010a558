package store

import (
	"path/filepath"
	"testing"
	"time"

	"scriptor/internal/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "history.db")
	s, err := Open(dbPath, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestMigrations(t *testing.T) {
	s := openTestStore(t)

	if err := ValidateSchema(s.DB()); err != nil {
		t.Fatalf("ValidateSchema failed: %v", err)
	}

	status, err := GetMigrationStatus(s.DB())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion {
		t.Errorf("expected version %d, got %d", status.LatestVersion, status.CurrentVersion)
	}
	if len(status.Pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(status.Pending))
	}

	// a second pass is a no-op
	if err := MigrateDB(s.DB()); err != nil {
		t.Fatalf("re-running migrations failed: %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	now := time.Now()
	if _, err := s.InsertRecording(&Recording{Started: now, Stopped: now.Add(time.Second), Events: 3}); err != nil {
		t.Fatalf("InsertRecording failed: %v", err)
	}
	s.Close()

	s, err = Open(path, time.Second)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	recs, err := s.Recordings(0)
	if err != nil {
		t.Fatalf("Recordings failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Events != 3 {
		t.Fatalf("unexpected recordings after reopen: %+v", recs)
	}
}

func TestRecordingsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		start := base.Add(time.Duration(i) * time.Minute)
		if _, err := s.InsertRecording(&Recording{Started: start, Stopped: start.Add(10 * time.Second), Events: i}); err != nil {
			t.Fatalf("InsertRecording %d failed: %v", i, err)
		}
	}

	recs, err := s.Recordings(3)
	if err != nil {
		t.Fatalf("Recordings failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 recordings, got %d", len(recs))
	}
	if recs[0].Events != 4 || recs[2].Events != 2 {
		t.Errorf("unexpected order: %+v", recs)
	}
	if recs[0].Duration() != 10*time.Second {
		t.Errorf("expected 10s duration, got %v", recs[0].Duration())
	}
	if !recs[0].Started.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("timestamp mismatch: %v", recs[0].Started)
	}
}

func TestRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	start := time.Unix(1_700_000_000, 123)
	want := Run{
		Started:   start,
		Finished:  start.Add(2 * time.Second),
		Script:    "greeting.bin",
		Events:    12,
		Passes:    2,
		Injected:  26,
		Failures:  1,
		Infinite:  true,
		LoopCount: 1,
		Halted:    true,
	}

	id, err := s.InsertRun(&want)
	if err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}

	runs, err := s.Runs(0)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.ID != id {
		t.Errorf("ID mismatch: %d != %d", got.ID, id)
	}
	if !got.Started.Equal(want.Started) || !got.Finished.Equal(want.Finished) {
		t.Errorf("time mismatch: %v %v", got.Started, got.Finished)
	}
	got.ID, got.Started, got.Finished = 0, want.Started, want.Finished
	if got != want {
		t.Errorf("run mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestScriptFileOpConstraint(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertScriptFile(&ScriptFile{Path: "a.bin", Op: "delete", At: time.Now()}); err == nil {
		t.Error("expected CHECK constraint failure for unknown op")
	}
}

func TestObserver(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	if err := s.RecordingFinished(engine.RecordingSummary{Started: now, Stopped: now.Add(time.Second), Events: 7}); err != nil {
		t.Fatalf("RecordingFinished failed: %v", err)
	}
	if err := s.RunFinished(engine.RunReport{Started: now, Finished: now, Script: "x.bin", Events: 7, Passes: 1, Injected: 8, LoopCount: 1}); err != nil {
		t.Fatalf("RunFinished failed: %v", err)
	}
	if err := s.RunFinished(engine.RunReport{Started: now, Finished: now, Halted: true, Empty: true}); err != nil {
		t.Fatalf("RunFinished failed: %v", err)
	}
	if err := s.ScriptFileChanged(engine.ScriptFile{Path: "/tmp/x.bin", Op: engine.ScriptSaved, Events: 7, At: now}); err != nil {
		t.Fatalf("ScriptFileChanged failed: %v", err)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	want := Stats{
		Recordings:     1,
		RecordedEvents: 7,
		Runs:           2,
		HaltedRuns:     1,
		InjectedEvents: 8,
		ScriptFiles:    1,
	}
	if *st != want {
		t.Errorf("stats mismatch:\n got %+v\nwant %+v", *st, want)
	}

	files, err := s.ScriptFiles(1)
	if err != nil {
		t.Fatalf("ScriptFiles failed: %v", err)
	}
	if len(files) != 1 || files[0].Op != "save" || files[0].Path != "/tmp/x.bin" {
		t.Errorf("unexpected script files: %+v", files)
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	old := time.Unix(1_600_000_000, 0)
	recent := time.Unix(1_700_000_000, 0)

	for _, ts := range []time.Time{old, recent} {
		if _, err := s.InsertRecording(&Recording{Started: ts, Stopped: ts}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.InsertRun(&Run{Started: ts, Finished: ts}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.InsertScriptFile(&ScriptFile{Path: "a.bin", Op: "load", At: ts}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Prune(time.Unix(1_650_000_000, 0))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows pruned, got %d", n)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Recordings != 1 || st.Runs != 1 || st.ScriptFiles != 1 {
		t.Errorf("unexpected stats after prune: %+v", st)
	}
}
