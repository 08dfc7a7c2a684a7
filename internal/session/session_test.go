package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeTmux records tmux invocations and replays canned responses.
type fakeTmux struct {
	calls    [][]string
	sessions []string // names returned by list-sessions
	killErr  error
	spawnErr error
}

func (f *fakeTmux) run(args ...string) (string, error) {
	f.calls = append(f.calls, args)
	switch args[0] {
	case "list-sessions":
		if f.sessions == nil {
			return "", ErrNoServer
		}
		return strings.Join(f.sessions, "\n"), nil
	case "kill-session":
		if f.killErr != nil {
			return "", f.killErr
		}
		return "", nil
	case "new-session":
		if f.spawnErr != nil {
			return "", f.spawnErr
		}
		return "", nil
	case "capture-pane":
		return "output", nil
	}
	return "", nil
}

func (f *fakeTmux) count(cmd string) int {
	n := 0
	for _, c := range f.calls {
		if c[0] == cmd {
			n++
		}
	}
	return n
}

func newTestRunner(f *fakeTmux) *Runner {
	return &Runner{Name: "rig-miner", run: f.run}
}

func workerFiles(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	execPath := filepath.Join(dir, "xmrig")
	paramFile := filepath.Join(dir, "config.json")
	if err := os.WriteFile(execPath, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(paramFile, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	return execPath, paramFile
}

func TestIsRunning(t *testing.T) {
	cases := []struct {
		name     string
		sessions []string
		want     bool
	}{
		{"no server", nil, false},
		{"no sessions", []string{}, false},
		{"exactly one", []string{"rig-miner"}, true},
		{"unrelated session", []string{"dev-shell"}, false},
		{"duplicates are a defect, not running", []string{"rig-miner", "rig-miner-old"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := &fakeTmux{sessions: c.sessions}
			if got := newTestRunner(f).IsRunning(); got != c.want {
				t.Errorf("IsRunning() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestSessionCount(t *testing.T) {
	f := &fakeTmux{sessions: []string{"rig-miner", "rig-miner-2", "other"}}
	if got := newTestRunner(f).SessionCount(); got != 2 {
		t.Errorf("SessionCount() = %d, want 2", got)
	}
}

func TestStartMissingArtifacts(t *testing.T) {
	f := &fakeTmux{}
	r := newTestRunner(f)
	execPath, paramFile := workerFiles(t)

	if err := r.Start(filepath.Join(t.TempDir(), "absent"), paramFile); !errors.Is(err, ErrExecutableMissing) {
		t.Errorf("Start(missing exec) = %v, want ErrExecutableMissing", err)
	}
	if err := r.Start(execPath, filepath.Join(t.TempDir(), "absent.json")); !errors.Is(err, ErrParamFileMissing) {
		t.Errorf("Start(missing params) = %v, want ErrParamFileMissing", err)
	}
	if f.count("new-session") != 0 {
		t.Error("Start spawned a session despite missing artifacts")
	}
}

func TestStartSpawnsDetachedSession(t *testing.T) {
	f := &fakeTmux{sessions: []string{}}
	r := newTestRunner(f)
	execPath, paramFile := workerFiles(t)

	if err := r.Start(execPath, paramFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.count("new-session") != 1 {
		t.Fatalf("new-session called %d times, want 1", f.count("new-session"))
	}
	last := f.calls[len(f.calls)-1]
	joined := strings.Join(last, " ")
	if !strings.Contains(joined, "-d") || !strings.Contains(joined, "-s rig-miner") {
		t.Errorf("spawn args missing detached session flags: %v", last)
	}
	if !strings.Contains(joined, execPath) || !strings.Contains(joined, paramFile) {
		t.Errorf("spawn args missing worker command: %v", last)
	}
}

func TestStartCleansUpDuplicatesFirst(t *testing.T) {
	f := &fakeTmux{sessions: []string{"rig-miner", "rig-miner-stale"}}
	r := newTestRunner(f)
	execPath, paramFile := workerFiles(t)

	if err := r.Start(execPath, paramFile); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := f.count("kill-session"); got != 2 {
		t.Errorf("kill-session called %d times, want 2 (both duplicates)", got)
	}
	if f.count("new-session") != 1 {
		t.Error("worker not respawned after cleanup")
	}
}

func TestStartFailedCleanupBlocksSpawn(t *testing.T) {
	f := &fakeTmux{sessions: []string{"rig-miner"}, killErr: errors.New("operation not permitted")}
	r := newTestRunner(f)
	execPath, paramFile := workerFiles(t)

	err := r.Start(execPath, paramFile)
	if !errors.Is(err, ErrTerminateFailed) {
		t.Errorf("Start = %v, want ErrTerminateFailed", err)
	}
	if f.count("new-session") != 0 {
		t.Error("spawned a session despite failed cleanup")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := &fakeTmux{sessions: nil} // no server at all
	r := newTestRunner(f)

	if err := r.Stop(); err != nil {
		t.Errorf("Stop() with no sessions = %v, want nil", err)
	}
	if got := f.count("kill-session"); got != 0 {
		t.Errorf("Stop() issued %d kill calls, want 0", got)
	}
}

func TestStopKillsAllMatchingSessions(t *testing.T) {
	f := &fakeTmux{sessions: []string{"rig-miner", "rig-miner-old", "unrelated"}}
	r := newTestRunner(f)

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.count("kill-session"); got != 2 {
		t.Errorf("kill-session called %d times, want 2", got)
	}
	for _, c := range f.calls {
		if c[0] == "kill-session" && strings.Contains(strings.Join(c, " "), "unrelated") {
			t.Error("Stop killed an unrelated session")
		}
	}
}

func TestStopReportsFailedTerminate(t *testing.T) {
	f := &fakeTmux{sessions: []string{"rig-miner"}, killErr: errors.New("operation not permitted")}
	r := newTestRunner(f)

	if err := r.Stop(); !errors.Is(err, ErrTerminateFailed) {
		t.Errorf("Stop = %v, want ErrTerminateFailed", err)
	}
}

func TestSnapshotOutput(t *testing.T) {
	f := &fakeTmux{sessions: []string{"rig-miner"}}
	r := newTestRunner(f)
	out, ok := r.SnapshotOutput()
	if !ok || out != "output" {
		t.Errorf("SnapshotOutput = (%q, %v), want (\"output\", true)", out, ok)
	}

	// capture failure is inconclusive, not an error
	failing := &Runner{Name: "rig-miner", run: func(args ...string) (string, error) {
		return "", ErrSessionNotFound
	}}
	if _, ok := failing.SnapshotOutput(); ok {
		t.Error("SnapshotOutput on dead session reported ok")
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("/data/miners/xmrig"); got != "'/data/miners/xmrig'" {
		t.Errorf("shellQuote = %s", got)
	}
	if got := shellQuote("/tmp/o'brien"); got != `'/tmp/o'\''brien'` {
		t.Errorf("shellQuote with quote = %s", got)
	}
}
