// Package session manages the single named tmux session that hosts the
// worker process. Only the supervisor's state machine may call Start
// and Stop; this is the one shared OS resource of the agent.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Common errors. Start and Stop never panic past this boundary: every
// failure path maps to one of these sentinels or wraps it.
var (
	ErrNoServer          = errors.New("no tmux server running")
	ErrSessionNotFound   = errors.New("session not found")
	ErrExecutableMissing = errors.New("worker executable not found")
	ErrParamFileMissing  = errors.New("worker param file not found")
	ErrSpawnFailed       = errors.New("failed to spawn worker session")
	ErrTerminateFailed   = errors.New("failed to terminate worker session")
)

// Runner wraps the worker's tmux session operations.
type Runner struct {
	// Name is the reserved session name for the worker.
	Name string

	// run invokes tmux; replaced by tests.
	run func(args ...string) (string, error)
}

// NewRunner creates a Runner for the reserved session name.
func NewRunner(name string) *Runner {
	return &Runner{Name: name, run: runTmux}
}

// runTmux executes a tmux command and returns trimmed stdout.
func runTmux(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapTmuxError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// wrapTmuxError maps tmux stderr text to sentinel errors.
func wrapTmuxError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// matchingSessions returns live session names matching the reserved
// name: the name itself, or the name with a dashed suffix left behind
// by an interrupted cleanup.
func (r *Runner) matchingSessions() ([]string, error) {
	out, err := r.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil // no server = no sessions
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var matches []string
	for _, name := range strings.Split(out, "\n") {
		if name == r.Name || strings.HasPrefix(name, r.Name+"-") {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// IsRunning reports whether exactly one live session with the reserved
// name exists. Duplicate sessions are a cleanup defect, not a running
// worker.
func (r *Runner) IsRunning() bool {
	matches, err := r.matchingSessions()
	if err != nil {
		log.Printf("Warning: listing worker sessions failed: %v", err)
		return false
	}
	if len(matches) > 1 {
		log.Printf("Warning: %d duplicate worker sessions found (%s), expected one", len(matches), strings.Join(matches, ", "))
		return false
	}
	return len(matches) == 1
}

// SessionCount returns the number of sessions matching the reserved name.
func (r *Runner) SessionCount() int {
	matches, err := r.matchingSessions()
	if err != nil {
		log.Printf("Warning: listing worker sessions failed: %v", err)
		return 0
	}
	return len(matches)
}

// Start spawns the worker detached inside a fresh session and returns
// immediately; the worker's lifetime is independent of the caller.
// Both artifacts must exist, and any duplicate sessions are cleaned up
// first.
func (r *Runner) Start(execPath, paramFile string) error {
	if _, err := os.Stat(execPath); err != nil {
		return fmt.Errorf("%w: %s", ErrExecutableMissing, execPath)
	}
	if _, err := os.Stat(paramFile); err != nil {
		return fmt.Errorf("%w: %s", ErrParamFileMissing, paramFile)
	}

	// Implicit pre-start cleanup: a stale or duplicated session must
	// not survive into the new run.
	if count := r.SessionCount(); count > 0 {
		log.Printf("Cleaning up %d existing worker session(s) before start", count)
		if err := r.Stop(); err != nil {
			return fmt.Errorf("pre-start cleanup: %w", err)
		}
	}

	workerCmd := fmt.Sprintf("exec %s --config %s", shellQuote(execPath), shellQuote(paramFile))
	if _, err := r.run("new-session", "-d", "-s", r.Name, "-c", filepath.Dir(execPath), workerCmd); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	log.Printf("Worker session %q started: %s", r.Name, execPath)
	return nil
}

// Stop terminates all sessions matching the reserved name. Idempotent:
// no session is a success, not an error. Bookkeeping left behind by a
// failed terminate is removed best-effort and never blocks a later
// Start.
func (r *Runner) Stop() error {
	matches, err := r.matchingSessions()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTerminateFailed, err)
	}
	if len(matches) == 0 {
		return nil
	}

	var failed []string
	for _, name := range matches {
		if _, err := r.run("kill-session", "-t", name); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Printf("Warning: killing worker session %q failed: %v", name, err)
			failed = append(failed, name)
		}
	}

	r.removeStaleSockets()

	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrTerminateFailed, strings.Join(failed, ", "))
	}
	log.Printf("Worker session(s) stopped: %s", strings.Join(matches, ", "))
	return nil
}

// SnapshotOutput captures recent terminal output without disturbing the
// session. The second return is false when no output could be captured;
// callers must treat that as inconclusive, never as unhealthy.
func (r *Runner) SnapshotOutput() (string, bool) {
	out, err := r.run("capture-pane", "-p", "-t", r.Name, "-S", "-200")
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrNoServer) {
			log.Printf("Warning: capturing worker output failed: %v", err)
		}
		return "", false
	}
	return out, true
}

// removeStaleSockets clears dead tmux server sockets left behind after
// a failed terminate. Best-effort: failures are logged as warnings.
func (r *Runner) removeStaleSockets() {
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("tmux-%d", os.Getuid()))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		// A live server answers on its socket; if list-sessions already
		// reported no server, the socket is stale.
		if _, err := r.run("-S", path, "list-sessions"); errors.Is(err, ErrNoServer) {
			if rmErr := os.Remove(path); rmErr != nil {
				log.Printf("Warning: removing stale tmux socket %s failed: %v", path, rmErr)
			}
		}
	}
}

// shellQuote single-quotes a path for the session's shell command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
