// Package supervisor keeps the mining worker running exactly when the
// schedule says it should be: it detects crashes, applies a bounded
// retry policy with a global restart cooldown, honors manual stops, and
// restarts the worker when its workload changes.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rigops/rigagent/internal/health"
	"github.com/rigops/rigagent/internal/schedule"
	"github.com/rigops/rigagent/internal/types"
)

// Runner is the worker session boundary (implemented by
// internal/session). Only the supervisor may call Start and Stop.
type Runner interface {
	IsRunning() bool
	SessionCount() int
	Start(execPath, paramFile string) error
	Stop() error
	SnapshotOutput() (string, bool)
}

// ConfigProvider supplies the declarative schedule and the selected
// worker identity.
type ConfigProvider interface {
	ScheduleConfig() *types.ScheduleConfig
	WorkerIdentity() *types.WorkerIdentity
	Refresh(ctx context.Context) (bool, error)
}

// WorkloadProvider resyncs the flightsheet; true means the workload
// changed and the worker must be restarted onto it.
type WorkloadProvider interface {
	RefreshWorkload(ctx context.Context) (bool, error)
}

// IncidentSink receives incident reports, fire-and-forget.
type IncidentSink interface {
	ReportIncident(message, stack string, metadata map[string]string)
}

// Tick intervals are variables so tests can shrink them.
var (
	workloadInterval = 60 * time.Second
	configInterval   = 60 * time.Second
	scheduleInterval = 60 * time.Second
	healthInterval   = 30 * time.Second
)

const (
	maxCrashes        = 3
	manualStopTimeout = 10 * time.Minute
	restartCooldown   = 5 * time.Minute
)

// state is the supervisor's only mutable state. It lives for the
// process lifetime and is never persisted: an agent restart resets
// crash counters and cooldowns. All access goes through Supervisor.mu.
type state struct {
	crashCount      int
	lastCrashAt     time.Time
	manuallyStopped bool
	manualStopAt    time.Time
	lastRestartAt   time.Time
	lastSchedCheck  time.Time
	halted          bool
	pendingWorkload bool
}

// Supervisor owns the worker lifecycle. The hosting process constructs
// exactly one instance and hands it to the control surfaces; there is
// no implicit global registry.
type Supervisor struct {
	mu sync.Mutex
	st state

	runner    Runner
	config    ConfigProvider
	workload  WorkloadProvider
	incidents IncidentSink

	// notify publishes state changes to the websocket stream; may be nil.
	notify func(msgType string, data interface{})

	// now is the clock, replaced by tests.
	now func() time.Time
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithNotifier publishes worker state changes (websocket stream).
func WithNotifier(fn func(msgType string, data interface{})) Option {
	return func(s *Supervisor) { s.notify = fn }
}

// WithClock overrides the wall clock (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Supervisor) { s.now = fn }
}

// New constructs the Supervisor.
func New(runner Runner, config ConfigProvider, workload WorkloadProvider, incidents IncidentSink, opts ...Option) *Supervisor {
	s := &Supervisor{
		runner:    runner,
		config:    config,
		workload:  workload,
		incidents: incidents,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run drives the four periodic triggers until ctx is cancelled, then
// makes a final best-effort stop of the worker session. All triggers
// run on this one goroutine, so their state transitions apply
// atomically; the mutex additionally serializes the control surface
// calls arriving from HTTP handlers.
func (s *Supervisor) Run(ctx context.Context) {
	log.Printf("Supervisor starting (schedule check %s, health check %s)", scheduleInterval, healthInterval)

	workloadTick := time.NewTicker(workloadInterval)
	configTick := time.NewTicker(configInterval)
	scheduleTick := time.NewTicker(scheduleInterval)
	healthTick := time.NewTicker(healthInterval)
	defer workloadTick.Stop()
	defer configTick.Stop()
	defer scheduleTick.Stop()
	defer healthTick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Supervisor shutting down")
			if err := s.runner.Stop(); err != nil {
				log.Printf("Warning: final worker stop failed: %v", err)
			}
			return
		case <-workloadTick.C:
			s.workloadCheck(ctx)
		case <-configTick.C:
			if _, err := s.config.Refresh(ctx); err != nil {
				log.Printf("Warning: config refresh failed: %v", err)
			}
		case <-scheduleTick.C:
			s.scheduleCheck()
		case <-healthTick.C:
			s.healthCheck()
		}
	}
}

// workloadCheck refreshes the flightsheet and restarts the worker onto
// a changed workload. The restart bypasses the schedule gate (the
// schedule check will stop the worker next tick if it should not run)
// but records lastRestartAt so health restarts observe the cooldown.
// A manual stop wins over a workload change: the restart is deferred
// until the hold expires. A new flightsheet is an operator-driven
// reset, so a halted crash loop starts over on the new workload.
func (s *Supervisor) workloadCheck(ctx context.Context) {
	changed, err := s.workload.RefreshWorkload(ctx)
	if err != nil {
		log.Printf("Warning: workload refresh failed: %v", err)
		return
	}
	if !changed {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manualHoldLocked(s.now()) {
		log.Printf("Workload changed during manual stop, deferring restart")
		s.st.pendingWorkload = true
		return
	}
	if s.st.halted {
		log.Printf("Workload changed, clearing halted crash loop")
	}
	s.st.halted = false
	s.st.crashCount = 0
	log.Printf("Workload changed, restarting worker")
	s.restartLocked("flightsheet changed")
}

// scheduleCheck enforces mining windows and scheduled restarts, and
// performs crash accounting for a worker that should be running but is
// not. Debounced to the minute: re-entrant sub-minute ticks are skipped
// so restart rules fire at most once per matching minute.
func (s *Supervisor) scheduleCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sameMinute(now, s.st.lastSchedCheck) {
		return
	}
	s.st.lastSchedCheck = now

	if s.manualHoldLocked(now) {
		return
	}

	cfg := s.config.ScheduleConfig()
	should := schedule.ShouldBeRunning(cfg, now)
	running := s.runner.IsRunning()

	if s.st.pendingWorkload {
		// A workload change arrived during a manual stop; apply it now
		// that the hold is over instead of counting a crash.
		s.st.pendingWorkload = false
		s.st.halted = false
		s.st.crashCount = 0
		if should {
			log.Printf("Applying deferred workload restart")
			s.restartLocked("flightsheet changed")
			return
		}
	}

	if !should {
		// Outside the mining window. Not a crash: no accounting.
		if running {
			log.Printf("Outside mining window, stopping worker")
			if err := s.runner.Stop(); err != nil {
				log.Printf("Warning: stopping worker failed: %v", err)
			}
			s.publishStateLocked(false, "outside mining window")
		}
		return
	}

	if !running {
		s.recordCrashLocked(now)
		return
	}

	if due := schedule.DueRestarts(cfg, now); len(due) > 0 {
		log.Printf("Scheduled restart due (%s)", due[0].Time)
		s.restartLocked("scheduled restart")
	}
}

// recordCrashLocked applies the bounded-retry policy: the worker should
// be running but is not. After maxCrashes consecutive detections the
// supervisor halts and leaves the worker stopped until an operator
// intervenes.
func (s *Supervisor) recordCrashLocked(now time.Time) {
	if s.st.halted {
		return
	}
	s.st.crashCount++
	s.st.lastCrashAt = now
	log.Printf("Worker not running but should be (crash %d/%d)", s.st.crashCount, maxCrashes)

	if s.st.crashCount >= maxCrashes {
		s.st.halted = true
		msg := fmt.Sprintf("worker crash loop: %d consecutive crashes, supervision halted", s.st.crashCount)
		s.incidents.ReportIncident(msg, "", map[string]string{
			"severity": "critical",
			"crashes":  fmt.Sprintf("%d", s.st.crashCount),
		})
		s.publishStateLocked(false, "crash loop halted")
		return
	}
	s.restartLocked("crash detected")
}

// healthCheck applies the manual-stop hold and the output-based health
// verdict. Crash accounting for a dead worker lives in scheduleCheck.
func (s *Supervisor) healthCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.manualHoldLocked(now) {
		return
	}

	cfg := s.config.ScheduleConfig()
	if !schedule.ShouldBeRunning(cfg, now) {
		return
	}
	if !s.runner.IsRunning() {
		return
	}

	verdict := health.Inconclusive
	if snap, ok := s.runner.SnapshotOutput(); ok {
		verdict = health.Check(snap, s.workerKind(), now)
	}

	switch verdict {
	case health.Unhealthy:
		if !s.st.lastRestartAt.IsZero() && now.Sub(s.st.lastRestartAt) < restartCooldown {
			log.Printf("Worker unhealthy but restart cooldown active (%s remaining)",
				(restartCooldown - now.Sub(s.st.lastRestartAt)).Round(time.Second))
			return
		}
		log.Printf("Worker unhealthy, restarting")
		s.restartLocked("unhealthy output")
	case health.Healthy:
		if s.st.crashCount > 0 {
			log.Printf("Worker healthy, resetting crash counter (was %d)", s.st.crashCount)
		}
		s.st.crashCount = 0
	}
	// Inconclusive: pools go quiet legitimately; leave state alone.
}

// manualHoldLocked reports whether a manual stop is holding the worker
// down, clearing the flag once the timeout elapses.
func (s *Supervisor) manualHoldLocked(now time.Time) bool {
	if !s.st.manuallyStopped {
		return false
	}
	if now.Sub(s.st.manualStopAt) < manualStopTimeout {
		return true
	}
	log.Printf("Manual stop timeout elapsed, resuming supervision")
	s.st.manuallyStopped = false
	return false
}

// restartLocked stops and starts the worker session, recording the
// restart instant for the cooldown. Spawn failures are retried by the
// next crash tick.
func (s *Supervisor) restartLocked(reason string) {
	id := s.config.WorkerIdentity()
	if id == nil {
		log.Printf("Warning: restart requested (%s) but no workload assigned", reason)
		return
	}
	if err := s.runner.Stop(); err != nil {
		log.Printf("Warning: stop before restart failed: %v", err)
	}
	if err := s.runner.Start(id.ExecPath, id.ParamFile); err != nil {
		log.Printf("Error: starting worker failed: %v", err)
		s.incidents.ReportIncident("worker start failed: "+err.Error(), "", map[string]string{
			"severity": "warning",
			"reason":   reason,
			"worker":   id.Name,
		})
		return
	}
	s.st.lastRestartAt = s.now()
	s.publishStateLocked(true, reason)
}

// TriggerManualStop stops the worker and suppresses automatic restarts
// for the manual-stop timeout, regardless of current state.
func (s *Supervisor) TriggerManualStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.manuallyStopped = true
	s.st.manualStopAt = s.now()
	log.Printf("Manual stop requested, suppressing automatic restarts for %s", manualStopTimeout)

	err := s.runner.Stop()
	if err != nil {
		log.Printf("Warning: manual stop failed: %v", err)
	}
	s.publishStateLocked(false, "manual stop")
	return err
}

// TriggerManualStart starts the worker, clearing manual-stop
// bookkeeping and resetting a halted crash loop: a manual start is the
// operator intervention that returns Halted to normal supervision.
func (s *Supervisor) TriggerManualStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.config.WorkerIdentity()
	if id == nil {
		return errors.New("no workload assigned")
	}
	s.st.halted = false
	s.st.crashCount = 0

	if err := s.runner.Start(id.ExecPath, id.ParamFile); err != nil {
		return err
	}
	s.st.manuallyStopped = false
	s.st.lastRestartAt = s.now()
	s.publishStateLocked(true, "manual start")
	return nil
}

// ForceRestart restarts the worker immediately, bypassing the cooldown.
// Like a manual start it resets crash-loop bookkeeping and cancels a
// manual stop.
func (s *Supervisor) ForceRestart(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.config.WorkerIdentity()
	if id == nil {
		return errors.New("no workload assigned")
	}
	s.st.halted = false
	s.st.crashCount = 0
	s.st.manuallyStopped = false
	if reason == "" {
		reason = "forced restart"
	}
	log.Printf("Forced restart: %s", reason)
	s.restartLocked(reason)
	return nil
}

// Status reports the supervisor's view for the control surfaces.
func (s *Supervisor) Status() *types.StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cfg := s.config.ScheduleConfig()

	resp := &types.StatusResponse{
		CurrentDay:        strings.ToLower(now.Weekday().String()),
		CurrentTime:       now.Format("15:04"),
		SchedulingEnabled: cfg != nil && cfg.MiningEnabled,
		IsRunning:         s.runner.IsRunning(),
		ShouldBeMining:    schedule.ShouldBeRunning(cfg, now),
		ManuallyStopped:   s.st.manuallyStopped,
		Halted:            s.st.halted,
		CrashCount:        s.st.crashCount,
		LastRestartAt:     s.st.lastRestartAt,
	}
	if p := schedule.ActivePeriod(cfg, now); p != nil {
		resp.ActivePeriod = fmt.Sprintf("%s-%s", p.Start, p.End)
	}
	if next, ok := schedule.NextRestart(cfg, now); ok {
		resp.NextRestart = next.Format("Mon 15:04")
	}
	if id := s.config.WorkerIdentity(); id != nil {
		resp.Worker = id.Name
	}
	return resp
}

// workerKind maps the current identity onto a health pattern table.
func (s *Supervisor) workerKind() health.WorkerKind {
	id := s.config.WorkerIdentity()
	if id == nil {
		return health.WorkerKind("")
	}
	return health.WorkerKind(strings.ToLower(id.Name))
}

func (s *Supervisor) publishStateLocked(running bool, reason string) {
	if s.notify == nil {
		return
	}
	cfg := s.config.ScheduleConfig()
	s.notify("minerState", types.MinerStateMessage{
		Running:        running,
		ShouldBeMining: schedule.ShouldBeRunning(cfg, s.now()),
		Reason:         reason,
		CrashCount:     s.st.crashCount,
		Halted:         s.st.halted,
	})
}

func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}
