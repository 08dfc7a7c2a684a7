// Package schedule evaluates the declarative mining schedule. All
// functions are pure in (config, now); the package keeps no state.
package schedule

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/rigops/rigagent/internal/types"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// parseDays converts lowercase weekday names to a weekday set.
// Unknown names invalidate the whole entry so a typo cannot silently
// widen or narrow a window.
func parseDays(names []string) (map[time.Weekday]bool, error) {
	set := make(map[time.Weekday]bool, len(names))
	for _, n := range names {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		set[wd] = true
	}
	return set, nil
}

// periodMatches reports whether now falls inside the period. Overnight
// windows (start > end) wrap midnight: t >= start || t <= end. Both
// endpoints are inclusive. A malformed period is skipped with a warning
// and contributes nothing to the decision.
func periodMatches(p types.MiningPeriod, now time.Time) bool {
	if len(p.Days) == 0 {
		log.Printf("Warning: skipping mining period with no days (start=%s end=%s)", p.Start, p.End)
		return false
	}
	days, err := parseDays(p.Days)
	if err != nil {
		log.Printf("Warning: skipping malformed mining period: %v", err)
		return false
	}
	start, err := parseClock(p.Start)
	if err != nil {
		log.Printf("Warning: skipping malformed mining period: %v", err)
		return false
	}
	end, err := parseClock(p.End)
	if err != nil {
		log.Printf("Warning: skipping malformed mining period: %v", err)
		return false
	}
	if !days[now.Weekday()] {
		return false
	}
	t := now.Hour()*60 + now.Minute()
	if start > end {
		// overnight window wrapping midnight
		return t >= start || t <= end
	}
	return t >= start && t <= end
}

// ShouldBeRunning answers whether the worker should be running at the
// given instant. A disabled schedule means the worker runs continuously.
// An enabled schedule with no periods is a deny-all, not a no-op:
// schedules default to safe-off.
func ShouldBeRunning(cfg *types.ScheduleConfig, now time.Time) bool {
	if cfg == nil || !cfg.MiningEnabled {
		return true
	}
	if len(cfg.Periods) == 0 {
		return false
	}
	for _, p := range cfg.Periods {
		if periodMatches(p, now) {
			return true
		}
	}
	return false
}

// ActivePeriod returns the first period matching now, or nil.
func ActivePeriod(cfg *types.ScheduleConfig, now time.Time) *types.MiningPeriod {
	if cfg == nil || !cfg.MiningEnabled {
		return nil
	}
	for i := range cfg.Periods {
		if periodMatches(cfg.Periods[i], now) {
			return &cfg.Periods[i]
		}
	}
	return nil
}

// DueRestarts returns the restart rules matching now to minute
// precision. Matching is an exact-minute equality, not a window:
// callers must evaluate at minute granularity or risk skipping a match.
// Rules with no days apply every day.
func DueRestarts(cfg *types.ScheduleConfig, now time.Time) []types.RestartRule {
	if cfg == nil {
		return nil
	}
	t := now.Hour()*60 + now.Minute()
	var due []types.RestartRule
	for _, r := range cfg.Restarts {
		rt, err := parseClock(r.Time)
		if err != nil {
			log.Printf("Warning: skipping malformed restart rule: %v", err)
			continue
		}
		if rt != t {
			continue
		}
		if len(r.Days) > 0 {
			days, err := parseDays(r.Days)
			if err != nil {
				log.Printf("Warning: skipping malformed restart rule: %v", err)
				continue
			}
			if !days[now.Weekday()] {
				continue
			}
		}
		due = append(due, r)
	}
	return due
}

// NextRestart returns the earliest upcoming restart instant after now,
// or false if the schedule defines no valid restart rules.
func NextRestart(cfg *types.ScheduleConfig, now time.Time) (time.Time, bool) {
	if cfg == nil {
		return time.Time{}, false
	}
	var best time.Time
	for _, r := range cfg.Restarts {
		rt, err := parseClock(r.Time)
		if err != nil {
			continue
		}
		var days map[time.Weekday]bool
		if len(r.Days) > 0 {
			days, err = parseDays(r.Days)
			if err != nil {
				continue
			}
		}
		for offset := 0; offset <= 7; offset++ {
			day := now.AddDate(0, 0, offset)
			cand := time.Date(day.Year(), day.Month(), day.Day(), rt/60, rt%60, 0, 0, now.Location())
			if !cand.After(now) {
				continue
			}
			if days != nil && !days[cand.Weekday()] {
				continue
			}
			if best.IsZero() || cand.Before(best) {
				best = cand
			}
			break
		}
	}
	return best, !best.IsZero()
}

// Validate logs a warning for every malformed entry and returns the
// count of entries that would be skipped at evaluation time. The
// offending entries still ride along in the config; evaluation skips
// them individually so the rest of the schedule applies.
func Validate(cfg *types.ScheduleConfig) int {
	if cfg == nil {
		return 0
	}
	bad := 0
	for _, p := range cfg.Periods {
		if len(p.Days) == 0 {
			log.Printf("Warning: mining period has no days (start=%s end=%s)", p.Start, p.End)
			bad++
			continue
		}
		if _, err := parseDays(p.Days); err != nil {
			log.Printf("Warning: mining period: %v", err)
			bad++
			continue
		}
		if _, err := parseClock(p.Start); err != nil {
			log.Printf("Warning: mining period: %v", err)
			bad++
			continue
		}
		if _, err := parseClock(p.End); err != nil {
			log.Printf("Warning: mining period: %v", err)
			bad++
		}
	}
	for _, r := range cfg.Restarts {
		if _, err := parseClock(r.Time); err != nil {
			log.Printf("Warning: restart rule: %v", err)
			bad++
			continue
		}
		if len(r.Days) > 0 {
			if _, err := parseDays(r.Days); err != nil {
				log.Printf("Warning: restart rule: %v", err)
				bad++
			}
		}
	}
	return bad
}
