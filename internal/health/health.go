// Package health classifies recent worker output. Only explicit error
// signatures are actionable: mining pools legitimately go quiet during
// difficulty changes, so silence is reported as Inconclusive rather
// than Unhealthy to avoid restart storms.
package health

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Verdict is the result of an output scan.
type Verdict int

const (
	Inconclusive Verdict = iota
	Healthy
	Unhealthy
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "inconclusive"
	}
}

// WorkerKind identifies the miner whose output is being scanned.
type WorkerKind string

const (
	KindXMRig    WorkerKind = "xmrig"
	KindCCMiner  WorkerKind = "ccminer"
	KindCPUMiner WorkerKind = "cpuminer"
)

const (
	tailLines        = 50
	activityStaleMax = 20 * time.Minute
)

// patternSet holds the per-kind signature tables. Error patterns are
// ordered: the first match wins.
type patternSet struct {
	errors   []*regexp.Regexp
	activity []*regexp.Regexp
}

var (
	registryMux sync.RWMutex
	registry    = map[WorkerKind]patternSet{}
)

// Register installs the signature tables for a worker kind. Kinds are
// registered once at init; re-registering replaces the tables.
func Register(kind WorkerKind, errors, activity []string) {
	ps := patternSet{}
	for _, e := range errors {
		ps.errors = append(ps.errors, regexp.MustCompile(e))
	}
	for _, a := range activity {
		ps.activity = append(ps.activity, regexp.MustCompile(a))
	}
	registryMux.Lock()
	registry[kind] = ps
	registryMux.Unlock()
}

func init() {
	Register(KindXMRig,
		[]string{
			`(?i)connect error`,
			`(?i)login error`,
			`(?i)no active pools`,
			`(?i)socket (error|closed)`,
			`(?i)rejected .*(low difficulty|invalid|unauthorized)`,
			`(?i)(cuda|opencl) (disabled|error)`,
		},
		[]string{
			`(?i)accepted`,
			`(?i)new job from`,
			`(?i)speed .*[kmg]?h/s`,
		})
	Register(KindCCMiner,
		[]string{
			`(?i)stratum connection (failed|interrupted)`,
			`(?i)connection refused`,
			`(?i)auth(orization|entication) failed`,
			`(?i)gpu #\d+ .*(error|failure)`,
		},
		[]string{
			`(?i)accepted`,
			`(?i)yes!`,
			`(?i)stratum difficulty set`,
			`(?i)[kmg]h/s`,
		})
	Register(KindCPUMiner,
		[]string{
			`(?i)stratum connection (failed|interrupted)`,
			`(?i)connection refused`,
			`(?i)json-rpc call failed`,
			`(?i)low difficulty share`,
		},
		[]string{
			`(?i)accepted`,
			`(?i)new job`,
			`(?i)[kmg]?h(ash(es)?)?/s`,
		})
}

// timestamp layouts observed in miner output, longest first. Time-only
// lines are resolved against now's date.
var timestampPatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`), "2006-01-02 15:04:05"},
	{regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`), "2006-01-02 15:04:05"},
	{regexp.MustCompile(`\[(\d{2}:\d{2}:\d{2})\]`), "15:04:05"},
}

// lineTime extracts the timestamp of an output line, resolving
// time-only stamps against now's date (yesterday if the result would
// land in the future, e.g. a 23:59 line read at 00:01).
func lineTime(line string, now time.Time) (time.Time, bool) {
	for _, tp := range timestampPatterns {
		m := tp.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ts, err := time.ParseInLocation(tp.layout, m[1], now.Location())
		if err != nil {
			continue
		}
		if tp.layout == "15:04:05" {
			ts = time.Date(now.Year(), now.Month(), now.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, now.Location())
			if ts.After(now) {
				ts = ts.AddDate(0, 0, -1)
			}
		}
		return ts, true
	}
	return time.Time{}, false
}

// Check scans a session output snapshot and returns a verdict. An empty
// snapshot is Inconclusive: callers must treat absence of output as
// "unknown", never as failure.
func Check(snapshot string, kind WorkerKind, now time.Time) Verdict {
	if strings.TrimSpace(snapshot) == "" {
		return Inconclusive
	}

	registryMux.RLock()
	ps, ok := registry[kind]
	registryMux.RUnlock()
	if !ok {
		return Inconclusive
	}

	lines := strings.Split(snapshot, "\n")
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}

	for _, re := range ps.errors {
		for _, line := range lines {
			if re.MatchString(line) {
				return Unhealthy
			}
		}
	}

	// No error signature: look for the most recent dated activity line.
	var latest time.Time
	for _, line := range lines {
		matched := false
		for _, re := range ps.activity {
			if re.MatchString(line) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		ts, ok := lineTime(line, now)
		if !ok {
			continue
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	if !latest.IsZero() && now.Sub(latest) <= activityStaleMax {
		return Healthy
	}
	return Inconclusive
}

// Known reports whether a pattern table exists for the kind.
func Known(kind WorkerKind) bool {
	registryMux.RLock()
	defer registryMux.RUnlock()
	_, ok := registry[kind]
	return ok
}
