package health

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

var checkNow = time.Date(2026, 8, 17, 12, 0, 0, 0, time.UTC)

func stamped(minutesAgo int, text string) string {
	ts := checkNow.Add(-time.Duration(minutesAgo) * time.Minute)
	return fmt.Sprintf("[%s] %s", ts.Format("2006-01-02 15:04:05"), text)
}

func TestCheckEmptySnapshotIsInconclusive(t *testing.T) {
	if got := Check("", KindXMRig, checkNow); got != Inconclusive {
		t.Errorf("Check(empty) = %s, want inconclusive", got)
	}
	if got := Check("   \n\n", KindXMRig, checkNow); got != Inconclusive {
		t.Errorf("Check(whitespace) = %s, want inconclusive", got)
	}
}

func TestCheckErrorSignatureIsUnhealthy(t *testing.T) {
	snap := strings.Join([]string{
		stamped(3, "new job from pool.example.com:3333 diff 120001"),
		stamped(1, "[net] connect error: \"connection refused\""),
	}, "\n")
	if got := Check(snap, KindXMRig, checkNow); got != Unhealthy {
		t.Errorf("Check = %s, want unhealthy", got)
	}
}

func TestCheckErrorWinsOverFreshActivity(t *testing.T) {
	// Error patterns are scanned first; a later accepted share does not
	// mask an explicit error signature in the same tail.
	snap := strings.Join([]string{
		stamped(5, "no active pools, stop mining"),
		stamped(1, "accepted (102/0) diff 120001 (45 ms)"),
	}, "\n")
	if got := Check(snap, KindXMRig, checkNow); got != Unhealthy {
		t.Errorf("Check = %s, want unhealthy", got)
	}
}

func TestCheckFreshActivityIsHealthy(t *testing.T) {
	snap := strings.Join([]string{
		stamped(18, "new job from pool.example.com:3333 diff 120001"),
		stamped(4, "accepted (101/0) diff 120001 (38 ms)"),
		stamped(2, "speed 10s/60s/15m 1024.5 1022.1 n/a H/s max 1100.0 H/s"),
	}, "\n")
	if got := Check(snap, KindXMRig, checkNow); got != Healthy {
		t.Errorf("Check = %s, want healthy", got)
	}
}

func TestCheckStaleActivityIsInconclusive(t *testing.T) {
	snap := strings.Join([]string{
		stamped(45, "accepted (88/0) diff 120001 (40 ms)"),
		stamped(31, "new job from pool.example.com:3333 diff 120001"),
	}, "\n")
	if got := Check(snap, KindXMRig, checkNow); got != Inconclusive {
		t.Errorf("Check(stale activity) = %s, want inconclusive — silence is not failure", got)
	}
}

func TestCheckActivityWithoutTimestampIsInconclusive(t *testing.T) {
	snap := "accepted (12/0) diff 4000\nnew job from pool"
	if got := Check(snap, KindCPUMiner, checkNow); got != Inconclusive {
		t.Errorf("Check(undated activity) = %s, want inconclusive", got)
	}
}

func TestCheckOnlyScansTail(t *testing.T) {
	// An old error far above the tail must not poison the verdict.
	var lines []string
	lines = append(lines, stamped(120, "connect error: connection refused"))
	for i := 0; i < tailLines; i++ {
		lines = append(lines, stamped(2, "speed 10s/60s/15m 1000.0 H/s"))
	}
	snap := strings.Join(lines, "\n")
	if got := Check(snap, KindXMRig, checkNow); got != Healthy {
		t.Errorf("Check = %s, want healthy (error line is outside the %d-line tail)", got, tailLines)
	}
}

func TestCheckTimeOnlyStampsResolveAgainstNow(t *testing.T) {
	// ccminer-style [HH:MM:SS] stamps carry no date.
	ts := checkNow.Add(-3 * time.Minute)
	snap := fmt.Sprintf("[%s] accepted: 35/35 (diff 0.081), 2514.21 kH/s yes!", ts.Format("15:04:05"))
	if got := Check(snap, KindCCMiner, checkNow); got != Healthy {
		t.Errorf("Check = %s, want healthy", got)
	}
}

func TestCheckUnknownKindIsInconclusive(t *testing.T) {
	if got := Check("anything", WorkerKind("minerd-exotic"), checkNow); got != Inconclusive {
		t.Errorf("Check(unknown kind) = %s, want inconclusive", got)
	}
	if Known(WorkerKind("minerd-exotic")) {
		t.Error("Known(unregistered) = true")
	}
	if !Known(KindXMRig) {
		t.Error("Known(xmrig) = false")
	}
}

func TestRegisterExtendsWithoutTouchingOthers(t *testing.T) {
	kind := WorkerKind("testminer")
	Register(kind, []string{`boom`}, []string{`tick`})
	if got := Check("boom", kind, checkNow); got != Unhealthy {
		t.Errorf("Check(custom kind) = %s, want unhealthy", got)
	}
	if got := Check(stamped(1, "accepted share"), KindXMRig, checkNow); got != Healthy {
		t.Errorf("existing xmrig table disturbed: Check = %s, want healthy", got)
	}
}
