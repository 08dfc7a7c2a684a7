package session

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// KillOrphans terminates worker processes that outlived their session
// (tmux died but the miner kept running). Matching is by executable
// base name. Returns the number of processes signalled. Best-effort:
// scan or signal failures are logged and never propagate.
func (r *Runner) KillOrphans(execPath string) int {
	if execPath == "" {
		return 0
	}
	want := filepath.Base(execPath)

	procs, err := process.Processes()
	if err != nil {
		log.Printf("Warning: orphan scan failed: %v", err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.EqualFold(name, want) {
			continue
		}
		if err := unix.Kill(int(p.Pid), unix.SIGKILL); err != nil {
			log.Printf("Warning: killing orphaned worker pid %d failed: %v", p.Pid, err)
			continue
		}
		log.Printf("Killed orphaned worker process %s (pid %d)", name, p.Pid)
		killed++
	}
	return killed
}
