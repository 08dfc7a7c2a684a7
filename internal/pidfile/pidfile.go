// Package pidfile writes the agent's pid to disk so init scripts and
// cron watchdogs can tell whether an agent is already running.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile is a file holding the process id of the running agent.
type PIDFile struct {
	path string
}

func processExists(pid int) bool {
	if _, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid))); err == nil {
		return true
	}
	return false
}

func checkPIDFileAlreadyExists(path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return nil
	}
	if processExists(pid) {
		return fmt.Errorf("pid file found, ensure %s is not running or delete %s", filepath.Base(os.Args[0]), path)
	}
	return nil
}

// New creates the pid file, refusing when the file already names a
// live process.
func New(path string) (*PIDFile, error) {
	if err := checkPIDFileAlreadyExists(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.FileMode(0755)); err != nil {
		return nil, err
	}
	p := &PIDFile{path: path}
	return p, p.Write()
}

// Write records the current pid.
func (p *PIDFile) Write() error {
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// Remove deletes the pid file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.path)
}
