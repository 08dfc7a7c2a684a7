// Package flightsheet manages the remotely-assigned workload: which
// miner runs and with which parameters. The backend authors flightsheet
// params in YAML; the manager materializes them into the JSON config
// file the miner actually reads.
package flightsheet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghodss/yaml"
	"github.com/rigops/rigagent/internal/health"
	"github.com/rigops/rigagent/internal/types"
)

// Fetcher is the backend call used to resync the flightsheet.
type Fetcher interface {
	FetchFlightsheet(ctx context.Context) (*types.Flightsheet, error)
}

// Manager owns the current flightsheet and the WorkerIdentity derived
// from it. Identity is replaced by reference on change, never mutated.
type Manager struct {
	mu        sync.RWMutex
	fetcher   Fetcher
	minersDir string
	dataDir   string

	current  *types.Flightsheet
	hash     string
	identity *types.WorkerIdentity
}

// NewManager loads the persisted flightsheet, if any, and rebuilds the
// worker identity from it. A rig with no flightsheet yet has a nil
// identity until the first successful refresh.
func NewManager(fetcher Fetcher, minersDir, dataDir string) (*Manager, error) {
	m := &Manager{fetcher: fetcher, minersDir: minersDir, dataDir: dataDir}

	data, err := os.ReadFile(m.persistPath())
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read flightsheet: %v", err)
	}
	fs := &types.Flightsheet{}
	if err := yaml.Unmarshal(data, fs); err != nil {
		return nil, fmt.Errorf("parse flightsheet: %v", err)
	}
	if err := m.install(fs); err != nil {
		// A stale persisted flightsheet must not prevent startup; the
		// next refresh replaces it.
		log.Printf("Warning: persisted flightsheet unusable: %v", err)
	}
	return m, nil
}

func (m *Manager) persistPath() string {
	return filepath.Join(m.dataDir, "flightsheet.yaml")
}

// WorkerIdentity returns the current identity, or nil when no workload
// is assigned.
func (m *Manager) WorkerIdentity() *types.WorkerIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Current returns the active flightsheet, or nil.
func (m *Manager) Current() *types.Flightsheet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// RefreshWorkload resyncs the flightsheet from the backend. Returns
// true when the workload changed and a restart is warranted. Fetch
// failures keep the current workload and retry on the next tick.
func (m *Manager) RefreshWorkload(ctx context.Context) (bool, error) {
	if m.fetcher == nil {
		return false, nil
	}
	fresh, err := m.fetcher.FetchFlightsheet(ctx)
	if err != nil {
		return false, err
	}
	if fresh == nil || fresh.Worker == "" {
		return false, nil
	}

	freshHash, err := contentHash(fresh)
	if err != nil {
		return false, fmt.Errorf("hash flightsheet: %v", err)
	}

	m.mu.RLock()
	unchanged := freshHash == m.hash
	m.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	if err := m.install(fresh); err != nil {
		return false, err
	}
	if err := m.persist(fresh); err != nil {
		log.Printf("Warning: persisting flightsheet failed: %v", err)
	}
	log.Printf("Flightsheet changed: %s (worker %s)", fresh.Name, fresh.Worker)
	return true, nil
}

// install materializes the flightsheet into a WorkerIdentity: params
// are written to the miner's JSON config file and the executable path
// resolved under the miners directory. Installed atomically: identity,
// flightsheet, and hash swap together under the lock.
func (m *Manager) install(fs *types.Flightsheet) error {
	if fs.Worker == "" {
		return fmt.Errorf("flightsheet %q has no worker", fs.Name)
	}
	if !health.Known(health.WorkerKind(fs.Worker)) {
		// still installable, but output checks will be inconclusive
		log.Printf("Warning: no health patterns for worker %q", fs.Worker)
	}

	paramDir := filepath.Join(m.dataDir, "params")
	if err := os.MkdirAll(paramDir, 0755); err != nil {
		return fmt.Errorf("create param dir: %v", err)
	}
	paramFile := filepath.Join(paramDir, fs.Worker+".json")

	params, err := json.MarshalIndent(fs.Params, "", "  ")
	if err != nil {
		return fmt.Errorf("encode params: %v", err)
	}
	tmp := paramFile + ".tmp"
	if err := os.WriteFile(tmp, params, 0644); err != nil {
		return fmt.Errorf("write param file: %v", err)
	}
	if err := os.Rename(tmp, paramFile); err != nil {
		return fmt.Errorf("write param file: %v", err)
	}

	hash, err := contentHash(fs)
	if err != nil {
		return err
	}
	identity := &types.WorkerIdentity{
		Name:      fs.Worker,
		ExecPath:  filepath.Join(m.minersDir, fs.Worker, fs.Worker),
		ParamFile: paramFile,
	}

	m.mu.Lock()
	m.current = fs
	m.hash = hash
	m.identity = identity
	m.mu.Unlock()
	return nil
}

// persist saves the flightsheet as YAML so the rig resumes the same
// workload after an agent restart while offline.
func (m *Manager) persist(fs *types.Flightsheet) error {
	data, err := yaml.Marshal(fs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.dataDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(m.persistPath(), data, 0644)
}

// contentHash is a canonical digest of the flightsheet used for change
// detection.
func contentHash(fs *types.Flightsheet) (string, error) {
	data, err := json.Marshal(fs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
