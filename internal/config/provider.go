package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"reflect"
	"sync"

	"github.com/rigops/rigagent/internal/schedule"
	"github.com/rigops/rigagent/internal/types"
	"gopkg.in/yaml.v2"
)

// ScheduleFetcher is the backend call used to resync the schedule.
type ScheduleFetcher interface {
	FetchSchedule(ctx context.Context) (*types.ScheduleConfig, error)
}

// IdentitySource supplies the current worker identity. Implemented by
// the flightsheet manager.
type IdentitySource interface {
	WorkerIdentity() *types.WorkerIdentity
}

// Provider owns the declarative schedule. The config is replaced
// wholesale on each successful refresh: readers get a pointer that is
// never mutated in place, so a stale reader can never observe a
// half-updated value.
type Provider struct {
	mu       sync.RWMutex
	path     string
	sched    *types.ScheduleConfig
	fetcher  ScheduleFetcher
	identity IdentitySource
}

// NewProvider loads the persisted schedule from path. A missing file is
// not an error: the agent starts with an empty (deny-all when enabled)
// schedule until the first backend resync.
func NewProvider(path string, fetcher ScheduleFetcher, identity IdentitySource) (*Provider, error) {
	p := &Provider{path: path, fetcher: fetcher, identity: identity, sched: &types.ScheduleConfig{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedule config: %v", err)
	}
	sched := &types.ScheduleConfig{}
	if err := yaml.Unmarshal(data, sched); err != nil {
		return nil, fmt.Errorf("parse schedule config: %v", err)
	}
	if bad := schedule.Validate(sched); bad > 0 {
		log.Printf("Warning: schedule config has %d malformed entries, they will be skipped", bad)
	}
	p.sched = sched
	return p, nil
}

// ScheduleConfig returns the current schedule. Never nil.
func (p *Provider) ScheduleConfig() *types.ScheduleConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sched
}

// WorkerIdentity returns the current worker identity, or nil if no
// flightsheet has been assigned yet.
func (p *Provider) WorkerIdentity() *types.WorkerIdentity {
	if p.identity == nil {
		return nil
	}
	return p.identity.WorkerIdentity()
}

// Refresh resyncs the schedule from the backend. Returns true when the
// schedule changed. Transient fetch failures keep the current schedule.
func (p *Provider) Refresh(ctx context.Context) (bool, error) {
	if p.fetcher == nil {
		return false, nil
	}
	fresh, err := p.fetcher.FetchSchedule(ctx)
	if err != nil {
		return false, err
	}
	if bad := schedule.Validate(fresh); bad > 0 {
		log.Printf("Warning: refreshed schedule has %d malformed entries, they will be skipped", bad)
	}

	p.mu.Lock()
	changed := !reflect.DeepEqual(p.sched, fresh)
	if changed {
		p.sched = fresh
	}
	p.mu.Unlock()

	if changed {
		if err := saveYAML(p.path, fresh); err != nil {
			log.Printf("Warning: persisting refreshed schedule failed: %v", err)
		}
		log.Printf("Schedule config updated from backend")
	}
	return changed, nil
}

// ReloadLocal re-reads the schedule file after a local edit (fsnotify
// hot reload path). A broken file keeps the current schedule.
func (p *Provider) ReloadLocal() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read schedule config: %v", err)
	}
	sched := &types.ScheduleConfig{}
	if err := yaml.Unmarshal(data, sched); err != nil {
		return fmt.Errorf("parse schedule config: %v", err)
	}
	if bad := schedule.Validate(sched); bad > 0 {
		log.Printf("Warning: schedule config has %d malformed entries, they will be skipped", bad)
	}

	p.mu.Lock()
	p.sched = sched
	p.mu.Unlock()
	log.Printf("Schedule config reloaded from %s", p.path)
	return nil
}
