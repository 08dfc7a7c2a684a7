package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rigops/rigagent/internal/types"
)

func TestLoadAppConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")

	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Port != 9100 || cfg.SessionName != "rig-miner" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file not written: %v", err)
	}

	// Second load reads the written file.
	again, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("LoadAppConfig (reload): %v", err)
	}
	if again.Port != cfg.Port {
		t.Errorf("reload port = %d, want %d", again.Port, cfg.Port)
	}
}

func TestSaveYAMLKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	if err := saveYAML(path, &types.ScheduleConfig{MiningEnabled: true}); err != nil {
		t.Fatalf("saveYAML: %v", err)
	}
	if err := saveYAML(path, &types.ScheduleConfig{MiningEnabled: false}); err != nil {
		t.Fatalf("saveYAML (second): %v", err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("backup not kept: %v", err)
	}
}

type fakeFetcher struct {
	cfg *types.ScheduleConfig
	err error
}

func (f *fakeFetcher) FetchSchedule(ctx context.Context) (*types.ScheduleConfig, error) {
	return f.cfg, f.err
}

func TestProviderStartsEmptyWithoutFile(t *testing.T) {
	p, err := NewProvider(filepath.Join(t.TempDir(), "schedule.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	cfg := p.ScheduleConfig()
	if cfg == nil {
		t.Fatal("ScheduleConfig = nil, want empty config")
	}
	if cfg.MiningEnabled || len(cfg.Periods) != 0 {
		t.Errorf("unexpected initial schedule: %+v", cfg)
	}
	if p.WorkerIdentity() != nil {
		t.Error("WorkerIdentity without a source should be nil")
	}
}

func TestProviderRefreshSwapsPointerAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	fresh := &types.ScheduleConfig{
		MiningEnabled: true,
		Periods:       []types.MiningPeriod{{Days: []string{"monday"}, Start: "09:00", End: "17:00"}},
	}
	p, err := NewProvider(path, &fakeFetcher{cfg: fresh}, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	before := p.ScheduleConfig()

	changed, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !changed {
		t.Error("Refresh reported no change for a new schedule")
	}
	after := p.ScheduleConfig()
	if after == before {
		t.Error("Refresh mutated the old pointer instead of replacing it")
	}
	if !after.MiningEnabled || len(after.Periods) != 1 {
		t.Errorf("unexpected refreshed schedule: %+v", after)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("refreshed schedule not persisted: %v", err)
	}

	// Identical payload: no change reported.
	changed, err = p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh (same): %v", err)
	}
	if changed {
		t.Error("Refresh reported change for identical schedule")
	}
}

func TestProviderRefreshKeepsScheduleOnFetchError(t *testing.T) {
	f := &fakeFetcher{err: errors.New("backend unreachable")}
	p, err := NewProvider(filepath.Join(t.TempDir(), "schedule.yaml"), f, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	if _, err := p.Refresh(context.Background()); err == nil {
		t.Error("Refresh = nil error, want fetch failure")
	}
	if p.ScheduleConfig() == nil {
		t.Error("schedule lost after failed refresh")
	}
}

func TestProviderReloadLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	body := "mining_enabled: true\nperiods:\n  - days: [monday]\n    start: \"09:00\"\n    end: \"17:00\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := NewProvider(path, nil, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if !p.ScheduleConfig().MiningEnabled {
		t.Error("persisted schedule not loaded")
	}

	edited := "mining_enabled: false\n"
	if err := os.WriteFile(path, []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.ReloadLocal(); err != nil {
		t.Fatalf("ReloadLocal: %v", err)
	}
	if p.ScheduleConfig().MiningEnabled {
		t.Error("local edit not picked up")
	}
}
