// Package config persists the agent's local configuration files and
// implements the supervisor's schedule/identity provider backed by the
// fleet backend.
package config

import (
	"fmt"
	"log"
	"os"

	"github.com/rigops/rigagent/internal/types"
	"gopkg.in/yaml.v2"
)

// LoadAppConfig loads app.yaml, creating a default file on first run.
func LoadAppConfig(path string) (*types.AppConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultAppConfig()
		if saveErr := saveYAML(path, cfg); saveErr != nil {
			log.Printf("Warning: failed to save default app config: %v", saveErr)
		} else {
			log.Printf("Created default %s configuration file", path)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read app config: %v", err)
	}
	cfg := &types.AppConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse app config: %v", err)
	}
	applyAppDefaults(cfg)
	return cfg, nil
}

// DefaultAppConfig returns the first-run configuration.
func DefaultAppConfig() *types.AppConfig {
	cfg := &types.AppConfig{
		Port:              9100,
		JWTSecret:         "rigagent-secret-key-change-in-production",
		JWTExpiryDuration: 24,
	}
	applyAppDefaults(cfg)
	return cfg
}

func applyAppDefaults(cfg *types.AppConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9100
	}
	if cfg.JWTExpiryDuration == 0 {
		cfg.JWTExpiryDuration = 24
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "rig-miner"
	}
	if cfg.MinersDir == "" {
		cfg.MinersDir = "miners"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = "rigagent.db"
	}
	if cfg.Database.LogRetentionDays == 0 {
		cfg.Database.LogRetentionDays = 30
	}
}

// saveYAML writes a yaml file with backup rotation: the previous file
// is kept as .bak and restored if the write fails.
func saveYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("serialize %s: %v", path, err)
	}

	backup := path + ".bak"
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, backup); err != nil {
			log.Printf("Warning: failed to backup %s: %v", path, err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		if _, bakErr := os.Stat(backup); bakErr == nil {
			if restoreErr := os.Rename(backup, path); restoreErr != nil {
				log.Printf("Error: failed to restore backup of %s: %v", path, restoreErr)
			}
		}
		return fmt.Errorf("save %s: %v", path, err)
	}
	return nil
}
