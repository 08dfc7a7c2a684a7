// Package telemetry records supervisor incidents and lifecycle events
// locally and forwards incidents to the fleet backend, fire-and-forget.
package telemetry

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// pure-Go sqlite driver: the agent must build without cgo on
	// Android/Termux targets.
	_ "modernc.org/sqlite"
)

// Store is the local telemetry database.
type Store struct {
	db *gorm.DB
}

// Open initializes the sqlite-backed store and migrates the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %v", err)
		}
	}

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %v", err)
	}
	if err := db.AutoMigrate(&Incident{}, &Event{}); err != nil {
		return nil, fmt.Errorf("migrate telemetry database: %v", err)
	}
	return &Store{db: db}, nil
}

// SaveIncident persists an incident record.
func (s *Store) SaveIncident(inc *Incident) error {
	return s.db.Create(inc).Error
}

// MarkReported flags an incident as delivered to the backend.
func (s *Store) MarkReported(uid string) error {
	return s.db.Model(&Incident{}).Where("uid = ?", uid).Update("reported", true).Error
}

// ListIncidents returns the most recent incidents, newest first.
func (s *Store) ListIncidents(limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	var incidents []Incident
	err := s.db.Order("created_at DESC").Limit(limit).Find(&incidents).Error
	return incidents, err
}

// LogEvent persists a lifecycle event. Best-effort: a write failure is
// logged, never surfaced to the caller.
func (s *Store) LogEvent(level, category, message, details string) {
	err := s.db.Create(&Event{Level: level, Category: category, Message: message, Details: details}).Error
	if err != nil {
		log.Printf("Warning: saving event failed: %v", err)
	}
}

// ListEvents returns the most recent events, newest first.
func (s *Store) ListEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []Event
	err := s.db.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

// Cleanup deletes records older than the retention window.
func (s *Store) Cleanup(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if err := s.db.Unscoped().Where("created_at < ?", cutoff).Delete(&Incident{}).Error; err != nil {
		return err
	}
	return s.db.Unscoped().Where("created_at < ?", cutoff).Delete(&Event{}).Error
}
