package telemetry

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel common fields for telemetry records
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Incident a supervisor incident (crash, crash-loop halt, spawn failure)
type Incident struct {
	BaseModel
	UID      string `json:"uid" gorm:"size:36;uniqueIndex"` // uuid
	Message  string `json:"message" gorm:"type:text"`
	Stack    string `json:"stack" gorm:"type:text"`
	Metadata string `json:"metadata" gorm:"type:text"` // json-encoded key/value pairs
	Critical bool   `json:"critical" gorm:"index"`
	Reported bool   `json:"reported" gorm:"index"` // delivered to the backend
}

// Event a supervisor lifecycle event (start, stop, restart, schedule flip)
type Event struct {
	BaseModel
	Level    string `json:"level" gorm:"size:10;index"`    // INFO, WARN, ERROR
	Category string `json:"category" gorm:"size:50;index"` // SESSION, SCHEDULE, HEALTH, WORKLOAD
	Message  string `json:"message" gorm:"type:text"`
	Details  string `json:"details" gorm:"type:text"`
}

// log level constants
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// event categories
const (
	CategorySession  = "SESSION"
	CategorySchedule = "SCHEDULE"
	CategoryHealth   = "HEALTH"
	CategoryWorkload = "WORKLOAD"
)
