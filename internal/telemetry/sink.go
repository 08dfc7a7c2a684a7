package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/rigops/rigagent/internal/types"
)

// Reporter is the backend incident endpoint.
type Reporter interface {
	ReportIncident(ctx context.Context, inc *types.IncidentReport) error
}

// Notifier delivers out-of-band alerts (Telegram).
type Notifier interface {
	Send(text string) error
}

// Sink is the supervisor's incident collaborator. Reporting is
// fire-and-forget: delivery failures are logged and must never affect
// supervisor state.
type Sink struct {
	store    *Store
	reporter Reporter
	notifier Notifier
}

// NewSink wires the sink. reporter and notifier may be nil.
func NewSink(store *Store, reporter Reporter, notifier Notifier) *Sink {
	return &Sink{store: store, reporter: reporter, notifier: notifier}
}

// ReportIncident records an incident locally and forwards it in the
// background.
func (s *Sink) ReportIncident(message, stack string, metadata map[string]string) {
	uid := uuid.NewString()
	critical := metadata["severity"] == "critical"

	meta, err := json.Marshal(metadata)
	if err != nil {
		meta = []byte("{}")
	}
	if s.store != nil {
		if err := s.store.SaveIncident(&Incident{
			UID:      uid,
			Message:  message,
			Stack:    stack,
			Metadata: string(meta),
			Critical: critical,
		}); err != nil {
			log.Printf("Warning: saving incident failed: %v", err)
		}
	}
	log.Printf("Incident: %s", message)

	// Delivery happens off the supervisor's critical section.
	go s.deliver(uid, message, stack, metadata, critical)
}

func (s *Sink) deliver(uid, message, stack string, metadata map[string]string, critical bool) {
	if s.reporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := s.reporter.ReportIncident(ctx, &types.IncidentReport{
			UID:      uid,
			Message:  message,
			Stack:    stack,
			Metadata: metadata,
			Critical: critical,
			At:       time.Now(),
		})
		if err != nil {
			log.Printf("Warning: reporting incident to backend failed: %v", err)
		} else if s.store != nil {
			if err := s.store.MarkReported(uid); err != nil {
				log.Printf("Warning: marking incident reported failed: %v", err)
			}
		}
	}

	if s.notifier != nil && critical {
		if err := s.notifier.Send("rigagent: " + message); err != nil {
			log.Printf("Warning: telegram alert failed: %v", err)
		}
	}
}
