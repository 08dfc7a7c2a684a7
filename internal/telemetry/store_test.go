package telemetry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rigops/rigagent/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSaveAndListIncidents(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveIncident(&Incident{UID: "u-1", Message: "worker crashed", Critical: false}); err != nil {
		t.Fatalf("SaveIncident: %v", err)
	}
	if err := s.SaveIncident(&Incident{UID: "u-2", Message: "crash loop halted", Critical: true}); err != nil {
		t.Fatalf("SaveIncident: %v", err)
	}

	incidents, err := s.ListIncidents(10)
	if err != nil {
		t.Fatalf("ListIncidents: %v", err)
	}
	if len(incidents) != 2 {
		t.Fatalf("ListIncidents = %d records, want 2", len(incidents))
	}

	if err := s.MarkReported("u-2"); err != nil {
		t.Fatalf("MarkReported: %v", err)
	}
	incidents, _ = s.ListIncidents(10)
	for _, inc := range incidents {
		if inc.UID == "u-2" && !inc.Reported {
			t.Error("u-2 not marked reported")
		}
		if inc.UID == "u-1" && inc.Reported {
			t.Error("u-1 wrongly marked reported")
		}
	}
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	s.LogEvent(LevelInfo, CategorySession, "worker started", "")
	s.LogEvent(LevelWarn, CategoryHealth, "unhealthy output", "connect error")

	events, err := s.ListEvents(10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ListEvents = %d records, want 2", len(events))
	}
}

// recordingReporter captures the report and signals delivery.
type recordingReporter struct {
	mu   sync.Mutex
	done chan struct{}
	inc  *types.IncidentReport
}

func (r *recordingReporter) ReportIncident(ctx context.Context, inc *types.IncidentReport) error {
	r.mu.Lock()
	r.inc = inc
	r.mu.Unlock()
	close(r.done)
	return nil
}

func TestSinkReportsInBackground(t *testing.T) {
	s := newTestStore(t)
	rep := &recordingReporter{done: make(chan struct{})}
	sink := NewSink(s, rep, nil)

	sink.ReportIncident("worker crash loop", "", map[string]string{"severity": "critical", "crashes": "3"})
	<-rep.done

	rep.mu.Lock()
	inc := rep.inc
	rep.mu.Unlock()
	if inc == nil || inc.Message != "worker crash loop" || !inc.Critical {
		t.Errorf("reported incident = %+v", inc)
	}

	incidents, err := s.ListIncidents(10)
	if err != nil || len(incidents) != 1 {
		t.Fatalf("ListIncidents = %v, %v", incidents, err)
	}
	if !incidents[0].Critical {
		t.Error("incident not persisted as critical")
	}
}
