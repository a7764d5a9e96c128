package timescale

import (
	"testing"
	"time"

	"fry-engine/internal/config"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer when disabled, got %v %v", w, err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, nil); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.EnqueueStatus(StatusRow{})
	w.EnqueueSweep(SweepRow{})
	if err := w.Close(); err != nil {
		t.Fatalf("expected nil close error, got %v", err)
	}
	if s, sw := w.Dropped(); s != 0 || sw != 0 {
		t.Fatalf("expected no drops on nil writer")
	}
}

func TestQueuesDropWhenFull(t *testing.T) {
	w := newWriter(nil, config.TimescaleConfig{QueueSize: 2, Schema: "fry"}, nil)
	for i := 0; i < 5; i++ {
		w.EnqueueStatus(StatusRow{Time: time.Now(), BreakerState: "INACTIVE"})
	}
	w.EnqueueSweep(SweepRow{EventID: "a"})
	status, sweep := w.Dropped()
	if status != 3 || sweep != 0 {
		t.Fatalf("expected 3 status drops and 0 sweep drops, got %d %d", status, sweep)
	}
	if got := w.table("engine_status"); got != "fry.engine_status" {
		t.Fatalf("expected schema-qualified table, got %s", got)
	}
}
