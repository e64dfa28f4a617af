package state

import (
	"testing"
	"time"

	"github.com/ShayCichocki/maestro/pkg/models"
)

func TestAppendListEvents(t *testing.T) {
	db := setupTestDB(t)

	events := []*models.TaskEvent{
		{TaskID: "task-1", Type: models.EventStepStarted, StepID: "fetch", Handler: "tool_call"},
		{TaskID: "task-1", Type: models.EventStepCompleted, StepID: "fetch", Data: map[string]any{"code": float64(200)}},
		{TaskID: "task-2", Type: models.EventStepStarted, StepID: "other"},
	}
	for _, ev := range events {
		if err := db.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	got, err := db.ListEvents("task-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != models.EventStepStarted || got[1].Type != models.EventStepCompleted {
		t.Errorf("events out of order: %v, %v", got[0].Type, got[1].Type)
	}
	if got[0].Handler != "tool_call" {
		t.Errorf("handler = %q, want tool_call", got[0].Handler)
	}
	if got[1].Data["code"] != float64(200) {
		t.Errorf("event data not round-tripped: %v", got[1].Data)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("created_at not defaulted")
	}
}

func TestListEvents_Empty(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.ListEvents("nope")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no events, got %d", len(got))
	}
}

func TestPurgeOldEvents(t *testing.T) {
	db := setupTestDB(t)

	old := &models.TaskEvent{
		TaskID:    "task-1",
		Type:      models.EventTaskEnqueued,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	recent := &models.TaskEvent{
		TaskID: "task-1",
		Type:   models.EventTaskClaimed,
	}
	if err := db.AppendEvent(old); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if err := db.AppendEvent(recent); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	n, err := db.PurgeOldEvents(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldEvents failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d events, want 1", n)
	}

	got, err := db.ListEvents("task-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 1 || got[0].Type != models.EventTaskClaimed {
		t.Errorf("wrong events survived: %v", got)
	}
}
