package api

import (
	"encoding/json"
	"testing"
	"time"

	"directindex/internal/model"
)

// wsFrame is the parsed WS message structure.
type wsFrame struct {
	Seq   int64            `json:"seq"`
	Event model.CycleEvent `json:"event"`
}

// TestEnvelopeFormat verifies the hand-assembled frame parses back to
// {"seq":N,"event":{...}} with the event payload intact.
func TestEnvelopeFormat(t *testing.T) {
	ev := model.CycleEvent{
		Cycle:   "a3f0c1d2",
		Stage:   model.StageOptimize,
		TS:      time.Date(2026, 3, 2, 10, 0, 1, 0, time.UTC),
		Message: "solving over 98 candidates",
	}

	buf := envelope(42, ev)

	var frame wsFrame
	if err := json.Unmarshal(buf, &frame); err != nil {
		t.Fatalf("frame is not valid JSON: %v\nraw: %s", err, buf)
	}
	if frame.Seq != 42 {
		t.Errorf("seq: got %d, want 42", frame.Seq)
	}
	if frame.Event.Cycle != ev.Cycle || frame.Event.Stage != ev.Stage || frame.Event.Message != ev.Message {
		t.Errorf("event: got %+v, want %+v", frame.Event, ev)
	}
	if !frame.Event.TS.Equal(ev.TS) {
		t.Errorf("ts: got %v, want %v", frame.Event.TS, ev.TS)
	}
}

// TestBroadcastSequencesEvents verifies each broadcast takes the next
// sequence number and lands in the replay ring.
func TestBroadcastSequencesEvents(t *testing.T) {
	h := NewHub(8, nil)

	stages := []string{model.StageStarted, model.StagePrices, model.StageDone}
	for _, st := range stages {
		h.Broadcast(model.CycleEvent{Cycle: "c1", Stage: st, TS: time.Now()})
	}

	if got := h.LastSeq(); got != 3 {
		t.Fatalf("last seq: got %d, want 3", got)
	}

	entries := h.replay.Since(1)
	if len(entries) != 2 {
		t.Fatalf("replay since 1: got %d entries, want 2", len(entries))
	}
	if entries[0].Seq != 2 || entries[0].Event.Stage != model.StagePrices {
		t.Errorf("first replayed entry: got seq=%d stage=%s", entries[0].Seq, entries[0].Event.Stage)
	}
	if entries[1].Seq != 3 || entries[1].Event.Stage != model.StageDone {
		t.Errorf("second replayed entry: got seq=%d stage=%s", entries[1].Seq, entries[1].Event.Stage)
	}
}

// TestBroadcastWithoutClients must not panic or block.
func TestBroadcastWithoutClients(t *testing.T) {
	h := NewHub(4, nil)
	for i := 0; i < 10; i++ {
		h.Broadcast(model.CycleEvent{Cycle: "c1", Stage: model.StagePrices, TS: time.Now()})
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("client count: got %d, want 0", got)
	}
	if got := h.LastSeq(); got != 10 {
		t.Errorf("last seq: got %d, want 10", got)
	}
}
