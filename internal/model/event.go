package model

import (
	"encoding/json"
	"time"
)

// Rebalance cycle stages, in the order they occur.
const (
	StageStarted   = "started"
	StagePrices    = "prices"
	StageOptimize  = "optimize"
	StageBuild     = "build"
	StageReconcile = "reconcile"
	StageExecute   = "execute"
	StageDone      = "done"
	StageError     = "error"
)

// StageParams marks an operator parameter change, outside any cycle.
const StageParams = "params"

// CycleEvent is a progress event emitted while a rebalance cycle runs.
// Events are published to Redis and relayed to WebSocket observers.
type CycleEvent struct {
	Cycle   string    `json:"cycle"` // cycle id (uuid)
	Stage   string    `json:"stage"`
	TS      time.Time `json:"ts"`
	Message string    `json:"message"`
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *CycleEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ParseCycleEvent decodes a JSON-encoded event.
func ParseCycleEvent(data []byte) (CycleEvent, error) {
	var ev CycleEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
