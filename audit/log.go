// Package audit keeps the ordered trail of pipeline outcomes.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Outcome values recorded by the pipeline.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeValid    = "valid"
	OutcomeInvalid  = "invalid"
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeWarning  = "warning"
)

// SystemNode is the node id of events not tied to a participant.
const SystemNode = "system"

// Event is one audit record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"details"`
	Outcome   string    `json:"outcome"`
}

// Log is an append-only list of events, mirrored to a slog logger as they are
// recorded. Events are kept in the order Record was called.
type Log struct {
	mu     sync.Mutex
	events []Event
	logger *slog.Logger
	now    func() time.Time
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, now: time.Now}
}

// Record appends an event stamped with the current time.
func (l *Log) Record(nodeID, action, detail, outcome string) Event {
	if nodeID == "" {
		nodeID = SystemNode
	}
	ev := Event{Timestamp: l.now(), NodeID: nodeID, Action: action, Detail: detail, Outcome: outcome}

	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()

	level := slog.LevelInfo
	switch outcome {
	case OutcomeRejected, OutcomeInvalid, OutcomeFailure, OutcomeWarning:
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "audit", "node", nodeID, "action", action, "outcome", outcome, "detail", detail)
	return ev
}

// Events returns a copy of all recorded events.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Replace swaps the trail for events loaded from saved state.
func (l *Log) Replace(events []Event) {
	c := make([]Event, len(events))
	copy(c, events)
	l.mu.Lock()
	l.events = c
	l.mu.Unlock()
}
