package audit

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeepsOrder(t *testing.T) {
	l := NewLog(nil)
	l.Record("A", "request_resource", "allocate 2 CPU", OutcomeAccepted)
	l.Record("", "validate_chain", "ok", OutcomeValid)
	l.Record("A", "release_resource", "release 9 CPU", OutcomeRejected)

	events := l.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "request_resource", events[0].Action)
	assert.Equal(t, SystemNode, events[1].NodeID)
	assert.Equal(t, OutcomeRejected, events[2].Outcome)
	assert.False(t, events[2].Timestamp.Before(events[0].Timestamp))
}

func TestEventsIsACopy(t *testing.T) {
	l := NewLog(nil)
	l.Record("A", "add_node", "", OutcomeSuccess)
	events := l.Events()
	events[0].Outcome = OutcomeFailure
	assert.Equal(t, OutcomeSuccess, l.Events()[0].Outcome)
}

func TestReplace(t *testing.T) {
	l := NewLog(nil)
	l.Record("A", "add_node", "", OutcomeSuccess)
	loaded := []Event{
		{Timestamp: time.Unix(10, 0), NodeID: "B", Action: "add_node", Outcome: OutcomeSuccess},
		{Timestamp: time.Unix(20, 0), NodeID: "B", Action: "request_resource", Outcome: OutcomeAccepted},
	}
	l.Replace(loaded)
	require.Equal(t, 2, l.Len())
	assert.Equal(t, "B", l.Events()[0].NodeID)

	l.Record("C", "add_node", "", OutcomeSuccess)
	assert.Equal(t, 3, l.Len())
	assert.Len(t, loaded, 2, "Replace must not alias the caller's slice")
}

func TestRecordMirrorsToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewLog(logger)
	l.Record("A", "request_resource", "allocate 5 CPU", OutcomeRejected)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "action=request_resource")
	assert.Contains(t, out, "outcome=rejected")
}
