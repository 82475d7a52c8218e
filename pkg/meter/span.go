package meter

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mkonradi/callmeter/pkg/sampler"
)

// ErrSpanAlreadyEnded is returned when End is called twice on the same Span.
// A Span bridges exactly one start/end pair; reuse is a caller bug and is
// reported loudly rather than double-emitting a record.
var ErrSpanAlreadyEnded = errors.New("meter: span already ended")

// Span is the caller-held value bridging a manual start/end sampling pair.
// It is not shared between callers, so concurrent spans need no locking.
type Span struct {
	CallID   string
	Function string

	start sampler.Sample
	done  *atomic.Bool
}

// Start samples immediately and returns the Span. A start event is written
// to the sink so an interrupted run still shows the call began.
func (m *Meter) Start(name string) Span {
	sp := Span{
		CallID:   uuid.NewString(),
		Function: name,
		start:    m.sample(),
		done:     &atomic.Bool{},
	}
	m.emit.emitEvent(TelemetryRecord{
		CallID:    sp.CallID,
		Function:  name,
		Timestamp: sp.start.Timestamp,
		Message:   fmt.Sprintf("%s: start: id=%s", name, sp.CallID),
	}, "INFO")
	return sp
}

// End samples again, computes deltas against the Span, emits one
// TelemetryRecord, and returns it.
func (m *Meter) End(sp Span) (TelemetryRecord, error) {
	if sp.done == nil {
		return TelemetryRecord{}, errors.New("meter: span was not created by Start")
	}
	if !sp.done.CompareAndSwap(false, true) {
		return TelemetryRecord{}, ErrSpanAlreadyEnded
	}

	after := m.sample()
	rec := m.record(sp.CallID, sp.Function, sp.start, after, "")
	m.emit.emitPerf(rec)
	return rec, nil
}
