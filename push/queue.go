// Package push decouples the decode loop from the network sinks: a
// latest-wins handoff queue per destination class, drained by a dedicated
// worker on its own cadence.
package push

import "sondetrack/telemetry"

// Queue is a bounded handoff buffer between the decode loop (producer) and
// one worker (consumer). Producers never block and never fail: when the
// buffer is full the frame is simply dropped, because the consumer only ever
// wants the freshest position anyway.
type Queue struct {
	ch chan *telemetry.Record
}

// NewQueue creates a queue holding at most capacity pending records.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan *telemetry.Record, capacity)}
}

// Offer enqueues a record without blocking. Returns false when the queue was
// full and the record was dropped; callers treat that as routine.
func (q *Queue) Offer(rec *telemetry.Record) bool {
	select {
	case q.ch <- rec:
		return true
	default:
		return false
	}
}

// Latest drains every pending record and returns only the most recent one.
// Intermediate records are deliberately discarded; for live tracking a stale
// position is worthless once a fresher one exists.
func (q *Queue) Latest() (*telemetry.Record, bool) {
	var latest *telemetry.Record
	for {
		select {
		case rec := <-q.ch:
			latest = rec
		default:
			return latest, latest != nil
		}
	}
}
