package push

import (
	"log"
	"time"

	"sondetrack/internal/ratelimit"
	"sondetrack/telemetry"
)

// Sink forwards one telemetry record to a destination. Push errors are
// per-cycle events: the worker logs them and carries on.
type Sink interface {
	Name() string
	Push(rec *telemetry.Record) error
}

// pollInterval is how often an idle worker rechecks its queue.
const pollInterval = time.Second

// Worker drains a Queue on a fixed cadence and forwards the freshest record
// to its sinks. A failing sink never stops the worker nor affects the other
// sinks in the same cycle.
type Worker struct {
	name     string
	queue    *Queue
	sinks    []Sink
	interval time.Duration

	// alignSlots makes the worker sleep until wall-clock time modulo the
	// interval hits zero after each push, so independently running
	// stations upload in the same timeslot. Best effort only: it assumes
	// NTP-synchronized clocks and corrects nothing.
	alignSlots bool

	errLimit ratelimit.Counter

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewWorker creates a worker pushing to sinks every interval.
func NewWorker(name string, queue *Queue, sinks []Sink, interval time.Duration, alignSlots bool) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		name:       name,
		queue:      queue,
		sinks:      sinks,
		interval:   interval,
		alignSlots: alignSlots,
		errLimit:   ratelimit.NewCounter(30 * time.Second),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the worker loop. Call once.
func (w *Worker) Start() {
	go w.run()
}

// Stop signals the loop to exit and waits for it. Pending queue items are
// not flushed; at shutdown their positions are already history.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	log.Printf("Push(%s): worker started", w.name)

	for {
		rec, ok := w.queue.Latest()
		if !ok {
			if w.sleep(pollInterval) {
				return
			}
			continue
		}

		w.pushAll(rec)

		if w.alignSlots {
			if w.sleepUntilSlot() {
				return
			}
		} else if w.sleep(w.interval) {
			return
		}
	}
}

// pushAll forwards rec to every sink, logging failures without aborting the
// cycle.
func (w *Worker) pushAll(rec *telemetry.Record) {
	for _, sink := range w.sinks {
		if err := sink.Push(rec); err != nil {
			if total, logit := w.errLimit.Inc(); logit {
				log.Printf("Push(%s): %s failed (%d total): %v", w.name, sink.Name(), total, err)
			}
		}
	}
}

// sleep waits for d, returning true when the worker was stopped meanwhile.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-w.stop:
		return true
	}
}

// sleepUntilSlot waits for the next synchronized upload timeslot: first a
// full second so the push just made cannot land in the same slot, then until
// unix time modulo the upload interval reaches zero.
func (w *Worker) sleepUntilSlot() bool {
	if w.sleep(time.Second) {
		return true
	}
	rate := int64(w.interval.Seconds())
	if rate <= 0 {
		return false
	}
	for w.now().Unix()%rate != 0 {
		if w.sleep(100 * time.Millisecond) {
			return true
		}
	}
	return false
}
