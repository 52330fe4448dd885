package pipeline

import (
	"sync"

	"github.com/roach88/memotrace/internal/memo"
	"github.com/roach88/memotrace/internal/ops"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeBeginEpoch opens the next epoch of a trace.
	EventTypeBeginEpoch EventType = iota + 1
	// EventTypeOperation submits an operation for analysis.
	EventTypeOperation
	// EventTypeEndEpoch closes a trace's epoch.
	EventTypeEndEpoch
	// EventTypeAbortEpoch abandons a trace's epoch.
	EventTypeAbortEpoch
)

func (t EventType) String() string {
	switch t {
	case EventTypeBeginEpoch:
		return "begin"
	case EventTypeOperation:
		return "op"
	case EventTypeEndEpoch:
		return "end"
	case EventTypeAbortEpoch:
		return "abort"
	default:
		return "unknown"
	}
}

// Operation describes one operation instance to analyse.
type Operation struct {
	ID         string
	Generation uint64
	Spec       ops.Spec
	Policy     memo.PolicyID
}

// Event is a unit of pipeline work. Trace names the trace for epoch events
// and the enclosing trace of an operation; an operation with an empty Trace
// is untraced.
type Event struct {
	Type      EventType
	Trace     string
	Operation *Operation
}

// BeginEpoch returns an event opening trace's next epoch.
func BeginEpoch(trace string) Event { return Event{Type: EventTypeBeginEpoch, Trace: trace} }

// EndEpoch returns an event closing trace's epoch.
func EndEpoch(trace string) Event { return Event{Type: EventTypeEndEpoch, Trace: trace} }

// AbortEpoch returns an event abandoning trace's epoch.
func AbortEpoch(trace string) Event { return Event{Type: EventTypeAbortEpoch, Trace: trace} }

// Submit returns an event analysing op within trace.
func Submit(trace string, op Operation) Event {
	return Event{Type: EventTypeOperation, Trace: trace, Operation: &op}
}

// eventQueue is the FIFO between Submit callers and the Run loop. signal
// has a buffer of one so bursts of enqueues coalesce into a single wakeup.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. It reports false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, e)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the oldest event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0] // reuse the backing array
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the wakeup channel. A receive means events may be queued;
// the channel is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further enqueues and wakes the Run loop.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
