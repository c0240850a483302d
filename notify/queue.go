// Package notify holds transient operator-facing messages. Every message
// expires on its own timer.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/round-cube/parking-dashboard/clock"
)

const DefaultTTL = 5 * time.Second

type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Error   Severity = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

type entry struct {
	seq   uint64
	n     Notification
	timer clock.Timer
}

type Queue struct {
	mu       sync.Mutex
	clock    clock.Clock
	ttl      time.Duration
	seq      uint64
	entries  map[string]*entry
	onChange func()
	closed   bool
}

func NewQueue(c clock.Clock, ttl time.Duration) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{
		clock:   c,
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

// OnChange registers a callback invoked, outside the queue lock, after every
// push, dismissal and expiry.
func (q *Queue) OnChange(fn func()) {
	q.mu.Lock()
	q.onChange = fn
	q.mu.Unlock()
}

// Push enqueues a message and schedules its removal after the TTL.
func (q *Queue) Push(message string, severity Severity) Notification {
	n := Notification{
		ID:        newID(),
		Message:   message,
		Severity:  severity,
		CreatedAt: q.clock.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return n
	}
	q.seq++
	e := &entry{seq: q.seq, n: n}
	q.entries[n.ID] = e
	e.timer = q.clock.AfterFunc(q.ttl, func() { q.expire(n.ID) })
	fn := q.onChange
	q.mu.Unlock()

	log.WithFields(log.Fields{
		"id":       n.ID,
		"severity": n.Severity,
	}).Debugf("notification: %s", n.Message)
	if fn != nil {
		fn()
	}
	return n
}

// Dismiss removes a notification early. It reports whether the id was queued.
func (q *Queue) Dismiss(id string) bool {
	q.mu.Lock()
	e, ok := q.entries[id]
	if ok {
		e.timer.Stop()
		delete(q.entries, id)
	}
	fn := q.onChange
	q.mu.Unlock()

	if ok && fn != nil {
		fn()
	}
	return ok
}

func (q *Queue) expire(id string) {
	q.mu.Lock()
	_, ok := q.entries[id]
	delete(q.entries, id)
	fn := q.onChange
	q.mu.Unlock()

	if ok && fn != nil {
		fn()
	}
}

// List returns the queued notifications in insertion order.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Notification, len(entries))
	for i, e := range entries {
		out[i] = e.n
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close drops every queued notification and cancels the pending timers.
// Later pushes are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for id, e := range q.entries {
		e.timer.Stop()
		delete(q.entries, id)
	}
	q.mu.Unlock()
}

func newID() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return v7.String()
}
