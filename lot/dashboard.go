// Package lot is the live parking-lot view model: it reconciles active sessions
// and lot stats against the gateway, projects live durations, and drives manual
// releases.
package lot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/round-cube/parking-dashboard/clock"
	"github.com/round-cube/parking-dashboard/notify"
)

var (
	ErrClosed            = errors.New("dashboard closed")
	ErrReleaseInProgress = errors.New("release already in progress")
)

type Config struct {
	PollInterval    time.Duration
	TickInterval    time.Duration
	NotificationTTL time.Duration
	// ReleaseGrace is how long a released id stays excluded from poll results.
	ReleaseGrace time.Duration
	// RequestTimeout bounds polls started outside the loop.
	RequestTimeout time.Duration
	Currency       string
	// Capacity seeds AvailableSlots until the first stats poll lands.
	Capacity int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:    10 * time.Second,
		TickInterval:    time.Second,
		NotificationTTL: notify.DefaultTTL,
		ReleaseGrace:    10 * time.Second,
		RequestTimeout:  10 * time.Second,
		Currency:        "रू",
		Capacity:        50,
	}
}

type Option func(*Dashboard)

func WithReleaseLocker(l ReleaseLocker) Option {
	return func(d *Dashboard) { d.locker = l }
}

func WithReleaseSink(s ReleaseSink) Option {
	return func(d *Dashboard) { d.sink = s }
}

type exclusion struct {
	afterSeq uint64
	until    time.Time
}

type Dashboard struct {
	gw     Gateway
	clock  clock.Clock
	cfg    Config
	queue  *notify.Queue
	locker ReleaseLocker
	sink   ReleaseSink
	force  chan struct{}

	mu         sync.Mutex
	stats      LotStats
	sessions   []ParkingSession
	loading    bool
	closed     bool
	running    bool
	pollSeq    uint64
	generation uint64
	inflight   map[uint64]struct{}
	released   map[SessionID]exclusion
	releasing  map[SessionID]struct{}
	cancel     context.CancelFunc
	done       chan struct{}

	pubMu     sync.Mutex
	obsMu     sync.RWMutex
	observers map[int]func(Snapshot)
	nextObs   int
}

func New(gw Gateway, c clock.Clock, cfg Config, opts ...Option) *Dashboard {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.ReleaseGrace <= 0 {
		cfg.ReleaseGrace = cfg.PollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}

	d := &Dashboard{
		gw:        gw,
		clock:     c,
		cfg:       cfg,
		queue:     notify.NewQueue(c, cfg.NotificationTTL),
		force:     make(chan struct{}, 1),
		stats:     LotStats{AvailableSlots: cfg.Capacity},
		sessions:  []ParkingSession{},
		loading:   true,
		inflight:  make(map[uint64]struct{}),
		released:  make(map[SessionID]exclusion),
		releasing: make(map[SessionID]struct{}),
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue.OnChange(d.publish)
	return d
}

// Subscribe registers fn to receive a snapshot after every state change and on
// every clock tick, in the order the snapshots were taken. fn must not block
// or call back into the Dashboard. The returned func unsubscribes.
func (d *Dashboard) Subscribe(fn func(Snapshot)) func() {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.obsMu.Unlock()

	return func() {
		d.obsMu.Lock()
		delete(d.observers, id)
		d.obsMu.Unlock()
	}
}

func (d *Dashboard) publish() {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()

	snap := d.Snapshot()
	d.obsMu.RLock()
	fns := make([]func(Snapshot), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.obsMu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Snapshot returns the current state with durations projected at the clock's now.
func (d *Dashboard) Snapshot() Snapshot {
	now := d.clock.Now()

	d.mu.Lock()
	snap := Snapshot{
		Stats:      d.stats,
		Sessions:   make([]SessionView, len(d.sessions)),
		Loading:    d.loading,
		Generation: d.generation,
		TakenAt:    now,
	}
	for i, s := range d.sessions {
		snap.Sessions[i] = SessionView{ParkingSession: s, Duration: FormatDuration(s.EntryTime, now)}
	}
	d.mu.Unlock()

	snap.Notifications = d.queue.List()
	return snap
}

// Dismiss removes a notification before its TTL.
func (d *Dashboard) Dismiss(id string) bool {
	return d.queue.Dismiss(id)
}
