package lot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/round-cube/parking-dashboard/clock"
	"github.com/round-cube/parking-dashboard/gateway"
	"github.com/round-cube/parking-dashboard/notify"
)

const syncFailedMessage = "Failed to sync with server"

// Start polls immediately and then on every poll interval until Stop. It also
// publishes a snapshot on every clock tick so durations advance between polls.
func (d *Dashboard) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running || d.closed {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	poll := d.clock.NewTicker(d.cfg.PollInterval)
	tick := d.clock.NewTicker(d.cfg.TickInterval)
	d.mu.Unlock()

	log.WithFields(log.Fields{
		"poll_interval": d.cfg.PollInterval,
		"tick_interval": d.cfg.TickInterval,
	}).Info("reconciler started")
	go d.run(ctx, done, poll, tick)
}

func (d *Dashboard) run(ctx context.Context, done chan struct{}, poll, tick clock.Ticker) {
	var wg sync.WaitGroup
	defer close(done)
	defer d.exited(done)
	defer wg.Wait()
	defer tick.Stop()
	defer poll.Stop()

	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Poll(ctx)
		}()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C():
			launch()
		case <-d.force:
			launch()
		case <-tick.C():
			d.publish()
		}
	}
}

// exited marks the loop stopped so ForcePoll falls back to a direct poll
// when the parent context ends before Stop.
func (d *Dashboard) exited(done chan struct{}) {
	d.mu.Lock()
	if d.done == done {
		d.running = false
	}
	d.mu.Unlock()
}

// Stop cancels the loop, waits for in-flight polls and drops their results.
// A stopped dashboard cannot be restarted.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	cancel, done := d.cancel, d.done
	d.running = false
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	d.queue.Close()
	log.Info("reconciler stopped")
}

// ForcePoll requests an immediate out-of-band poll.
func (d *Dashboard) ForcePoll() {
	d.mu.Lock()
	running, closed := d.running, d.closed
	d.mu.Unlock()

	switch {
	case closed:
		return
	case running:
		select {
		case d.force <- struct{}{}:
		default:
		}
	default:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
			defer cancel()
			d.Poll(ctx)
		}()
	}
}

// Poll fetches stats and active sessions concurrently and replaces whichever
// slices succeeded. Failures leave the previous values in place.
func (d *Dashboard) Poll(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.pollSeq++
	seq := d.pollSeq
	d.inflight[seq] = struct{}{}
	d.mu.Unlock()

	start := time.Now()
	var (
		wg        sync.WaitGroup
		stats     gateway.Stats
		statsErr  error
		sessions  []gateway.Session
		activeErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		stats, statsErr = d.gw.Stats(ctx)
	}()
	go func() {
		defer wg.Done()
		sessions, activeErr = d.gw.ListActive(ctx)
	}()
	wg.Wait()
	PollLatency.Observe(time.Since(start).Seconds())

	if !d.apply(seq, stats, statsErr == nil, sessions, activeErr == nil) {
		return ErrClosed
	}

	var errs []error
	if statsErr != nil {
		PollFailures.WithLabelValues("stats").Inc()
		errs = append(errs, fmt.Errorf("failed to fetch stats: %w", statsErr))
	}
	if activeErr != nil {
		PollFailures.WithLabelValues("active").Inc()
		errs = append(errs, fmt.Errorf("failed to fetch active sessions: %w", activeErr))
	}
	err := errors.Join(errs...)
	if err == nil {
		d.publish()
		return nil
	}

	// A timed out call is a sync failure; only a cancelled poll stays quiet.
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Debugf("poll %d abandoned: %s", seq, err)
		d.publish()
		return err
	}
	log.WithField("poll", seq).Errorf("reconciliation failed: %s", err)
	d.queue.Push(syncFailedMessage, notify.Error)
	return err
}

func (d *Dashboard) apply(seq uint64, stats gateway.Stats, statsOK bool, sessions []gateway.Session, activeOK bool) bool {
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, seq)
	if d.closed {
		return false
	}
	if statsOK {
		d.stats = fromGatewayStats(stats)
	}
	if activeOK {
		kept := make([]ParkingSession, 0, len(sessions))
		for _, s := range sessions {
			if d.excluded(s.ID, seq, now) {
				log.WithFields(log.Fields{
					"session": s.ID,
					"plate":   s.PlateNumber,
					"poll":    seq,
				}).Debug("dropping released session from stale poll")
				continue
			}
			kept = append(kept, fromGatewaySession(s))
		}
		d.sessions = kept
		ActiveSessions.Set(float64(len(kept)))
	}
	d.purgeExclusions(now)
	d.loading = false
	d.generation++
	return true
}

// excluded reports whether a released id must be hidden from the given poll:
// the poll started before the release completed, or the grace period is running.
func (d *Dashboard) excluded(id SessionID, seq uint64, now time.Time) bool {
	ex, ok := d.released[id]
	if !ok {
		return false
	}
	return seq <= ex.afterSeq || now.Before(ex.until)
}

// purgeExclusions forgets a released id once its grace period is over and
// every poll that started before the release has been applied.
func (d *Dashboard) purgeExclusions(now time.Time) {
	for id, ex := range d.released {
		if now.Before(ex.until) || d.inflightSince(ex.afterSeq) {
			continue
		}
		delete(d.released, id)
	}
}

func (d *Dashboard) inflightSince(seq uint64) bool {
	for s := range d.inflight {
		if s <= seq {
			return true
		}
	}
	return false
}
