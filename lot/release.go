package lot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/round-cube/parking-dashboard/gateway"
	"github.com/round-cube/parking-dashboard/notify"
)

const (
	releaseFailedMessage  = "Release failed"
	releaseNetworkMessage = "Network error during release"
	releaseBusyMessage    = "Release already in progress"
)

// Release ends a session through the gateway. On success the session is
// removed locally at once, kept out of stale poll results, and a poll is
// forced so the stats catch up. On failure only an error notification is queued.
func (d *Dashboard) Release(ctx context.Context, id SessionID) (float64, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	if _, busy := d.releasing[id]; busy {
		d.mu.Unlock()
		Releases.WithLabelValues("busy").Inc()
		d.queue.Push(releaseBusyMessage, notify.Error)
		return 0, ErrReleaseInProgress
	}
	d.releasing[id] = struct{}{}
	session := d.find(id)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.releasing, id)
		d.mu.Unlock()
	}()

	logger := log.WithFields(log.Fields{
		"session": id,
		"plate":   session.PlateNumber,
	})

	if d.locker != nil {
		unlock, err := d.locker.Lock(ctx, id)
		if err != nil {
			Releases.WithLabelValues("busy").Inc()
			logger.Warnf("failed to obtain release lock: %s", err)
			d.queue.Push(releaseBusyMessage, notify.Error)
			return 0, fmt.Errorf("%w: %s", ErrReleaseInProgress, err)
		}
		defer unlock()
	}

	fee, err := d.gw.Release(ctx, id)
	if err != nil {
		Releases.WithLabelValues("failed").Inc()
		logger.Errorf("failed to release session: %s", err)
		d.queue.Push(ReleaseErrorMessage(err), notify.Error)
		return 0, err
	}

	now := d.clock.Now()
	d.mu.Lock()
	d.remove(id)
	d.released[id] = exclusion{afterSeq: d.pollSeq, until: now.Add(d.cfg.ReleaseGrace)}
	ActiveSessions.Set(float64(len(d.sessions)))
	d.mu.Unlock()

	Releases.WithLabelValues("released").Inc()
	logger.WithField("fee", fee).Info("session released")

	if d.sink != nil {
		ev := ReleaseEvent{Session: session, Fee: fee, ReleasedAt: now}
		if err := d.sink.Released(ctx, ev); err != nil {
			logger.Errorf("failed to publish release event: %s", err)
		}
	}

	d.queue.Push(fmt.Sprintf("Vehicle released. Fee: %s %s", d.cfg.Currency, formatFee(fee)), notify.Success)
	d.ForcePoll()
	return fee, nil
}

// ReleaseErrorMessage is the operator-facing text for a failed release.
func ReleaseErrorMessage(err error) string {
	if errors.Is(err, ErrReleaseInProgress) {
		return releaseBusyMessage
	}
	if reason, ok := gateway.Reason(err); ok {
		return reason
	}
	// An unreadable response is reported like a transport failure.
	if errors.Is(err, gateway.ErrNetwork) || errors.Is(err, gateway.ErrMalformed) {
		return releaseNetworkMessage
	}
	return releaseFailedMessage
}

func formatFee(fee float64) string {
	return strconv.FormatFloat(fee, 'f', -1, 64)
}

// find returns the held session or a stub carrying only the id.
func (d *Dashboard) find(id SessionID) ParkingSession {
	for _, s := range d.sessions {
		if s.ID == id {
			return s
		}
	}
	return ParkingSession{ID: id}
}

func (d *Dashboard) remove(id SessionID) {
	kept := make([]ParkingSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	d.sessions = kept
}
