package shared

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/round-cube/parking-dashboard/lot"
)

type JSONPublisher interface {
	PublishJSON(ctx context.Context, v any) error
}

// ReleasePublisher forwards dashboard releases to a queue as Release events.
type ReleasePublisher struct {
	Queue JSONPublisher
	Now   func() time.Time
}

func NewReleaseEvent(ev lot.ReleaseEvent, ts time.Time) Release {
	r := Release{
		SessionId:       string(ev.Session.ID),
		VehiclePlate:    ev.Session.PlateNumber,
		VehicleType:     ev.Session.VehicleType,
		ReleaseDateTime: ev.ReleasedAt.UTC().Format(time.RFC3339),
		Fee:             ev.Fee,
		Ts:              ts.UTC().Format(time.RFC3339),
	}
	if !ev.Session.EntryTime.IsZero() {
		r.EntryDateTime = ev.Session.EntryTime.UTC().Format(time.RFC3339)
	}
	return r
}

func (p *ReleasePublisher) Released(ctx context.Context, ev lot.ReleaseEvent) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	release := NewReleaseEvent(ev, now())
	if err := p.Queue.PublishJSON(ctx, release); err != nil {
		return fmt.Errorf("failed to publish release event: %w", err)
	}

	log.WithFields(log.Fields{
		"session_id":        release.SessionId,
		"vehicle_plate":     release.VehiclePlate,
		"release_date_time": release.ReleaseDateTime,
		"fee":               release.Fee,
		"ts":                release.Ts,
	}).Info("new release")
	return nil
}

var _ lot.ReleaseSink = (*ReleasePublisher)(nil)
