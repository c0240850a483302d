package lot

import (
	"context"
	"time"

	"github.com/round-cube/parking-dashboard/gateway"
	"github.com/round-cube/parking-dashboard/notify"
)

type SessionID = gateway.SessionID

// Gateway is the remote parking service. *gateway.Client implements it.
type Gateway interface {
	Stats(ctx context.Context) (gateway.Stats, error)
	ListActive(ctx context.Context) ([]gateway.Session, error)
	Release(ctx context.Context, id SessionID) (float64, error)
}

type ParkingSession struct {
	ID          SessionID `json:"id"`
	PlateNumber string    `json:"plate_number"`
	VehicleType string    `json:"vehicle_type"`
	EntryTime   time.Time `json:"entry_time"`
}

type LotStats struct {
	ActiveVehicles int     `json:"active_vehicles"`
	AvailableSlots int     `json:"available_slots"`
	DailyEarnings  float64 `json:"daily_earnings"`
}

type SessionView struct {
	ParkingSession
	Duration string `json:"duration"`
}

// Snapshot is a read-only copy of the dashboard state.
type Snapshot struct {
	Stats         LotStats              `json:"stats"`
	Sessions      []SessionView         `json:"sessions"`
	Notifications []notify.Notification `json:"notifications"`
	Loading       bool                  `json:"loading"`
	// Generation counts applied polls.
	Generation uint64    `json:"generation"`
	TakenAt    time.Time `json:"taken_at"`
}

type ReleaseEvent struct {
	Session    ParkingSession
	Fee        float64
	ReleasedAt time.Time
}

// ReleaseLocker serialises releases of one session across dashboard replicas.
type ReleaseLocker interface {
	Lock(ctx context.Context, id SessionID) (unlock func(), err error)
}

// ReleaseSink receives every successful release.
type ReleaseSink interface {
	Released(ctx context.Context, ev ReleaseEvent) error
}

func fromGatewayStats(s gateway.Stats) LotStats {
	return LotStats{
		ActiveVehicles: s.ActiveVehicles,
		AvailableSlots: s.AvailableSlots,
		DailyEarnings:  s.DailyEarnings,
	}
}

func fromGatewaySession(s gateway.Session) ParkingSession {
	return ParkingSession{
		ID:          s.ID,
		PlateNumber: s.PlateNumber,
		VehicleType: s.VehicleType,
		EntryTime:   s.EntryTime,
	}
}
