package lot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/round-cube/parking-dashboard/clock"
	"github.com/round-cube/parking-dashboard/gateway"
	"github.com/round-cube/parking-dashboard/notify"
)

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

const (
	waitFor  = 2 * time.Second
	waitTick = 5 * time.Millisecond
)

func gwSession(id, plate string, entry time.Time) gateway.Session {
	return gateway.Session{ID: SessionID(id), PlateNumber: plate, VehicleType: "car", EntryTime: entry}
}

func newTestDashboard(t *testing.T, gw Gateway, opts ...Option) (*Dashboard, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	d := New(gw, clk, DefaultConfig(), opts...)
	t.Cleanup(d.Stop)
	return d, clk
}

func ids(snap Snapshot) []SessionID {
	out := make([]SessionID, 0, len(snap.Sessions))
	for _, s := range snap.Sessions {
		out = append(out, s.ID)
	}
	return out
}

func TestInitialSnapshotIsLoading(t *testing.T) {
	d, _ := newTestDashboard(t, &fakeGateway{})
	snap := d.Snapshot()
	assert.True(t, snap.Loading)
	assert.NotNil(t, snap.Sessions)
	assert.Empty(t, snap.Sessions)
	assert.Zero(t, snap.Generation)
	assert.Equal(t, LotStats{AvailableSlots: 50}, snap.Stats)
}

func TestCapacitySeedsAvailableSlots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 120
	d := New(&fakeGateway{}, clock.NewFake(epoch), cfg)
	t.Cleanup(d.Stop)
	assert.Equal(t, 120, d.Snapshot().Stats.AvailableSlots)

	require.NoError(t, d.Poll(context.Background()))
	assert.Zero(t, d.Snapshot().Stats.AvailableSlots)
}

func TestPollReplacesState(t *testing.T) {
	gw := &fakeGateway{
		stats:    gateway.Stats{ActiveVehicles: 1, AvailableSlots: 49, DailyEarnings: 300},
		sessions: []gateway.Session{gwSession("1", "BA 12 PA 3456", epoch)},
	}
	d, clk := newTestDashboard(t, gw)
	clk.Set(epoch.Add(5 * time.Second))

	require.NoError(t, d.Poll(context.Background()))

	snap := d.Snapshot()
	assert.False(t, snap.Loading)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, LotStats{ActiveVehicles: 1, AvailableSlots: 49, DailyEarnings: 300}, snap.Stats)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "BA 12 PA 3456", snap.Sessions[0].PlateNumber)
	assert.Equal(t, "00:00:05", snap.Sessions[0].Duration)
	assert.Empty(t, snap.Notifications)
}

func TestPollLastWriteWins(t *testing.T) {
	gw := &fakeGateway{}
	d, _ := newTestDashboard(t, gw)

	for i := 1; i <= 5; i++ {
		stats := gateway.Stats{ActiveVehicles: i, AvailableSlots: 50 - i, DailyEarnings: float64(i) * 12.5}
		gw.set(func(f *fakeGateway) { f.stats = stats })
		require.NoError(t, d.Poll(context.Background()))

		snap := d.Snapshot()
		assert.Equal(t, 50-i, snap.Stats.AvailableSlots)
		assert.Equal(t, float64(i)*12.5, snap.Stats.DailyEarnings)
	}
}

func TestPollReplacesSessionsWholesale(t *testing.T) {
	gw := &fakeGateway{sessions: []gateway.Session{
		gwSession("1", "A", epoch),
		gwSession("2", "B", epoch),
	}}
	d, _ := newTestDashboard(t, gw)
	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, []SessionID{"1", "2"}, ids(d.Snapshot()))

	gw.set(func(f *fakeGateway) {
		f.sessions = []gateway.Session{gwSession("2", "B", epoch), gwSession("3", "C", epoch)}
	})
	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, []SessionID{"2", "3"}, ids(d.Snapshot()))

	gw.set(func(f *fakeGateway) { f.sessions = nil })
	require.NoError(t, d.Poll(context.Background()))
	assert.Empty(t, d.Snapshot().Sessions)
}

func TestEntryTimeEchoedAcrossPolls(t *testing.T) {
	gw := &fakeGateway{sessions: []gateway.Session{gwSession("1", "A", epoch)}}
	d, clk := newTestDashboard(t, gw)

	require.NoError(t, d.Poll(context.Background()))
	clk.Advance(10 * time.Second)
	require.NoError(t, d.Poll(context.Background()))

	snap := d.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.True(t, epoch.Equal(snap.Sessions[0].EntryTime))
	assert.Equal(t, "00:00:10", snap.Sessions[0].Duration)
}

func TestFailedPollKeepsState(t *testing.T) {
	gw := &fakeGateway{
		stats:    gateway.Stats{ActiveVehicles: 1, AvailableSlots: 49, DailyEarnings: 80},
		sessions: []gateway.Session{gwSession("1", "A", epoch)},
	}
	d, _ := newTestDashboard(t, gw)
	require.NoError(t, d.Poll(context.Background()))
	before := d.Snapshot()

	gw.set(func(f *fakeGateway) {
		f.statsErr = &gateway.NetworkError{Op: "get stats", Err: errors.New("connection refused")}
		f.activeErr = &gateway.MalformedResponseError{Op: "list active", Err: errors.New("bad json")}
		f.stats = gateway.Stats{}
		f.sessions = nil
	})
	err := d.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrNetwork))
	assert.True(t, errors.Is(err, gateway.ErrMalformed))

	after := d.Snapshot()
	assert.Equal(t, before.Stats, after.Stats)
	assert.Equal(t, before.Sessions, after.Sessions)
	require.Len(t, after.Notifications, 1)
	assert.Equal(t, syncFailedMessage, after.Notifications[0].Message)
	assert.Equal(t, notify.Error, after.Notifications[0].Severity)
}

func TestPartialPollFailure(t *testing.T) {
	gw := &fakeGateway{stats: gateway.Stats{AvailableSlots: 50}}
	d, _ := newTestDashboard(t, gw)
	require.NoError(t, d.Poll(context.Background()))

	gw.set(func(f *fakeGateway) {
		f.statsErr = &gateway.RejectedError{Op: "get stats", Reason: "db down"}
		f.stats = gateway.Stats{AvailableSlots: 1}
		f.sessions = []gateway.Session{gwSession("7", "G", epoch)}
	})
	require.Error(t, d.Poll(context.Background()))

	snap := d.Snapshot()
	assert.Equal(t, 50, snap.Stats.AvailableSlots)
	assert.Equal(t, []SessionID{"7"}, ids(snap))
	assert.Len(t, snap.Notifications, 1)
}

func TestPollingContinuesAfterFailure(t *testing.T) {
	gw := &fakeGateway{statsErr: &gateway.NetworkError{Op: "get stats", Err: errors.New("down")}}
	d, clk := newTestDashboard(t, gw)

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 1 }, waitFor, waitTick)

	gw.set(func(f *fakeGateway) {
		f.statsErr = nil
		f.stats = gateway.Stats{AvailableSlots: 12}
	})
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 2 }, waitFor, waitTick)
	assert.Equal(t, 12, d.Snapshot().Stats.AvailableSlots)
}

func TestStartPollsImmediatelyThenOnInterval(t *testing.T) {
	gw := &fakeGateway{}
	d, clk := newTestDashboard(t, gw)

	d.Start(context.Background())
	require.Eventually(t, func() bool { s, _, _ := gw.calls(); return s == 1 }, waitFor, waitTick)

	clk.Advance(9 * time.Second)
	s, _, _ := gw.calls()
	assert.Equal(t, 1, s)

	clk.Advance(time.Second)
	require.Eventually(t, func() bool { s, _, _ := gw.calls(); return s == 2 }, waitFor, waitTick)

	d.Stop()
	clk.Advance(30 * time.Second)
	s, a, _ := gw.calls()
	assert.Equal(t, 2, s)
	assert.Equal(t, 2, a)
}

func TestStartTwiceIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	d, _ := newTestDashboard(t, gw)

	d.Start(context.Background())
	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 1 }, waitFor, waitTick)
	d.Stop()

	s, _, _ := gw.calls()
	assert.Equal(t, 1, s)
}

func TestTickAdvancesDurationsBetweenPolls(t *testing.T) {
	gw := &fakeGateway{sessions: []gateway.Session{gwSession("1", "A", epoch)}}
	d, clk := newTestDashboard(t, gw)

	var mu sync.Mutex
	var durations []string
	d.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(s.Sessions) == 1 {
			durations = append(durations, s.Sessions[0].Duration)
		}
	})

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 1 }, waitFor, waitTick)

	clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(durations) > 0 && durations[len(durations)-1] == "00:00:01"
	}, waitFor, waitTick)

	clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return durations[len(durations)-1] == "00:00:02"
	}, waitFor, waitTick)

	s, _, _ := gw.calls()
	assert.Equal(t, 1, s)
}

func TestUnsubscribe(t *testing.T) {
	d, _ := newTestDashboard(t, &fakeGateway{})
	calls := 0
	unsubscribe := d.Subscribe(func(Snapshot) { calls++ })

	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, 1, calls)

	unsubscribe()
	require.NoError(t, d.Poll(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestStopDropsInFlightPoll(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	gw := &fakeGateway{
		stats:      gateway.Stats{AvailableSlots: 3},
		sessions:   []gateway.Session{gwSession("1", "A", epoch)},
		activeHook: func() { close(entered); <-gate },
	}
	d, _ := newTestDashboard(t, gw)

	result := make(chan error, 1)
	go func() { result <- d.Poll(context.Background()) }()
	<-entered
	d.Stop()
	close(gate)

	assert.ErrorIs(t, <-result, ErrClosed)
	snap := d.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Equal(t, LotStats{AvailableSlots: 50}, snap.Stats)
	assert.ErrorIs(t, d.Poll(context.Background()), ErrClosed)
}

func TestForcePollWhenIdle(t *testing.T) {
	gw := &fakeGateway{}
	d, _ := newTestDashboard(t, gw)

	d.ForcePoll()
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 1 }, waitFor, waitTick)
}

func TestForcePollWhileRunning(t *testing.T) {
	gw := &fakeGateway{}
	d, _ := newTestDashboard(t, gw)

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 1 }, waitFor, waitTick)

	d.ForcePoll()
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 2 }, waitFor, waitTick)
}

func TestForcePollAfterStopIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	d, _ := newTestDashboard(t, gw)
	d.Stop()

	d.ForcePoll()
	assert.Never(t, func() bool { s, _, _ := gw.calls(); return s > 0 }, 50*time.Millisecond, waitTick)
}

func TestTimedOutPollNotifies(t *testing.T) {
	gw := &fakeGateway{
		blockStats: true,
		sessions:   []gateway.Session{gwSession("1", "A", epoch)},
	}
	d, _ := newTestDashboard(t, gw)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Poll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap := d.Snapshot()
	assert.Equal(t, []SessionID{"1"}, ids(snap))
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, syncFailedMessage, snap.Notifications[0].Message)
	assert.Equal(t, notify.Error, snap.Notifications[0].Severity)
}

func TestCancelledPollIsQuiet(t *testing.T) {
	d, _ := newTestDashboard(t, &fakeGateway{blockStats: true})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- d.Poll(ctx) }()
	cancel()

	assert.ErrorIs(t, <-result, context.Canceled)
	assert.Empty(t, d.Snapshot().Notifications)
}

func TestForcePollTimeoutWhenIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	d := New(&fakeGateway{blockStats: true}, clock.NewFake(epoch), cfg)
	t.Cleanup(d.Stop)

	d.ForcePoll()
	require.Eventually(t, func() bool { return len(d.Snapshot().Notifications) == 1 }, waitFor, waitTick)
	assert.Equal(t, syncFailedMessage, d.Snapshot().Notifications[0].Message)
}

func TestForcePollAfterParentCancel(t *testing.T) {
	gw := &fakeGateway{}
	d, _ := newTestDashboard(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 1 }, waitFor, waitTick)

	cancel()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return !d.running
	}, waitFor, waitTick)

	d.ForcePoll()
	require.Eventually(t, func() bool { return d.Snapshot().Generation == 2 }, waitFor, waitTick)
}

func TestObserversSeeSnapshotsInOrder(t *testing.T) {
	gw := &fakeGateway{sessions: []gateway.Session{gwSession("1", "A", epoch)}}
	d, _ := newTestDashboard(t, gw)

	var mu sync.Mutex
	var seen []uint64
	d.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Generation)
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Poll(context.Background())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 50)
	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, seen[i-1], seen[i], "snapshot %d delivered after a newer one", i)
	}
	assert.Equal(t, uint64(50), seen[len(seen)-1])
}
