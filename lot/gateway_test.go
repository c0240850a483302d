package lot

import (
	"context"
	"sync"

	"github.com/round-cube/parking-dashboard/gateway"
)

type fakeGateway struct {
	mu         sync.Mutex
	stats      gateway.Stats
	statsErr   error
	sessions   []gateway.Session
	activeErr  error
	fee        float64
	releaseErr error

	// blockStats and blockRelease make the call wait for its context and
	// fail the way a timed out transport does.
	blockStats   bool
	blockRelease bool

	// activeHook runs once, on the next ListActive call, before it returns.
	activeHook  func()
	releaseHook func()

	statsCalls   int
	activeCalls  int
	releaseCalls int
	released     []SessionID
}

func (f *fakeGateway) Stats(ctx context.Context) (gateway.Stats, error) {
	f.mu.Lock()
	f.statsCalls++
	stats, err, block := f.stats, f.statsErr, f.blockStats
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return gateway.Stats{}, &gateway.NetworkError{Op: "get stats", Err: ctx.Err()}
	}
	return stats, err
}

func (f *fakeGateway) ListActive(ctx context.Context) ([]gateway.Session, error) {
	f.mu.Lock()
	f.activeCalls++
	sessions := append([]gateway.Session(nil), f.sessions...)
	err := f.activeErr
	hook := f.activeHook
	f.activeHook = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return sessions, err
}

func (f *fakeGateway) Release(ctx context.Context, id SessionID) (float64, error) {
	f.mu.Lock()
	f.releaseCalls++
	fee, err := f.fee, f.releaseErr
	hook := f.releaseHook
	if f.blockRelease {
		f.mu.Unlock()
		<-ctx.Done()
		return 0, &gateway.NetworkError{Op: "release", Err: ctx.Err()}
	}
	if err == nil {
		f.released = append(f.released, id)
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return fee, err
}

func (f *fakeGateway) set(fn func(f *fakeGateway)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeGateway) calls() (stats, active, release int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls, f.activeCalls, f.releaseCalls
}
