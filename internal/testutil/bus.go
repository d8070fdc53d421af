// Package testutil provides helpers for tile and dashboard tests: a running
// bus, mock data adapters and golden snapshot comparison.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/czcorpus/wag-sub001/internal/action"
)

// WaitTimeout bounds every wait in helpers of this package.
const WaitTimeout = 3 * time.Second

// StartBus starts a bus stopped at the end of the test.
func StartBus(t *testing.T) *action.Bus {
	t.Helper()
	bus := action.NewBus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bus.Run(ctx) }()
	return bus
}

// Next returns the next action of sub, failing the test after WaitTimeout.
func Next(t *testing.T, sub *action.Subscription) action.Action {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	defer cancel()
	a, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("waiting for action: %v", err)
	}
	return a
}

// NoMore fails the test when sub receives anything within d.
func NoMore(t *testing.T, sub *action.Subscription, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if a, err := sub.Next(ctx); err == nil {
		t.Fatalf("unexpected action %s %+v", a.Name, a.Payload)
	}
}

// Results subscribes to TileDataLoaded of tileIDs (any round).
func Results(bus action.Dispatcher, tileIDs ...int) *action.Subscription {
	return bus.Subscribe(func(a action.Action) bool {
		if a.Name != action.TileDataLoaded {
			return false
		}
		id, _ := a.TileID()
		for _, t := range tileIDs {
			if t == id {
				return true
			}
		}
		return false
	})
}

// Named subscribes to all actions called name.
func Named(bus action.Dispatcher, name action.Name) *action.Subscription {
	return bus.Subscribe(func(a action.Action) bool { return a.Name == name })
}

// Request builds a RequestQueryResponse for round.
func Request(round uint64, req action.QueryRequest) action.Action {
	req.Round = round
	return action.Action{Name: action.RequestQueryResponse, Payload: req}
}

// Eventually polls cond until it holds, failing after WaitTimeout.
func Eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(WaitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
