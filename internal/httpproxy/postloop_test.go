package httpproxy

import (
	"context"
	"testing"
	"time"
)

func TestSumMetrics(t *testing.T) {
	a := &Metrics{}
	a.connectionOpened()
	a.connectionOpened()
	a.connectionClosed()
	a.clientToServerBytes.Add(100)

	b := &Metrics{}
	b.connectionOpened()
	b.serverToClientBytes.Add(50)

	sum := sumMetrics([]*Metrics{a, b})
	if sum.NumConnections != 3 {
		t.Errorf("NumConnections = %d, want 3", sum.NumConnections)
	}
	if sum.ActiveConnections != 2 {
		t.Errorf("ActiveConnections = %d, want 2", sum.ActiveConnections)
	}
	if sum.ClientToServerBytes != 100 || sum.ServerToClientBytes != 50 {
		t.Errorf("bytes = (%d, %d), want (100, 50)", sum.ClientToServerBytes, sum.ServerToClientBytes)
	}
}

func TestMetricsPostLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- RunMetricsPostLoop(ctx, nil, "id", nil, nil)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunMetricsPostLoop = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancelled context")
	}
}
