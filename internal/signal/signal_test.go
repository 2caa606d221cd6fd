package signal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestOnCancelRunsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	stop := OnCancel(ctx, func() { close(ran) })
	defer stop()

	cancel()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("fn not called after cancel")
	}
}

func TestOnCancelStopPreventsCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	stop := OnCancel(ctx, func() { calls.Add(1) })
	stop()
	cancel()

	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("fn called %d times after stop", n)
	}
}

func TestOnCancelStopBeforeCancelNeverCalls(t *testing.T) {
	var calls atomic.Int32
	for range 200 {
		ctx, cancel := context.WithCancel(context.Background())
		stop := OnCancel(ctx, func() { calls.Add(1) })
		stop()
		cancel()
		stop()
	}

	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("fn called %d times after stop", n)
	}
}
