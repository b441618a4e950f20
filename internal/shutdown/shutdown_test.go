package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

// invocation builds a test handle whose Done channel closes when the
// cancellation fires (settleAfter >= 0) or never closes (settleAfter < 0).
func invocation(settleAfter time.Duration, flush FlushFunc) (Invocation, context.Context) {
	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan struct{})

	if settleAfter >= 0 {
		go func() {
			<-ctx.Done()
			time.Sleep(settleAfter)
			close(done)
		}()
	}

	return Invocation{Cancel: cancel, Done: done, Flush: flush}, ctx
}

func TestShutdownGraceful(t *testing.T) {
	p := NewProtocol(WithGracePeriod(200 * time.Millisecond))
	inv, ctx := invocation(10*time.Millisecond, nil)

	res := p.Shutdown(context.Background(), inv)

	if res.Phase != PhaseGrace || !res.Graceful {
		t.Errorf("expected graceful grace-phase result, got %+v", res)
	}
	if !errors.Is(context.Cause(ctx), ErrShutdownRequested) {
		t.Errorf("expected shutdown cause, got %v", context.Cause(ctx))
	}
}

func TestShutdownForced(t *testing.T) {
	grace := 50 * time.Millisecond
	p := NewProtocol(WithGracePeriod(grace))
	inv, _ := invocation(-1, nil)

	start := time.Now()
	res := p.Shutdown(context.Background(), inv)
	elapsed := time.Since(start)

	if res.Phase != PhaseForce || res.Graceful {
		t.Errorf("expected forced result, got %+v", res)
	}
	if elapsed < grace {
		t.Errorf("force must wait out the grace window, returned after %v", elapsed)
	}
	if res.Elapsed < grace {
		t.Errorf("recorded elapsed %v shorter than grace window", res.Elapsed)
	}
}

func TestShutdownFlushRuns(t *testing.T) {
	p := NewProtocol(WithGracePeriod(200 * time.Millisecond))

	flushed := false
	inv, _ := invocation(0, func(ctx context.Context) error {
		flushed = true
		return nil
	})

	res := p.Shutdown(context.Background(), inv)
	if !flushed || !res.Flushed {
		t.Errorf("expected flush to run, got %+v", res)
	}
}

func TestShutdownFlushFailureNeverPropagates(t *testing.T) {
	p := NewProtocol(WithGracePeriod(100 * time.Millisecond))
	inv, _ := invocation(0, func(ctx context.Context) error {
		return errors.New("disk full")
	})

	res := p.Shutdown(context.Background(), inv)
	if res.Flushed {
		t.Error("failed flush must not report flushed")
	}
	if res.Phase != PhaseGrace {
		t.Errorf("flush failure must not change the concluding phase, got %v", res.Phase)
	}
}

func TestShutdownForcedFlushBounded(t *testing.T) {
	p := NewProtocol(
		WithGracePeriod(20*time.Millisecond),
		WithFlushTimeout(50*time.Millisecond),
	)

	var sawDeadline bool
	inv, _ := invocation(-1, func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})

	res := p.Shutdown(context.Background(), inv)
	if res.Phase != PhaseForce {
		t.Fatalf("expected forced shutdown, got %v", res.Phase)
	}
	if !sawDeadline {
		t.Error("forced flush must run under a deadline")
	}
}

func TestMergeCancelPropagatesFirstCause(t *testing.T) {
	causeErr := errors.New("task timeout")

	a, cancelA := context.WithCancelCause(context.Background())
	b := context.Background()

	merged, stop := MergeCancel(a, b)
	defer stop()

	cancelA(causeErr)

	select {
	case <-merged.Done():
	case <-time.After(time.Second):
		t.Fatal("merged context never fired")
	}

	if !errors.Is(context.Cause(merged), causeErr) {
		t.Errorf("expected cause %v, got %v", causeErr, context.Cause(merged))
	}
}

func TestMergeCancelStopReleases(t *testing.T) {
	a := context.Background()
	merged, stop := MergeCancel(a)

	stop()

	select {
	case <-merged.Done():
	case <-time.After(time.Second):
		t.Fatal("stop must cancel the merged context")
	}
	if !errors.Is(context.Cause(merged), context.Canceled) {
		t.Errorf("expected context.Canceled cause, got %v", context.Cause(merged))
	}
}
