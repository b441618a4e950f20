// Package shutdown implements the four-phase graceful termination protocol
// used whenever a running agent invocation must be stopped, plus a
// combinator for merging cancellation sources.
package shutdown

import (
	"context"
	"errors"
	"time"

	"github.com/avandras/agentcore/internal/logging"
)

// Phase identifies which step of the protocol concluded a shutdown.
type Phase string

const (
	// PhaseSignal only fires the cancellation; it never concludes alone.
	PhaseSignal Phase = "signal"
	// PhaseGrace concluded: the invocation settled within the grace window.
	PhaseGrace Phase = "grace"
	// PhaseFlush is the partial-findings persistence step.
	PhaseFlush Phase = "flush"
	// PhaseForce concluded: the grace window expired.
	PhaseForce Phase = "force"
)

// Defaults for the protocol windows.
const (
	// DefaultGracePeriod is how long the invocation gets to settle after
	// the cancellation signal.
	DefaultGracePeriod = 5 * time.Second
	// DefaultFlushTimeout bounds the flush callback on a forced shutdown.
	DefaultFlushTimeout = 2 * time.Second
)

// ErrShutdownRequested is the cancellation cause delivered during the
// signal phase.
var ErrShutdownRequested = errors.New("shutdown requested")

// FlushFunc persists partial findings for an invocation being shut down.
type FlushFunc func(ctx context.Context) error

// Invocation is the handle to one running agent invocation.
type Invocation struct {
	// Cancel aborts the invocation's cancellation token with a cause.
	Cancel context.CancelCauseFunc
	// Done is closed when the invocation settles.
	Done <-chan struct{}
	// Flush optionally persists partial findings. May be nil.
	Flush FlushFunc
}

// Result records how a shutdown concluded.
type Result struct {
	// Phase is the step that concluded the shutdown (grace or force).
	Phase Phase
	// Graceful is true when the invocation settled within the window.
	Graceful bool
	// Flushed is true when the flush callback ran without error.
	Flushed bool
	// Elapsed is the wall-clock time the protocol took.
	Elapsed time.Duration
}

// Protocol drives the four-phase termination sequence:
// Signal -> Grace -> Flush -> Force.
type Protocol struct {
	gracePeriod  time.Duration
	flushTimeout time.Duration
	logger       *logging.DebugLogger
}

// Option customizes a Protocol.
type Option func(*Protocol)

// WithGracePeriod overrides the grace window.
func WithGracePeriod(d time.Duration) Option {
	return func(p *Protocol) {
		if d > 0 {
			p.gracePeriod = d
		}
	}
}

// WithFlushTimeout overrides the forced-flush bound.
func WithFlushTimeout(d time.Duration) Option {
	return func(p *Protocol) {
		if d > 0 {
			p.flushTimeout = d
		}
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *logging.DebugLogger) Option {
	return func(p *Protocol) { p.logger = l }
}

// NewProtocol creates a Protocol with default windows.
func NewProtocol(opts ...Option) *Protocol {
	p := &Protocol{
		gracePeriod:  DefaultGracePeriod,
		flushTimeout: DefaultFlushTimeout,
		logger:       logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Shutdown terminates one running invocation. Signal aborts the
// invocation's cancellation token; Grace races settlement against the
// window; Flush persists partial findings (unbounded when graceful,
// bounded when forced; failures are logged, never returned); Force
// concludes with graceful=false when the window expires. The result
// records the concluding phase and elapsed time.
func (p *Protocol) Shutdown(ctx context.Context, inv Invocation) Result {
	start := time.Now()

	// Signal.
	if inv.Cancel != nil {
		inv.Cancel(ErrShutdownRequested)
	}

	// Grace.
	graceful := false
	if inv.Done != nil {
		timer := time.NewTimer(p.gracePeriod)
		select {
		case <-inv.Done:
			graceful = true
		case <-timer.C:
		}
		timer.Stop()
	}

	// Flush. Best-effort when graceful, bounded when forced.
	flushed := false
	if inv.Flush != nil {
		flushCtx := ctx
		if !graceful {
			var cancel context.CancelFunc
			flushCtx, cancel = context.WithTimeout(ctx, p.flushTimeout)
			defer cancel()
		}
		if err := inv.Flush(flushCtx); err != nil {
			p.logger.Log("[shutdown] flush failed: %v", err)
		} else {
			flushed = true
		}
	}

	result := Result{
		Graceful: graceful,
		Flushed:  flushed,
		Elapsed:  time.Since(start),
	}
	if graceful {
		result.Phase = PhaseGrace
	} else {
		result.Phase = PhaseForce
	}

	p.logger.Log("[shutdown] concluded phase=%s graceful=%v elapsed=%v",
		result.Phase, result.Graceful, result.Elapsed)

	return result
}

// MergeCancel combines several cancellation sources into one context that
// is cancelled when the first source fires, propagating that source's
// cause. The returned stop function releases the watcher goroutines; the
// merged context is cancelled with context.Canceled if stop is called
// before any source fires.
func MergeCancel(parents ...context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancelCause(context.Background())

	for _, parent := range parents {
		go func(parent context.Context) {
			select {
			case <-parent.Done():
				cancel(context.Cause(parent))
			case <-merged.Done():
			}
		}(parent)
	}

	return merged, func() { cancel(context.Canceled) }
}
