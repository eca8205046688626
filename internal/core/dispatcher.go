package core

import (
	"context"
	"time"

	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/observability"

	"github.com/rs/zerolog"
)

// ErrDispatcherStopped is returned to callers once Run has exited.
var ErrDispatcherStopped = ledgererr.New(ledgererr.Unavailable, "ledger core is not running")

// Dispatcher owns the DeterministicCore goroutine. Commands and reads from
// every live ingress (gRPC, NATS, in-process keepers) are serialized through
// one channel, so the core itself needs no locking.
//
// The dispatcher is also the ledger clock. Every command is stamped with the
// time it is served, never a time chosen by the client, and stamps never go
// backwards. Replay bypasses the dispatcher and keeps the logged stamps.
type Dispatcher struct {
	core     *DeterministicCore
	requests chan request
	done     chan struct{}
	now      func() time.Time
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock replaces time.Now as the ledger clock.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

type request struct {
	evt   event.Event
	read  func(View)
	reply chan reply
}

type reply struct {
	result *Result
	err    error
}

func NewDispatcher(core *DeterministicCore, queueSize int, metrics *observability.Metrics, logger zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		core:     core,
		requests: make(chan request, queueSize),
		done:     make(chan struct{}),
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run serves requests until ctx is cancelled. Requests already accepted are
// answered before it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		case req := <-d.requests:
			d.serve(req)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.requests:
			d.serve(req)
		default:
			return
		}
	}
}

func (d *Dispatcher) serve(req request) {
	if d.metrics != nil {
		d.metrics.DispatchQueueLength.Set(float64(len(d.requests)))
	}
	if req.read != nil {
		req.read(d.core)
		req.reply <- reply{}
		return
	}

	event.Stamp(req.evt, d.stamp())
	result, err := d.core.ProcessEvent(req.evt)
	if err != nil {
		code, _ := ledgererr.CodeOf(err)
		log := observability.CommandLogger(d.logger, req.evt)
		log.Debug().
			Str("code", string(code)).
			Err(err).
			Msg("command rejected")
	}
	req.reply <- reply{result: result, err: err}
}

// stamp is the ledger time for the next command: the clock at microsecond
// precision, held at the last applied stamp if the clock stepped back.
func (d *Dispatcher) stamp() time.Time {
	now := d.now().UTC().Truncate(time.Microsecond)
	if last := d.core.LastTimestamp(); now.UnixMicro() < last {
		return time.UnixMicro(last).UTC()
	}
	return now
}

// Submit applies one command and waits for its outcome. Its timestamp is
// overwritten with the ledger clock. If ctx ends after the command was
// queued it may still apply; resubmitting the same command is then reported
// as a duplicate.
func (d *Dispatcher) Submit(ctx context.Context, evt event.Event) (*Result, error) {
	req := request{evt: evt, reply: make(chan reply, 1)}
	if err := d.enqueue(ctx, req); err != nil {
		return nil, err
	}
	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-d.done:
		select {
		case r := <-req.reply:
			return r.result, r.err
		default:
			return nil, ErrDispatcherStopped
		}
	case <-ctx.Done():
		return nil, ledgererr.Wrap(ledgererr.Timeout, ctx.Err(), "waiting for ledger core")
	}
}

// Read runs fn on the core goroutine.
func (d *Dispatcher) Read(ctx context.Context, fn func(View)) error {
	req := request{read: fn, reply: make(chan reply, 1)}
	if err := d.enqueue(ctx, req); err != nil {
		return err
	}
	select {
	case <-req.reply:
		return nil
	case <-ctx.Done():
		return ledgererr.Wrap(ledgererr.Timeout, ctx.Err(), "waiting for ledger core")
	}
}

// Snapshot captures the core state between two commands.
func (d *Dispatcher) Snapshot(ctx context.Context) (*SnapshotState, error) {
	var snap *SnapshotState
	err := d.Read(ctx, func(View) { snap = d.core.CreateSnapshotState() })
	return snap, err
}

func (d *Dispatcher) enqueue(ctx context.Context, req request) error {
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.requests <- req:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ledgererr.Wrap(ledgererr.Timeout, ctx.Err(), "ledger core queue full")
	}
}
