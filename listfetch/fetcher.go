// Package listfetch loads pages of a list view so that only the most
// recently requested page is ever committed. A newer Load cancels the
// request it replaces, and whatever the replaced request returns later
// (data or error) is dropped.
package listfetch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSuperseded is returned by Do when a newer load replaced the request.
// It never reaches the OnCommit callback.
var ErrSuperseded = errors.New("list load superseded by a newer request")

// State of a Fetcher
type State int

const (
	Idle State = iota
	Loading
	Settled
	Superseded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Settled:
		return "settled"
	case Superseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// FetchFunc loads one page for params. It must honour ctx cancellation
// where the transport allows it; results arriving after cancellation are
// discarded anyway.
type FetchFunc[P, T any] func(ctx context.Context, params P) (T, error)

// Result is what gets committed for the current generation
type Result[P, T any] struct {
	Generation uuid.UUID
	Params     P
	Value      T
	Err        error
}

// Fetcher owns the outstanding request of one list view
type Fetcher[P, T any] struct {
	fetch    FetchFunc[P, T]
	onCommit func(Result[P, T])
	log      zerolog.Logger

	mu      sync.Mutex
	current *request
	state   State
	last    *Result[P, T]

	// requests started but not yet settled, including cancelled ones
	pending int
	drained *sync.Cond
}

type request struct {
	gen    uuid.UUID
	cancel context.CancelFunc
}

// Option configures a Fetcher
type Option[P, T any] func(*Fetcher[P, T])

// OnCommit sets the callback receiving results of the current generation.
// It runs with the fetcher's lock held and must not call back into the
// fetcher on the same goroutine.
func OnCommit[P, T any](fn func(Result[P, T])) Option[P, T] {
	return func(f *Fetcher[P, T]) { f.onCommit = fn }
}

// WithLogger sets the logger used for debug tracing of supersessions
func WithLogger[P, T any](log zerolog.Logger) Option[P, T] {
	return func(f *Fetcher[P, T]) { f.log = log }
}

// New creates an idle fetcher
func New[P, T any](fetch FetchFunc[P, T], opts ...Option[P, T]) *Fetcher[P, T] {
	f := &Fetcher[P, T]{
		fetch: fetch,
		log:   zerolog.Nop(),
		state: Idle,
	}
	f.drained = sync.NewCond(&f.mu)
	for _, o := range opts {
		o(f)
	}
	return f
}

// Load starts a request for params and returns its generation. Any
// outstanding request is cancelled and its result will be discarded.
func (f *Fetcher[P, T]) Load(params P) uuid.UUID {
	return f.start(context.Background(), params, nil)
}

// LoadContext is Load with a parent context for the request
func (f *Fetcher[P, T]) LoadContext(ctx context.Context, params P) uuid.UUID {
	return f.start(ctx, params, nil)
}

// Do loads params and waits for the outcome. If a newer load supersedes
// this one before it settles, Do returns ErrSuperseded.
func (f *Fetcher[P, T]) Do(ctx context.Context, params P) (T, error) {
	done := make(chan Result[P, T], 1)
	f.start(ctx, params, done)
	res := <-done
	return res.Value, res.Err
}

func (f *Fetcher[P, T]) start(ctx context.Context, params P, done chan<- Result[P, T]) uuid.UUID {
	rctx, cancel := context.WithCancel(ctx)
	req := &request{gen: uuid.New(), cancel: cancel}

	f.mu.Lock()
	if prev := f.current; prev != nil {
		prev.cancel()
		f.log.Debug().Str("generation", prev.gen.String()).Msg("list load superseded")
	}
	f.current = req
	f.state = Loading
	f.pending++
	f.mu.Unlock()

	go func() {
		defer cancel()

		v, err := f.fetch(rctx, params)
		f.settle(ctx, req, Result[P, T]{Generation: req.gen, Params: params, Value: v, Err: err}, done)
	}()

	return req.gen
}

func (f *Fetcher[P, T]) settle(parent context.Context, req *request, res Result[P, T], done chan<- Result[P, T]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending--
	if f.pending == 0 {
		defer f.drained.Broadcast()
	}

	if f.current != req {
		if f.current == nil && f.pending == 0 && f.state == Superseded {
			// cancelled with no replacement and nothing left in flight
			f.state = Idle
		}
		f.log.Debug().
			Str("generation", req.gen.String()).
			AnErr("discarded_err", res.Err).
			Msg("dropping result of superseded list load")
		if done != nil {
			var zero T
			done <- Result[P, T]{Generation: req.gen, Params: res.Params, Value: zero, Err: ErrSuperseded}
		}
		return
	}

	f.current = nil
	if err := parent.Err(); err != nil && res.Err != nil && errors.Is(res.Err, err) {
		// the caller gave up; an aborted request is not a load failure
		f.state = Idle
		f.log.Debug().
			Str("generation", req.gen.String()).
			AnErr("discarded_err", res.Err).
			Msg("dropping result of aborted list load")
		if done != nil {
			var zero T
			done <- Result[P, T]{Generation: req.gen, Params: res.Params, Value: zero, Err: err}
		}
		return
	}

	f.state = Settled
	f.last = &res
	if f.onCommit != nil {
		f.onCommit(res)
	}
	if done != nil {
		done <- res
	}
}

// Cancel aborts the outstanding request, if any, without starting a new one
func (f *Fetcher[P, T]) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return
	}
	f.current.cancel()
	f.current = nil
	f.state = Superseded
}

// State reports the fetcher's state. After a load is replaced the state
// is Loading again; Superseded is only observed after Cancel until the
// cancelled request drains.
func (f *Fetcher[P, T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Current returns the generation of the outstanding request
func (f *Fetcher[P, T]) Current() (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return uuid.Nil, false
	}
	return f.current.gen, true
}

// Last returns the most recently committed result
func (f *Fetcher[P, T]) Last() (Result[P, T], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return Result[P, T]{}, false
	}
	return *f.last, true
}

// Wait blocks until every started request, cancelled ones included, has
// settled. A Load racing with Wait may or may not be waited for.
func (f *Fetcher[P, T]) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pending > 0 {
		f.drained.Wait()
	}
}
