// Package flow runs the lifecycle of a processor graph
//
//	VOID <-> WAITING <-> FLOWING      one step at a time
//	VOID, WAITING, FLOWING -> COMPLETED  only with SetCompleted
//
// Non terminal transitions go through Hooks. A transition is pending until
// the hook calls done, and only one transition can be pending.
package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/mflow/mflow/pkg/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State byte

const (
	StateVoid State = iota
	StateWaiting
	StateFlowing
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateVoid:
		return "VOID"
	case StateWaiting:
		return "WAITING"
	case StateFlowing:
		return "FLOWING"
	case StateCompleted:
		return "COMPLETED"
	}
	return fmt.Sprintf("STATE(%d)", byte(s))
}

type ResultCode byte

const (
	ResultOK ResultCode = iota
	ResultFailed
)

func (c ResultCode) String() string {
	if c == ResultOK {
		return "OK"
	}
	return "FAILED"
}

type CompletionResult struct {
	Code ResultCode
	Data any
}

var (
	ErrStateChangePending   = errors.New("flow: state change already pending")
	ErrStateChangeAborted   = errors.New("flow: state change aborted")
	ErrIllegalTransition    = errors.New("flow: illegal state transition")
	ErrUseSetCompleted      = errors.New("flow: use SetCompleted to complete")
	ErrFlowCompleted        = errors.New("flow: already completed")
	ErrFlowFailed           = errors.New("flow: failed")
	ErrNoPendingStateChange = errors.New("flow: no pending state change")
	ErrNotMember            = errors.New("flow: not a member")
)

// Hooks - asynchronous transition work, call done when the new state is reached.
// done can be called from any goroutine, calls after an abort are ignored.
type Hooks interface {
	OnVoidToWaiting(done func())
	OnWaitingToVoid(done func())
	OnWaitingToFlowing(done func())
	OnFlowingToWaiting(done func())
}

// BaseHooks - every transition finishes immediately
type BaseHooks struct{}

func (BaseHooks) OnVoidToWaiting(done func())    { done() }
func (BaseHooks) OnWaitingToVoid(done func())    { done() }
func (BaseHooks) OnWaitingToFlowing(done func()) { done() }
func (BaseHooks) OnFlowingToWaiting(done func()) { done() }

type EventType byte

const (
	EventStateChangePending EventType = iota + 1
	EventStateChanged
	EventStateChangeAborted
	EventCompleted
	EventError
)

type Event struct {
	Type     EventType
	Flow     *Flow
	State    State // new or pending state
	Previous State
	Result   *CompletionResult // for EventCompleted
	Err      error             // abort reason or flow error
}

type Option func(f *Flow)

// WithExecutor - executor for all added processors instead of the own
// Loop of the flow, core.Inline runs receivers on the sender stack
func WithExecutor(executor core.Executor) Option {
	return func(f *Flow) {
		f.executor = executor
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Flow) {
		f.log = l
	}
}

func WithName(name string) Option {
	return func(f *Flow) {
		f.Name = name
	}
}

type Flow struct {
	ID   string
	Name string

	hooks    Hooks
	executor core.Executor
	loop     *core.Loop // own executor, closed with the flow
	log      zerolog.Logger

	mu         sync.Mutex
	state      State
	previous   State
	pending    State
	hasPending bool
	token      uint64

	processors []*core.Processor
	unlisten   map[*core.Processor]func()
	sockets    []core.Socket

	result  *CompletionResult
	err     error
	failing bool
	done    chan struct{}

	listeners map[int]func(Event)
	listenID  int
}

func New(hooks Hooks, opts ...Option) *Flow {
	if hooks == nil {
		hooks = BaseHooks{}
	}
	f := &Flow{
		ID:        uuid.NewString(),
		hooks:     hooks,
		log:       log.Logger,
		unlisten:  map[*core.Processor]func(){},
		done:      make(chan struct{}),
		listeners: map[int]func(Event){},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.executor == nil {
		f.loop = core.NewLoop()
		f.executor = f.loop
	}
	return f
}

func (f *Flow) String() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// PendingState - target of the transition in flight
func (f *Flow) PendingState() (State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.hasPending
}

func (f *Flow) PreviousState() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previous
}

// SetState - start a transition to a non terminal state.
// Returns after the hook was called, the state changes when the hook calls done.
func (f *Flow) SetState(next State) error {
	f.mu.Lock()

	switch {
	case f.state == StateCompleted:
		f.mu.Unlock()
		return ErrFlowCompleted
	case next == StateCompleted:
		f.mu.Unlock()
		return ErrUseSetCompleted
	case f.hasPending:
		f.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrStateChangePending, f.state, f.pending)
	}

	hook := f.hook(f.state, next)
	if hook == nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f.state, next)
	}

	f.hasPending = true
	f.pending = next
	f.token++
	token := f.token
	current := f.state
	f.mu.Unlock()

	f.log.Debug().Msgf("[flow] id=%s pending %s -> %s", f, current, next)
	f.fire(Event{Type: EventStateChangePending, Flow: f, State: next, Previous: current})

	hook(func() {
		f.commit(token)
	})
	return nil
}

// ChangeState - SetState and wait until the state is reached
func (f *Flow) ChangeState(ctx context.Context, next State) error {
	ch := make(chan error, 1)
	send := func(err error) {
		select {
		case ch <- err:
		default:
		}
	}

	unlisten := f.Listen(func(event Event) {
		switch event.Type {
		case EventStateChanged:
			if event.State == next {
				send(nil)
			}
		case EventStateChangeAborted:
			send(fmt.Errorf("%w: %v", ErrStateChangeAborted, event.Err))
		case EventCompleted:
			send(ErrFlowCompleted)
		}
	})
	defer unlisten()

	if err := f.SetState(next); err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AbortPendingStateChange - forget the transition in flight, side effects
// of the hook are not rolled back
func (f *Flow) AbortPendingStateChange(reason error) error {
	f.mu.Lock()
	if !f.hasPending {
		f.mu.Unlock()
		return ErrNoPendingStateChange
	}
	pending := f.pending
	current := f.state
	f.hasPending = false
	f.token++
	f.mu.Unlock()

	f.log.Debug().Err(reason).Msgf("[flow] id=%s abort %s -> %s", f, current, pending)
	f.fire(Event{Type: EventStateChangeAborted, Flow: f, State: pending, Previous: current, Err: reason})
	return nil
}

// SetCompleted - enter the terminal state, only the first call has effect
func (f *Flow) SetCompleted(result CompletionResult) bool {
	f.mu.Lock()
	if f.state == StateCompleted {
		f.mu.Unlock()
		return false
	}

	aborted := f.hasPending
	pending := f.pending
	f.hasPending = false
	f.token++

	current := f.state
	f.previous = current
	f.state = StateCompleted
	f.result = &result
	if result.Code == ResultFailed && f.err == nil {
		f.err = ErrFlowFailed
	}
	close(f.done)
	f.mu.Unlock()

	if aborted {
		f.fire(Event{Type: EventStateChangeAborted, Flow: f, State: pending, Previous: current, Err: ErrFlowCompleted})
	}

	f.log.Debug().Msgf("[flow] id=%s completed %s", f, result.Code)
	f.fire(Event{Type: EventStateChanged, Flow: f, State: StateCompleted, Previous: current})
	f.fire(Event{Type: EventCompleted, Flow: f, State: StateCompleted, Previous: current, Result: &result})
	return true
}

// Fail - remember err and complete with ResultFailed, first error wins
func (f *Flow) Fail(err error) bool {
	var flowErr *Error
	if !errors.As(err, &flowErr) {
		err = &Error{Space: ErrorSpaceFlow, Code: CodeFailed, Message: "flow failed", Err: err}
	}

	f.mu.Lock()
	if f.state == StateCompleted || f.failing {
		f.mu.Unlock()
		return false
	}
	f.failing = true
	f.err = err
	f.mu.Unlock()

	f.log.Error().Err(err).Msgf("[flow] id=%s", f)
	f.fire(Event{Type: EventError, Flow: f, Err: err})

	return f.SetCompleted(CompletionResult{Code: ResultFailed, Data: err})
}

// Done - closed after SetCompleted
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// Wait - completion result, error is set for ResultFailed
func (f *Flow) Wait(ctx context.Context) (CompletionResult, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return CompletionResult{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result.Code == ResultFailed {
		return *f.result, f.err
	}
	return *f.result, nil
}

func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) Result() (CompletionResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return CompletionResult{}, false
	}
	return *f.result, true
}

// Add - processors errors fail the flow, adding a member twice does nothing
func (f *Flow) Add(processors ...*core.Processor) {
	for _, p := range processors {
		f.mu.Lock()
		if slices.Contains(f.processors, p) {
			f.mu.Unlock()
			continue
		}
		f.processors = append(f.processors, p)
		f.mu.Unlock()

		p.SetExecutor(f.executor)

		unlisten := p.Listen(func(event core.Event) {
			if event.Type == core.EventError {
				f.processorError(event.Processor, event.Err)
			}
		})

		f.mu.Lock()
		f.unlisten[p] = unlisten
		f.mu.Unlock()
	}
}

func (f *Flow) Remove(p *core.Processor) error {
	f.mu.Lock()
	i := slices.Index(f.processors, p)
	if i < 0 {
		f.mu.Unlock()
		return fmt.Errorf("%w: processor %s", ErrNotMember, p)
	}
	f.processors = slices.Delete(slices.Clone(f.processors), i, i+1)
	unlisten := f.unlisten[p]
	delete(f.unlisten, p)
	f.mu.Unlock()

	if unlisten != nil {
		unlisten()
	}
	return nil
}

func (f *Flow) Processors() []*core.Processor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.processors)
}

// AddExternalSocket - socket exposed to the embedding application
func (f *Flow) AddExternalSocket(sockets ...core.Socket) {
	f.mu.Lock()
	for _, s := range sockets {
		if !slices.Contains(f.sockets, s) {
			f.sockets = append(f.sockets, s)
		}
	}
	f.mu.Unlock()
}

func (f *Flow) RemoveExternalSocket(s core.Socket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.Index(f.sockets, s)
	if i < 0 {
		return fmt.Errorf("%w: socket %s", ErrNotMember, s.Name())
	}
	f.sockets = slices.Delete(slices.Clone(f.sockets), i, i+1)
	return nil
}

func (f *Flow) ExternalSockets() []core.Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sockets)
}

// WhenSocketsReady - wait for every external socket
func (f *Flow) WhenSocketsReady(ctx context.Context) error {
	for _, s := range f.ExternalSockets() {
		select {
		case <-s.WhenReady():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Listen - subscribe to flow events, returns unsubscribe func
func (f *Flow) Listen(fn func(event Event)) func() {
	f.mu.Lock()
	id := f.listenID
	f.listenID++
	f.listeners[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Close - close sockets of all processors and stop the own Loop,
// already queued receives still run
func (f *Flow) Close() {
	for _, p := range f.Processors() {
		p.Close()
	}
	if f.loop != nil {
		f.loop.Close()
	}
}

// Executor - executor of the member processors
func (f *Flow) Executor() core.Executor {
	return f.executor
}

func (f *Flow) processorError(p *core.Processor, err error) {
	f.Fail(&Error{
		Space:   ErrorSpaceProcessor,
		Code:    CodeProcessorError,
		Message: "processor " + p.String(),
		Err:     err,
	})
}

func (f *Flow) hook(from, to State) func(done func()) {
	switch {
	case from == StateVoid && to == StateWaiting:
		return f.hooks.OnVoidToWaiting
	case from == StateWaiting && to == StateVoid:
		return f.hooks.OnWaitingToVoid
	case from == StateWaiting && to == StateFlowing:
		return f.hooks.OnWaitingToFlowing
	case from == StateFlowing && to == StateWaiting:
		return f.hooks.OnFlowingToWaiting
	}
	return nil
}

func (f *Flow) commit(token uint64) {
	f.mu.Lock()
	if !f.hasPending || f.token != token {
		f.mu.Unlock()
		return
	}
	f.previous = f.state
	f.state = f.pending
	f.hasPending = false
	previous, state := f.previous, f.state
	f.mu.Unlock()

	f.log.Debug().Msgf("[flow] id=%s state %s -> %s", f, previous, state)
	f.fire(Event{Type: EventStateChanged, Flow: f, State: state, Previous: previous})
}

func (f *Flow) fire(event Event) {
	f.mu.Lock()
	listeners := make([]func(Event), 0, len(f.listeners))
	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}
