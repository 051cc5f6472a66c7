// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package interp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"treewalk.zombiezen.dev/lua/internal/ast"
	"treewalk.zombiezen.dev/lua/internal/value"
	"zombiezen.com/go/log"
)

// CoroutineStatus is one of the four states of §4.6's transition
// diagram.
type CoroutineStatus int

const (
	CoroutineSuspended CoroutineStatus = iota
	CoroutineRunning
	CoroutineNormal
	CoroutineDead
)

func (st CoroutineStatus) String() string {
	switch st {
	case CoroutineSuspended:
		return "suspended"
	case CoroutineRunning:
		return "running"
	case CoroutineNormal:
		return "normal"
	case CoroutineDead:
		return "dead"
	default:
		return fmt.Sprintf("CoroutineStatus(%d)", int(st))
	}
}

// ErrCoroutineClosing is injected into a suspended coroutine by
// CloseCoroutine: it unwinds the coroutine's stack (running pending
// to-be-closed handlers on the way out) without being reported as a
// failure by the close itself.
var ErrCoroutineClosing = errors.New("coroutine closing")

// resumeMsg travels resumer → coroutine across a hand-off.
type resumeMsg struct {
	args    value.Multi
	closing bool
}

// yieldMsg travels coroutine → resumer: either a yield's arguments,
// or (done) the body's return values or error.
type yieldMsg struct {
	values value.Multi
	err    error
	done   bool
}

// Coroutine is a suspendable execution unit (§3, §4.6). Each non-main
// coroutine is backed by a goroutine gated by the two one-shot
// rendezvous channels, so even though the host runtime is parallel,
// exactly one coroutine executes interpreter work at a time: the
// resumer blocks on yieldCh while the coroutine runs, and the
// coroutine blocks on resumeCh while suspended.
type Coroutine struct {
	id     uuid.UUID
	body   value.Value
	status CoroutineStatus
	isMain bool

	started  bool
	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg
	resumer  *Coroutine
	cancel   context.CancelFunc

	// callStack holds the coroutine's frames while it is not running;
	// Resume swaps it with the State's active stack so frames never
	// leak between coroutines (§5).
	callStack []*Frame

	// yieldBarrier counts native frames that must not be yielded
	// across; non-zero makes the coroutine temporarily non-yieldable
	// (§4.6).
	yieldBarrier int
}

func (*Coroutine) Type() value.Type { return value.TypeThread }

// ID returns the coroutine's unique identifier, used for log
// correlation across hand-offs.
func (co *Coroutine) ID() uuid.UUID { return co.id }

// Status returns the coroutine's current status.
func (co *Coroutine) Status() CoroutineStatus { return co.status }

// IsMain reports whether co is the State's distinguished main thread.
func (co *Coroutine) IsMain() bool { return co.isMain }

// NewCoroutine creates a coroutine in state suspended, bound to body
// (§4.6 create). The body is not entered until the first Resume.
func (s *State) NewCoroutine(body value.Value) *Coroutine {
	co := &Coroutine{
		id:       uuid.New(),
		body:     body,
		status:   CoroutineSuspended,
		resumeCh: make(chan resumeMsg),
		yieldCh:  make(chan yieldMsg),
	}
	s.coroutines = append(s.coroutines, co)
	return co
}

// Resume transfers control to co (§4.6): the caller becomes normal,
// co becomes running, and the caller blocks until co yields, returns,
// or errors. On yield or return, Resume reports the transferred
// values; an error in co is returned as a non-nil error for the
// caller (typically coroutine.resume) to convert to (false, err).
func (s *State) Resume(ctx context.Context, co *Coroutine, args value.Multi) (value.Multi, error) {
	if co == nil || co.isMain {
		return nil, errors.New("cannot resume the main coroutine")
	}
	switch co.status {
	case CoroutineDead:
		return nil, errors.New("cannot resume dead coroutine")
	case CoroutineRunning, CoroutineNormal:
		return nil, errors.New("cannot resume non-suspended coroutine")
	}

	me := s.current
	me.status = CoroutineNormal
	me.callStack = s.callStack
	co.resumer = me
	co.status = CoroutineRunning
	s.current = co
	s.callStack = co.callStack
	log.Debugf(ctx, "coroutine %v: resumed by %v", co.id, me.id)

	if !co.started {
		co.started = true
		// The goroutine outlives this resume call, so its context is
		// detached from the resumer's cancellation and cancelled only
		// when the coroutine itself is torn down.
		coCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		co.cancel = cancel
		body := co.body
		s.group.Go(func() error {
			results, err := s.Call(coCtx, ast.Span{}, body, args)
			co.yieldCh <- yieldMsg{values: results, err: err, done: true}
			return nil
		})
	} else {
		co.resumeCh <- resumeMsg{args: args}
	}

	msg := <-co.yieldCh

	co.callStack = s.callStack
	s.callStack = me.callStack
	s.current = me
	me.status = CoroutineRunning
	if msg.done {
		co.status = CoroutineDead
		if co.cancel != nil {
			co.cancel()
		}
		log.Debugf(ctx, "coroutine %v: finished (err=%v)", co.id, msg.err != nil)
	} else {
		co.status = CoroutineSuspended
		log.Debugf(ctx, "coroutine %v: yielded", co.id)
	}
	if msg.err != nil {
		return nil, msg.err
	}
	return msg.values, nil
}

// Yield suspends the running coroutine, transferring args to its
// resumer as Resume's results (§4.6). It parks until a subsequent
// Resume, whose arguments it then returns.
func (s *State) Yield(ctx context.Context, args value.Multi) (value.Multi, error) {
	co := s.current
	if co.isMain {
		return nil, errors.New("attempt to yield from outside a coroutine")
	}
	if co.yieldBarrier > 0 {
		return nil, errors.New("attempt to yield across a C-call boundary")
	}
	co.yieldCh <- yieldMsg{values: args}
	select {
	case msg := <-co.resumeCh:
		if msg.closing {
			return nil, ErrCoroutineClosing
		}
		return msg.args, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsYieldable reports whether the current coroutine may yield: any
// running non-main coroutine with no yield barrier in effect (§4.6).
func (s *State) IsYieldable() bool {
	return !s.current.isMain && s.current.yieldBarrier == 0
}

// PushYieldBarrier marks the current coroutine non-yieldable until
// the matching PopYieldBarrier, for host callables that cannot be
// suspended mid-flight.
func (s *State) PushYieldBarrier() { s.current.yieldBarrier++ }

// PopYieldBarrier undoes one PushYieldBarrier.
func (s *State) PopYieldBarrier() { s.current.yieldBarrier-- }

// CloseCoroutine terminates a suspended (or never-started) coroutine
// (§4.6 close): pending to-be-closed handlers run before it
// transitions to dead. A non-nil error reports a failure raised by
// one of those handlers.
func (s *State) CloseCoroutine(ctx context.Context, co *Coroutine) error {
	switch {
	case co == nil || co.isMain || co == s.current:
		return errors.New("cannot close a running coroutine")
	case co.status == CoroutineDead:
		return nil
	case co.status != CoroutineSuspended:
		return fmt.Errorf("cannot close a %v coroutine", co.status)
	}
	if !co.started {
		co.status = CoroutineDead
		return nil
	}

	me := s.current
	me.status = CoroutineNormal
	me.callStack = s.callStack
	co.status = CoroutineRunning
	s.current = co
	s.callStack = co.callStack
	log.Debugf(ctx, "coroutine %v: closing", co.id)

	co.resumeCh <- resumeMsg{closing: true}
	msg := <-co.yieldCh

	co.callStack = s.callStack
	s.callStack = me.callStack
	s.current = me
	me.status = CoroutineRunning
	co.status = CoroutineDead
	if co.cancel != nil {
		co.cancel()
	}
	if msg.err != nil && !errors.Is(msg.err, ErrCoroutineClosing) {
		return msg.err
	}
	return nil
}

// Close tears down the State: every live coroutine is closed (running
// its pending to-be-closed handlers) and the supervisor waits for all
// backing goroutines to exit. Close must be called from the main
// coroutine.
func (s *State) Close(ctx context.Context) error {
	var firstErr error
	for _, co := range s.coroutines {
		if co.status != CoroutineSuspended {
			continue
		}
		if err := s.CloseCoroutine(ctx, co); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.group.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
