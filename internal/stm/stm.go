// Package stm implements the generic table-driven state machine shared
// by the SOCKS5 and management session cores (spec.md §4.1, module 4).
// Each state declares optional arrival/departure/ready callbacks; the
// machine forwards events to the active state's handler and applies
// whatever next state it returns.
package stm

import "fmt"

// State identifies a row in a Table. Each core defines its own concrete
// state codes as a distinct type satisfying this interface via a named
// int type, e.g. `type sessionState int`.
type State interface {
	comparable
}

// Handlers is one row of the table: the callbacks available while the
// machine is in a given state. Any field may be nil; a nil handler is
// simply not invoked for that event.
type Handlers[S State, C any] struct {
	// OnArrival runs when the machine transitions into this state,
	// after OnDeparture of the previous state.
	OnArrival func(ctx C, prev S)
	// OnDeparture runs when the machine is about to leave this state.
	OnDeparture func(ctx C, next S)
	// OnReadReady runs when the session's read side has bytes or an
	// EOF to offer. It returns the next state.
	OnReadReady func(ctx C) S
	// OnWriteReady runs when the session's write side can accept more
	// bytes. It returns the next state.
	OnWriteReady func(ctx C) S
	// OnBlockReady runs when a pending off-loop task (DNS, connect)
	// has completed. It returns the next state.
	OnBlockReady func(ctx C) S
}

// Table maps state codes to their handlers.
type Table[S State, C any] map[S]Handlers[S, C]

// Machine drives a Table for one session instance.
type Machine[S State, C any] struct {
	table   Table[S, C]
	current S
	ctx     C
}

// New constructs a Machine starting in initial, firing initial's
// OnArrival if present.
func New[S State, C any](table Table[S, C], initial S, ctx C) *Machine[S, C] {
	m := &Machine[S, C]{table: table, current: initial, ctx: ctx}
	if h, ok := table[initial]; ok && h.OnArrival != nil {
		h.OnArrival(ctx, initial)
	}
	return m
}

// Current returns the active state.
func (m *Machine[S, C]) Current() S {
	return m.current
}

// ReadReady dispatches a read-ready event to the current state.
func (m *Machine[S, C]) ReadReady() {
	m.dispatch(func(h Handlers[S, C]) (S, bool) {
		if h.OnReadReady == nil {
			return m.current, false
		}
		return h.OnReadReady(m.ctx), true
	})
}

// WriteReady dispatches a write-ready event to the current state.
func (m *Machine[S, C]) WriteReady() {
	m.dispatch(func(h Handlers[S, C]) (S, bool) {
		if h.OnWriteReady == nil {
			return m.current, false
		}
		return h.OnWriteReady(m.ctx), true
	})
}

// BlockReady dispatches a block-ready (off-loop task completed) event
// to the current state.
func (m *Machine[S, C]) BlockReady() {
	m.dispatch(func(h Handlers[S, C]) (S, bool) {
		if h.OnBlockReady == nil {
			return m.current, false
		}
		return h.OnBlockReady(m.ctx), true
	})
}

// Transition forces the machine into next, running the current state's
// OnDeparture and next's OnArrival, even if no handler requested the
// move. The copy phase uses this: its relay runs outside the
// read/write/block dispatch loop, so it reports its own outcome
// directly instead of returning a next state from a handler.
func (m *Machine[S, C]) Transition(next S) {
	m.transition(next)
}

func (m *Machine[S, C]) dispatch(call func(Handlers[S, C]) (S, bool)) {
	h, ok := m.table[m.current]
	if !ok {
		panic(fmt.Sprintf("stm: state %v not in table", m.current))
	}
	next, handled := call(h)
	if !handled || next == m.current {
		return
	}
	m.transition(next)
}

func (m *Machine[S, C]) transition(next S) {
	if h, ok := m.table[m.current]; ok && h.OnDeparture != nil {
		h.OnDeparture(m.ctx, next)
	}
	prev := m.current
	m.current = next
	h, ok := m.table[next]
	if !ok {
		panic(fmt.Sprintf("stm: transition to unknown state %v", next))
	}
	if h.OnArrival != nil {
		h.OnArrival(m.ctx, prev)
	}
}
