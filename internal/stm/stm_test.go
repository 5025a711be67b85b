package stm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type state int

const (
	stateA state = iota
	stateB
	stateDone
)

type counterCtx struct {
	arrivals   []state
	departures []state
}

func TestMachineDispatchesAndTransitions(t *testing.T) {
	ctx := &counterCtx{}
	table := Table[state, *counterCtx]{
		stateA: {
			OnArrival: func(c *counterCtx, prev state) { c.arrivals = append(c.arrivals, stateA) },
			OnReadReady: func(c *counterCtx) state {
				return stateB
			},
		},
		stateB: {
			OnArrival:   func(c *counterCtx, prev state) { c.arrivals = append(c.arrivals, stateB) },
			OnDeparture: func(c *counterCtx, next state) { c.departures = append(c.departures, stateB) },
			OnWriteReady: func(c *counterCtx) state {
				return stateDone
			},
		},
		stateDone: {
			OnArrival: func(c *counterCtx, prev state) { c.arrivals = append(c.arrivals, stateDone) },
		},
	}

	m := New(table, stateA, ctx)
	require.Equal(t, stateA, m.Current())

	m.ReadReady()
	require.Equal(t, stateB, m.Current())

	m.WriteReady()
	require.Equal(t, stateDone, m.Current())

	require.Equal(t, []state{stateA, stateB, stateDone}, ctx.arrivals)
	require.Equal(t, []state{stateB}, ctx.departures)
}

func TestMachineIgnoresUnhandledEvent(t *testing.T) {
	ctx := &counterCtx{}
	table := Table[state, *counterCtx]{
		stateA: {},
	}
	m := New(table, stateA, ctx)
	m.ReadReady()
	m.WriteReady()
	m.BlockReady()
	require.Equal(t, stateA, m.Current())
}

func TestMachineSameStateReturnNoOpsTransition(t *testing.T) {
	ctx := &counterCtx{}
	table := Table[state, *counterCtx]{
		stateA: {
			OnDeparture: func(c *counterCtx, next state) { c.departures = append(c.departures, stateA) },
			OnReadReady: func(c *counterCtx) state { return stateA },
		},
	}
	m := New(table, stateA, ctx)
	m.ReadReady()
	require.Equal(t, stateA, m.Current())
	require.Empty(t, ctx.departures)
}
