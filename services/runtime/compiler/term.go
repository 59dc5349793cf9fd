// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compiler

import (
	"fmt"

	"github.com/formlio/forml-sub003/services/runtime/flow"
)

// term is the compiled, directly callable representation of one
// instruction bound to its upstream terms. Every term is evaluated with
// the graph's single external input and pulls upstream values lazily.
type term interface {
	eval(input any) (any, error)
}

// cell is an instruction-level callable over already evaluated upstream
// values. Cells are bound into terms by chain and zip.
type cell interface {
	call(args ...any) (any, error)
}

// applyCell dispatches a unary-or-wider call into an actor's apply action.
type applyCell struct {
	node  string
	actor flow.Actor
}

func (c *applyCell) call(args ...any) (any, error) {
	out, err := c.actor.Apply(args...)
	if err != nil {
		return nil, fmt.Errorf("node %s apply: %w", c.node, err)
	}
	return out, nil
}

// trainCell dispatches into an actor's train action. The cell returns the
// actor's updated state so downstream dumpers could persist it; in the
// serving runtime it is compiled only for completeness.
type trainCell struct {
	node  string
	actor flow.Trainable
}

func (c *trainCell) call(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("node %s train: expected features and labels, got %d arguments", c.node, len(args))
	}
	if err := c.actor.Train(args[0], args[1]); err != nil {
		return nil, fmt.Errorf("node %s train: %w", c.node, err)
	}
	if stateful, ok := c.actor.(flow.Stateful); ok {
		return stateful.State()
	}
	return nil, nil
}

// getCell projects one element out of a multi-output upstream result.
type getCell struct {
	index int
}

func (c *getCell) call(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("getter expects one argument, got %d", len(args))
	}
	seq, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotIndexable, args[0])
	}
	if c.index < 0 || c.index >= len(seq) {
		return nil, fmt.Errorf("getter index %d out of range %d", c.index, len(seq))
	}
	return seq[c.index], nil
}

// source passes the graph's external input through unchanged. It is the
// unique leaf-most term of every expression.
type source struct{}

func (source) eval(input any) (any, error) { return input, nil }

// chain composes a cell over a single upstream term: f(g(x)).
type chain struct {
	cell cell
	up   term
}

func (t *chain) eval(input any) (any, error) {
	arg, err := t.up.eval(input)
	if err != nil {
		return nil, err
	}
	return t.cell.call(arg)
}

// zip composes a cell over multiple upstream terms: f(a(x), b(x), ...).
// Upstream terms are evaluated left to right.
type zip struct {
	cell cell
	ups  []term
}

func (t *zip) eval(input any) (any, error) {
	args := make([]any, len(t.ups))
	for i, up := range t.ups {
		arg, err := up.eval(input)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}
	return t.cell.call(args...)
}

// replica is the bounded fan-out queue shared by one push term and its
// pop terms. Capacity equals the number of extra consumers.
type replica struct {
	node string
	ch   chan any
}

func newReplica(node string, extras int) *replica {
	return &replica{node: node, ch: make(chan any, extras)}
}

// push evaluates its upstream term exactly once per top-level call,
// enqueues one replica reference per extra consumer and hands the value
// to its own consumer. The queue must be empty when push runs; the
// compiler places the push on the reference evaluation reaches first,
// so a push always runs before its pops.
type push struct {
	up term
	q  *replica
}

func (t *push) eval(input any) (any, error) {
	if len(t.q.ch) != 0 {
		return nil, fmt.Errorf("node %s: %w", t.q.node, ErrReplicaClash)
	}
	value, err := t.up.eval(input)
	if err != nil {
		return nil, err
	}
	for i := 0; i < cap(t.q.ch); i++ {
		t.q.ch <- value
	}
	return value, nil
}

// pop dequeues one replica reference enqueued by the matching push.
type pop struct {
	q *replica
}

func (t *pop) eval(_ any) (any, error) {
	select {
	case value := <-t.q.ch:
		return value, nil
	default:
		return nil, fmt.Errorf("node %s: %w", t.q.node, ErrReplicaEmpty)
	}
}
