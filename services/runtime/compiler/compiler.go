// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compiler

import (
	"fmt"
	"sort"

	"github.com/formlio/forml-sub003/services/runtime/flow"
)

// Expression is the single composed callable produced from one apply-mode
// symbol graph. Invoking it with the graph's external input executes the
// entire DAG exactly once, lazily, with no intermediate materialization
// beyond the fan-out replica queues.
//
// # Thread Safety
//
// Expression is NOT safe for concurrent invocation; see the package
// documentation. Repeated sequential invocation is the intended use.
type Expression struct {
	root   term
	queues []*replica
}

// Invoke executes the compiled DAG against one external input.
//
// Description:
//
//	Evaluates the term graph from the terminal downward. After every
//	top-level call the fan-out replica queues are verified to be empty;
//	a non-empty queue indicates a compiler defect, reported as
//	ErrReplicaLeak rather than silently dropped.
//
// Inputs:
//
//	input - The graph's single external input (the decoded request entry).
//
// Outputs:
//
//	any - The terminal node's output.
//	error - Non-nil if any actor fails or an internal invariant is violated.
func (e *Expression) Invoke(input any) (any, error) {
	output, err := e.root.eval(input)
	if err != nil {
		e.drain()
		return nil, err
	}
	for _, q := range e.queues {
		if len(q.ch) != 0 {
			e.drain()
			return nil, fmt.Errorf("node %s: %w", q.node, ErrReplicaLeak)
		}
	}
	return output, nil
}

// drain empties every replica queue so a faulted expression does not
// poison a subsequent invocation.
func (e *Expression) drain() {
	for _, q := range e.queues {
		for len(q.ch) > 0 {
			<-q.ch
		}
	}
}

// slot tracks one materialized term together with its fan-out wiring.
type slot struct {
	t term
	q *replica
}

// edge identifies one data reference from a consumer symbol to one of its
// positional dependencies. Loader arguments carry no data and are not
// edges; pos indexes the consumer's data arguments only.
type edge struct {
	consumer string
	pos      int
}

// pushSites walks the graph the way Invoke evaluates it: depth first from
// the terminal, data arguments left to right, descending into each
// dependency's subtree only on first encounter. The first edge reaching a
// fanned-out symbol is where its value gets computed at runtime, so that
// edge receives the push and every other edge a pop.
func pushSites(index map[string]Symbol, refs map[string]int, terminal string) map[string]edge {
	sites := make(map[string]edge, len(refs))
	visited := make(map[string]bool, len(index))

	var walk func(id string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		pos := 0
		for _, arg := range index[id].Args {
			if _, isLoader := index[arg].Op.(Loader); isLoader {
				continue
			}
			if refs[arg] > 1 {
				if _, claimed := sites[arg]; !claimed {
					sites[arg] = edge{consumer: id, pos: pos}
				}
			}
			walk(arg)
			pos++
		}
	}
	walk(terminal)
	return sites
}

// Compile turns an apply-mode symbol graph into an Expression.
//
// Description:
//
//	Compilation proceeds in three passes. First the graph is validated
//	and topologically leveled: every symbol's maximum path length from
//	the unique terminal is computed by recursive upstream traversal and
//	symbols are ordered by that distance descending (sources first).
//	Second, loader instructions are evaluated eagerly against the given
//	state accessor. Third, the ordered symbols are materialized into
//	terms: getters become index projections, functors spawn their actor
//	once, restore persisted state and bind the requested action, and
//	every term referenced by more than one downstream symbol gets a
//	bounded replica queue: the reference that runtime evaluation reaches
//	first (depth first from the terminal, arguments left to right)
//	computes the value and pushes a copy per extra consumer, the rest
//	pop, so the shared upstream evaluates exactly once per top-level
//	call regardless of how the caller listed the consumers.
//
// Inputs:
//
//	symbols - The apply-mode symbol graph. Must be acyclic with exactly
//	          one terminal and exactly one closure source.
//	state - Persisted state accessor for loader instructions. May be nil
//	        when the graph contains no loaders.
//
// Outputs:
//
//	*Expression - The composed callable. Safe for repeated invocation.
//	error - Non-nil on any structural error (see errors.go); compilation
//	        errors are fatal and never retried.
func Compile(symbols []Symbol, state State) (*Expression, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: empty graph", ErrNoTerminal)
	}

	index := make(map[string]Symbol, len(symbols))
	for _, s := range symbols {
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, s.ID)
		}
		index[s.ID] = s
	}

	// Structural validation and reference counting.
	refs := make(map[string]int, len(symbols))
	for _, s := range symbols {
		switch op := s.Op.(type) {
		case Committer, Dumper:
			return nil, fmt.Errorf("%w: symbol %s", ErrUnexpectedOp, s.ID)
		case Loader:
			if len(s.Args) != 0 {
				return nil, fmt.Errorf("%w: %s", ErrDependentLoader, s.ID)
			}
		case Getter:
			if len(s.Args) != 1 {
				return nil, fmt.Errorf("getter symbol %s must have exactly one dependency, got %d", s.ID, len(s.Args))
			}
		case Functor:
			if op.Builder == nil {
				return nil, fmt.Errorf("functor symbol %s has no builder", s.ID)
			}
		}
		for _, arg := range s.Args {
			dep, ok := index[arg]
			if !ok {
				return nil, fmt.Errorf("%w: %s referenced by %s", ErrUnknownDependency, arg, s.ID)
			}
			if _, isLoader := dep.Op.(Loader); !isLoader {
				refs[arg]++
			}
			if _, isGetter := s.Op.(Getter); isGetter {
				if _, isLoader := dep.Op.(Loader); isLoader {
					return nil, fmt.Errorf("getter symbol %s cannot project from loader %s", s.ID, arg)
				}
			}
		}
	}

	terminal, err := findTerminal(symbols, refs)
	if err != nil {
		return nil, err
	}

	distance, err := level(index, terminal)
	if err != nil {
		return nil, err
	}
	for _, s := range symbols {
		if _, reached := distance[s.ID]; !reached {
			return nil, fmt.Errorf("%w: %s", ErrDetachedSymbol, s.ID)
		}
	}

	// Sources first, terminal last. Stable so equal levels keep the
	// caller's ordering.
	order := make([]Symbol, len(symbols))
	copy(order, symbols)
	sort.SliceStable(order, func(i, j int) bool {
		return distance[order[i].ID] > distance[order[j].ID]
	})

	// Eager loader evaluation: persisted state is read once at compile
	// time and inlined into the consuming functors.
	loaded := make(map[string][]byte)
	for _, s := range order {
		if op, ok := s.Op.(Loader); ok {
			if state == nil {
				return nil, fmt.Errorf("symbol %s: no state accessor for loader node %s", s.ID, op.Node)
			}
			bytes, err := state.Load(op.Node)
			if err != nil {
				return nil, fmt.Errorf("loading state for node %s: %w", op.Node, err)
			}
			loaded[s.ID] = bytes
		}
	}

	slots := make(map[string]*slot, len(order))
	queues := make([]*replica, 0)
	sources := 0
	sites := pushSites(index, refs, terminal)

	// ref resolves one data reference to an already materialized term.
	// For fanned-out terms the push goes to the edge evaluation reaches
	// first; every other edge pops the replicated value.
	ref := func(consumer string, pos int, id string) term {
		sl := slots[id]
		if refs[id] <= 1 {
			return sl.t
		}
		if sites[id] == (edge{consumer: consumer, pos: pos}) {
			return &push{up: sl.t, q: sl.q}
		}
		return &pop{q: sl.q}
	}

	for _, s := range order {
		switch op := s.Op.(type) {
		case Loader:
			continue

		case Getter:
			sl := &slot{t: &chain{cell: &getCell{index: op.Index}, up: ref(s.ID, 0, s.Args[0])}}
			if refs[s.ID] > 1 {
				sl.q = newReplica(s.ID, refs[s.ID]-1)
				queues = append(queues, sl.q)
			}
			slots[s.ID] = sl

		case Functor:
			c, data, err := materializeFunctor(s, op, index, loaded)
			if err != nil {
				return nil, err
			}
			var t term
			switch len(data) {
			case 0:
				sources++
				t = &chain{cell: c, up: source{}}
			case 1:
				t = &chain{cell: c, up: ref(s.ID, 0, data[0])}
			default:
				ups := make([]term, len(data))
				for i, id := range data {
					ups[i] = ref(s.ID, i, id)
				}
				t = &zip{cell: c, ups: ups}
			}
			sl := &slot{t: t}
			if refs[s.ID] > 1 {
				sl.q = newReplica(s.ID, refs[s.ID]-1)
				queues = append(queues, sl.q)
			}
			slots[s.ID] = sl
		}
	}

	switch {
	case sources == 0:
		return nil, ErrNoSource
	case sources > 1:
		return nil, fmt.Errorf("%w: %d source functors", ErrMultipleSources, sources)
	}

	return &Expression{root: slots[terminal].t, queues: queues}, nil
}

// materializeFunctor spawns the functor's actor, restores any persisted
// state delivered through loader dependencies and binds the requested
// action. It returns the bound cell and the remaining positional data
// dependencies.
func materializeFunctor(s Symbol, op Functor, index map[string]Symbol, loaded map[string][]byte) (cell, []string, error) {
	actor := op.Builder.Spawn()

	data := make([]string, 0, len(s.Args))
	for _, arg := range s.Args {
		if _, isLoader := index[arg].Op.(Loader); !isLoader {
			data = append(data, arg)
			continue
		}
		stateful, ok := actor.(flow.Stateful)
		if !ok {
			return nil, nil, fmt.Errorf("%w: node %s", ErrStatelessActor, op.Node)
		}
		if err := stateful.SetState(loaded[arg]); err != nil {
			return nil, nil, fmt.Errorf("restoring state for node %s: %w", op.Node, err)
		}
	}

	switch op.Action {
	case Train:
		trainable, ok := actor.(flow.Trainable)
		if !ok {
			return nil, nil, fmt.Errorf("%w: node %s", ErrUntrainableActor, op.Node)
		}
		return &trainCell{node: op.Node, actor: trainable}, data, nil
	default:
		return &applyCell{node: op.Node, actor: actor}, data, nil
	}
}

// findTerminal returns the id of the unique symbol with no downstream
// consumers.
func findTerminal(symbols []Symbol, refs map[string]int) (string, error) {
	terminals := make([]string, 0, 1)
	for _, s := range symbols {
		if _, isLoader := s.Op.(Loader); isLoader {
			continue
		}
		if refs[s.ID] == 0 {
			terminals = append(terminals, s.ID)
		}
	}
	switch len(terminals) {
	case 0:
		return "", ErrNoTerminal
	case 1:
		return terminals[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrMultipleTerminals, terminals)
	}
}

// level computes, for every symbol reachable from the terminal, the
// maximum path length from the terminal (distance 0) to that symbol.
// Cycles are detected via the recursion stack.
func level(index map[string]Symbol, terminal string) (map[string]int, error) {
	distance := make(map[string]int, len(index))
	onStack := make(map[string]bool, len(index))

	var walk func(id string, depth int) error
	walk = func(id string, depth int) error {
		if onStack[id] {
			return fmt.Errorf("%w: at symbol %s", ErrCyclic, id)
		}
		if prev, seen := distance[id]; !seen || depth > prev {
			distance[id] = depth
		} else {
			// Already leveled at an equal or greater depth; no deeper
			// path can emerge from revisiting.
			return nil
		}
		onStack[id] = true
		defer delete(onStack, id)
		for _, arg := range index[id].Args {
			if err := walk(arg, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(terminal, 0); err != nil {
		return nil, err
	}
	return distance, nil
}
