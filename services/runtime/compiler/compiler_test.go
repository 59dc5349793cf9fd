// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/formlio/forml-sub003/services/runtime/flow"
)

// scaleActor multiplies every matrix cell by a factor and counts calls.
type scaleActor struct {
	factor int
	calls  *int
}

func (a *scaleActor) Apply(inputs ...any) (any, error) {
	if a.calls != nil {
		*a.calls++
	}
	matrix, ok := inputs[0].([][]int)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", inputs[0])
	}
	out := make([][]int, len(matrix))
	for i, row := range matrix {
		out[i] = make([]int, len(row))
		for j, cell := range row {
			out[i][j] = cell * a.factor
		}
	}
	return out, nil
}

// sumActor adds two matrices elementwise.
type sumActor struct{}

func (sumActor) Apply(inputs ...any) (any, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("expected 2 inputs, got %d", len(inputs))
	}
	a := inputs[0].([][]int)
	b := inputs[1].([][]int)
	out := make([][]int, len(a))
	for i := range a {
		out[i] = make([]int, len(a[i]))
		for j := range a[i] {
			out[i][j] = a[i][j] + b[i][j]
		}
	}
	return out, nil
}

// splitActor produces a two-element multi-output.
type splitActor struct{}

func (splitActor) Apply(inputs ...any) (any, error) {
	return []any{inputs[0], inputs[0]}, nil
}

// statefulScale restores its factor from persisted bytes.
type statefulScale struct {
	scaleActor
}

func (a *statefulScale) State() ([]byte, error) {
	return []byte(strconv.Itoa(a.factor)), nil
}

func (a *statefulScale) SetState(state []byte) error {
	factor, err := strconv.Atoi(string(state))
	if err != nil {
		return err
	}
	a.factor = factor
	return nil
}

// failingActor always errors.
type failingActor struct{}

func (failingActor) Apply(...any) (any, error) {
	return nil, errors.New("boom")
}

func builderOf(a flow.Actor) flow.Builder {
	return flow.BuilderFunc(func() flow.Actor { return a })
}

var testInput = [][]int{{1, 2}, {3, 4}}

// linearGraph is load -> transform -> predict with scale factors 1, 2, 3.
func linearGraph(calls *int) []Symbol {
	return []Symbol{
		{ID: "load", Op: Functor{Node: "load", Builder: builderOf(&scaleActor{factor: 1, calls: calls})}},
		{ID: "transform", Op: Functor{Node: "transform", Builder: builderOf(&scaleActor{factor: 2})}, Args: []string{"load"}},
		{ID: "predict", Op: Functor{Node: "predict", Builder: builderOf(&scaleActor{factor: 3})}, Args: []string{"transform"}},
	}
}

func TestCompile_LinearChain(t *testing.T) {
	expr, err := Compile(linearGraph(nil), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	got, err := expr.Invoke(testInput)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	// Must match predict(transform(load(input))) called directly.
	load := &scaleActor{factor: 1}
	transform := &scaleActor{factor: 2}
	predict := &scaleActor{factor: 3}
	v1, _ := load.Apply(testInput)
	v2, _ := transform.Apply(v1)
	want, _ := predict.Apply(v2)

	assertMatrix(t, got, want.([][]int))
}

func TestCompile_Deterministic(t *testing.T) {
	first, err := Compile(linearGraph(nil), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := Compile(linearGraph(nil), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	a, err := first.Invoke(testInput)
	if err != nil {
		t.Fatalf("first Invoke: %v", err)
	}
	b, err := second.Invoke(testInput)
	if err != nil {
		t.Fatalf("second Invoke: %v", err)
	}
	assertMatrix(t, a, b.([][]int))
}

func TestCompile_Idempotent(t *testing.T) {
	expr, err := Compile(linearGraph(nil), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	first, err := expr.Invoke(testInput)
	if err != nil {
		t.Fatalf("first Invoke: %v", err)
	}
	second, err := expr.Invoke(testInput)
	if err != nil {
		t.Fatalf("second Invoke: %v", err)
	}
	assertMatrix(t, first, second.([][]int))
}

func TestCompile_FanOutEvaluatesUpstreamOnce(t *testing.T) {
	calls := 0
	symbols := []Symbol{
		{ID: "source", Op: Functor{Node: "source", Builder: builderOf(&scaleActor{factor: 1})}},
		{ID: "shared", Op: Functor{Node: "shared", Builder: builderOf(&scaleActor{factor: 2, calls: &calls})}, Args: []string{"source"}},
		{ID: "left", Op: Functor{Node: "left", Builder: builderOf(&scaleActor{factor: 1})}, Args: []string{"shared"}},
		{ID: "right", Op: Functor{Node: "right", Builder: builderOf(&scaleActor{factor: 1})}, Args: []string{"shared"}},
		{ID: "join", Op: Functor{Node: "join", Builder: builderOf(sumActor{})}, Args: []string{"left", "right"}},
	}

	expr, err := Compile(symbols, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	got, err := expr.Invoke(testInput)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	// shared doubles the input and join sums both branches: 4x input.
	assertMatrix(t, got, [][]int{{4, 8}, {12, 16}})

	if calls != 1 {
		t.Errorf("shared upstream invoked %d times, want 1", calls)
	}

	// Queues must be drained; a second call must behave identically.
	calls = 0
	if _, err := expr.Invoke(testInput); err != nil {
		t.Fatalf("second Invoke: %v", err)
	}
	if calls != 1 {
		t.Errorf("shared upstream invoked %d times on second call, want 1", calls)
	}
}

func TestCompile_FanOutListingOrderIndependent(t *testing.T) {
	// Same diamond as above with the consumers listed opposite to the
	// join's argument order. The value must still be computed at the
	// branch evaluated first, never popped before any push ran.
	calls := 0
	symbols := []Symbol{
		{ID: "source", Op: Functor{Node: "source", Builder: builderOf(&scaleActor{factor: 1})}},
		{ID: "shared", Op: Functor{Node: "shared", Builder: builderOf(&scaleActor{factor: 2, calls: &calls})}, Args: []string{"source"}},
		{ID: "right", Op: Functor{Node: "right", Builder: builderOf(&scaleActor{factor: 1})}, Args: []string{"shared"}},
		{ID: "left", Op: Functor{Node: "left", Builder: builderOf(&scaleActor{factor: 1})}, Args: []string{"shared"}},
		{ID: "join", Op: Functor{Node: "join", Builder: builderOf(sumActor{})}, Args: []string{"left", "right"}},
	}

	expr, err := Compile(symbols, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got, err := expr.Invoke(testInput)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assertMatrix(t, got, [][]int{{4, 8}, {12, 16}})
	if calls != 1 {
		t.Errorf("shared upstream invoked %d times, want 1", calls)
	}
}

func TestCompile_FanOutUnequalDepthConsumers(t *testing.T) {
	// shared feeds the join both directly and through a deeper branch, so
	// its consumers sit at different levels. Every listing and argument
	// order must produce shared + mid(shared) = 2x + 6x.
	build := func(joinArgs []string, calls *int) []Symbol {
		return []Symbol{
			{ID: "join", Op: Functor{Node: "join", Builder: builderOf(sumActor{})}, Args: joinArgs},
			{ID: "mid", Op: Functor{Node: "mid", Builder: builderOf(&scaleActor{factor: 3})}, Args: []string{"shared"}},
			{ID: "shared", Op: Functor{Node: "shared", Builder: builderOf(&scaleActor{factor: 2, calls: calls})}, Args: []string{"source"}},
			{ID: "source", Op: Functor{Node: "source", Builder: builderOf(&scaleActor{factor: 1})}},
		}
	}

	testCases := []struct {
		name    string
		symbols func(calls *int) []Symbol
	}{
		{"shallow branch first", func(calls *int) []Symbol { return build([]string{"shared", "mid"}, calls) }},
		{"deep branch first", func(calls *int) []Symbol { return build([]string{"mid", "shared"}, calls) }},
		{"listed sources first", func(calls *int) []Symbol {
			symbols := build([]string{"shared", "mid"}, calls)
			for i, j := 0, len(symbols)-1; i < j; i, j = i+1, j-1 {
				symbols[i], symbols[j] = symbols[j], symbols[i]
			}
			return symbols
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			expr, err := Compile(tc.symbols(&calls), nil)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			got, err := expr.Invoke(testInput)
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			assertMatrix(t, got, [][]int{{8, 16}, {24, 32}})
			if calls != 1 {
				t.Errorf("shared upstream invoked %d times, want 1", calls)
			}

			// Queues must be drained; repeated calls behave identically.
			calls = 0
			second, err := expr.Invoke(testInput)
			if err != nil {
				t.Fatalf("second Invoke: %v", err)
			}
			assertMatrix(t, second, [][]int{{8, 16}, {24, 32}})
			if calls != 1 {
				t.Errorf("shared upstream invoked %d times on second call, want 1", calls)
			}
		})
	}
}

func TestCompile_GetterProjection(t *testing.T) {
	symbols := []Symbol{
		{ID: "source", Op: Functor{Node: "source", Builder: builderOf(&scaleActor{factor: 1})}},
		{ID: "split", Op: Functor{Node: "split", Builder: builderOf(splitActor{})}, Args: []string{"source"}},
		{ID: "first", Op: Getter{Index: 0}, Args: []string{"split"}},
		{ID: "second", Op: Getter{Index: 1}, Args: []string{"split"}},
		{ID: "join", Op: Functor{Node: "join", Builder: builderOf(sumActor{})}, Args: []string{"first", "second"}},
	}

	expr, err := Compile(symbols, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got, err := expr.Invoke(testInput)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assertMatrix(t, got, [][]int{{2, 4}, {6, 8}})
}

func TestCompile_LoaderInlinesState(t *testing.T) {
	symbols := []Symbol{
		{ID: "weights", Op: Loader{Node: "predict"}},
		{ID: "source", Op: Functor{Node: "source", Builder: builderOf(&scaleActor{factor: 1})}},
		{
			ID:   "predict",
			Op:   Functor{Node: "predict", Builder: flow.BuilderFunc(func() flow.Actor { return &statefulScale{} })},
			Args: []string{"weights", "source"},
		},
	}
	state := StateFunc(func(node string) ([]byte, error) {
		if node != "predict" {
			return nil, fmt.Errorf("unexpected node %s", node)
		}
		return []byte("5"), nil
	})

	expr, err := Compile(symbols, state)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	got, err := expr.Invoke(testInput)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	assertMatrix(t, got, [][]int{{5, 10}, {15, 20}})
}

func TestCompile_StructuralErrors(t *testing.T) {
	plain := builderOf(&scaleActor{factor: 1})

	testCases := []struct {
		name    string
		symbols []Symbol
		want    error
	}{
		{
			name: "multiple terminals",
			symbols: []Symbol{
				{ID: "source", Op: Functor{Node: "source", Builder: plain}},
				{ID: "a", Op: Functor{Node: "a", Builder: plain}, Args: []string{"source"}},
				{ID: "b", Op: Functor{Node: "b", Builder: plain}, Args: []string{"source"}},
			},
			want: ErrMultipleTerminals,
		},
		{
			name: "cycle",
			symbols: []Symbol{
				{ID: "a", Op: Functor{Node: "a", Builder: plain}, Args: []string{"b"}},
				{ID: "b", Op: Functor{Node: "b", Builder: plain}, Args: []string{"a"}},
				{ID: "out", Op: Functor{Node: "out", Builder: plain}, Args: []string{"b"}},
			},
			want: ErrCyclic,
		},
		{
			name: "dependent loader",
			symbols: []Symbol{
				{ID: "source", Op: Functor{Node: "source", Builder: plain}},
				{ID: "state", Op: Loader{Node: "n"}, Args: []string{"source"}},
				{ID: "out", Op: Functor{Node: "out", Builder: plain}, Args: []string{"state", "source"}},
			},
			want: ErrDependentLoader,
		},
		{
			name: "committer in apply graph",
			symbols: []Symbol{
				{ID: "source", Op: Functor{Node: "source", Builder: plain}},
				{ID: "commit", Op: Committer{}, Args: []string{"source"}},
			},
			want: ErrUnexpectedOp,
		},
		{
			name: "dumper in apply graph",
			symbols: []Symbol{
				{ID: "source", Op: Functor{Node: "source", Builder: plain}},
				{ID: "dump", Op: Dumper{}, Args: []string{"source"}},
			},
			want: ErrUnexpectedOp,
		},
		{
			name: "unknown dependency",
			symbols: []Symbol{
				{ID: "out", Op: Functor{Node: "out", Builder: plain}, Args: []string{"missing"}},
			},
			want: ErrUnknownDependency,
		},
		{
			name: "duplicate symbol",
			symbols: []Symbol{
				{ID: "a", Op: Functor{Node: "a", Builder: plain}},
				{ID: "a", Op: Functor{Node: "a", Builder: plain}},
			},
			want: ErrDuplicateSymbol,
		},
		{
			name: "stateless actor given state",
			symbols: []Symbol{
				{ID: "weights", Op: Loader{Node: "out"}},
				{ID: "out", Op: Functor{Node: "out", Builder: plain}, Args: []string{"weights"}},
			},
			want: ErrStatelessActor,
		},
	}

	state := StateFunc(func(string) ([]byte, error) { return []byte("1"), nil })
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.symbols, state)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got: %v", tc.want, err)
			}
		})
	}
}

func TestCompile_ActorErrorPropagates(t *testing.T) {
	symbols := []Symbol{
		{ID: "source", Op: Functor{Node: "source", Builder: builderOf(&scaleActor{factor: 1})}},
		{ID: "out", Op: Functor{Node: "out", Builder: builderOf(failingActor{})}, Args: []string{"source"}},
	}

	expr, err := Compile(symbols, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := expr.Invoke(testInput); err == nil {
		t.Fatal("expected actor error, got nil")
	}
}

func TestCompile_FanOutDrainedAfterFailure(t *testing.T) {
	// The right branch fails after the shared push ran; the queue must be
	// drained so the expression stays usable.
	symbols := []Symbol{
		{ID: "source", Op: Functor{Node: "source", Builder: builderOf(&scaleActor{factor: 1})}},
		{ID: "shared", Op: Functor{Node: "shared", Builder: builderOf(&scaleActor{factor: 2})}, Args: []string{"source"}},
		{ID: "left", Op: Functor{Node: "left", Builder: builderOf(&scaleActor{factor: 1})}, Args: []string{"shared"}},
		{ID: "right", Op: Functor{Node: "right", Builder: builderOf(failingActor{})}, Args: []string{"shared"}},
		{ID: "join", Op: Functor{Node: "join", Builder: builderOf(sumActor{})}, Args: []string{"left", "right"}},
	}

	expr, err := Compile(symbols, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := expr.Invoke(testInput); err == nil {
		t.Fatal("expected failure from right branch")
	}
	for _, q := range expr.queues {
		if len(q.ch) != 0 {
			t.Errorf("queue for %s not drained after failure", q.node)
		}
	}
}

func assertMatrix(t *testing.T, got any, want [][]int) {
	t.Helper()
	matrix, ok := got.([][]int)
	if !ok {
		t.Fatalf("unexpected output type %T", got)
	}
	if len(matrix) != len(want) {
		t.Fatalf("got %d rows, want %d", len(matrix), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if matrix[i][j] != want[i][j] {
				t.Fatalf("cell [%d][%d] = %d, want %d", i, j, matrix[i][j], want[i][j])
			}
		}
	}
}
