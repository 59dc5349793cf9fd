// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadEntry indicates an actor received an input it cannot evaluate.
var ErrBadEntry = errors.New("flow: unsupported entry")

// Identity passes its single input through unchanged. Useful as a
// pipeline terminal and in tests.
type Identity struct{}

// Apply implements Actor.
func (Identity) Apply(inputs ...any) (any, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %d inputs", ErrBadEntry, len(inputs))
	}
	return inputs[0], nil
}

// Linear is a reference stateful actor: a linear model over numeric
// vectors, with weights and bias persisted as JSON. It keeps a fresh
// install servable end-to-end without custom actors.
type Linear struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Apply implements Actor. The input may be a []float64 or, as produced
// by JSON decoding, a []any of numbers; a slice of such vectors yields
// one score per row.
func (l *Linear) Apply(inputs ...any) (any, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("%w: %d inputs", ErrBadEntry, len(inputs))
	}
	switch entry := inputs[0].(type) {
	case []float64:
		return l.score(entry)
	case []any:
		if vector, ok := asVector(entry); ok {
			return l.score(vector)
		}
		// A batch: one vector per element.
		scores := make([]float64, len(entry))
		for i, row := range entry {
			raw, ok := row.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: row %d is %T", ErrBadEntry, i, row)
			}
			vector, ok := asVector(raw)
			if !ok {
				return nil, fmt.Errorf("%w: row %d is not numeric", ErrBadEntry, i)
			}
			score, err := l.score(vector)
			if err != nil {
				return nil, err
			}
			scores[i] = score
		}
		return scores, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrBadEntry, inputs[0])
	}
}

// State implements Stateful.
func (l *Linear) State() ([]byte, error) {
	return json.Marshal(l)
}

// SetState implements Stateful.
func (l *Linear) SetState(state []byte) error {
	return json.Unmarshal(state, l)
}

func (l *Linear) score(vector []float64) (float64, error) {
	if len(vector) != len(l.Weights) {
		return 0, fmt.Errorf("%w: got %d features, model has %d weights",
			ErrBadEntry, len(vector), len(l.Weights))
	}
	score := l.Bias
	for i, v := range vector {
		score += l.Weights[i] * v
	}
	return score, nil
}

// asVector converts a JSON-decoded []any into a numeric vector.
func asVector(raw []any) ([]float64, bool) {
	vector := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		vector[i] = f
	}
	return vector, true
}
