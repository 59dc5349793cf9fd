// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flow

import (
	"errors"
	"testing"
)

func TestIdentity(t *testing.T) {
	out, err := Identity{}.Apply("payload")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != "payload" {
		t.Errorf("Apply = %v", out)
	}
	if _, err := (Identity{}).Apply(1, 2); !errors.Is(err, ErrBadEntry) {
		t.Fatalf("Apply(two inputs): %v, want ErrBadEntry", err)
	}
}

func TestLinear_ScoreVector(t *testing.T) {
	model := &Linear{Weights: []float64{2, 3}, Bias: 1}

	out, err := model.Apply([]float64{10, 100})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out != 321.0 {
		t.Errorf("Apply = %v, want 321", out)
	}

	// JSON-decoded shape.
	out, err = model.Apply([]any{float64(1), float64(1)})
	if err != nil {
		t.Fatalf("Apply([]any): %v", err)
	}
	if out != 6.0 {
		t.Errorf("Apply([]any) = %v, want 6", out)
	}
}

func TestLinear_ScoreBatch(t *testing.T) {
	model := &Linear{Weights: []float64{1, 1}}
	out, err := model.Apply([]any{
		[]any{float64(1), float64(2)},
		[]any{float64(3), float64(4)},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	scores, ok := out.([]float64)
	if !ok || len(scores) != 2 || scores[0] != 3 || scores[1] != 7 {
		t.Errorf("Apply = %v", out)
	}
}

func TestLinear_DimensionMismatch(t *testing.T) {
	model := &Linear{Weights: []float64{1}}
	if _, err := model.Apply([]float64{1, 2}); !errors.Is(err, ErrBadEntry) {
		t.Fatalf("Apply: %v, want ErrBadEntry", err)
	}
}

func TestLinear_StateRoundTrip(t *testing.T) {
	model := &Linear{Weights: []float64{0.5, -1}, Bias: 2}
	state, err := model.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}

	restored := &Linear{}
	if err := restored.SetState(state); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if restored.Bias != 2 || len(restored.Weights) != 2 || restored.Weights[1] != -1 {
		t.Errorf("restored = %+v", restored)
	}

	if err := restored.SetState([]byte("{broken")); err == nil {
		t.Fatal("SetState on corrupt state succeeded")
	}
}
