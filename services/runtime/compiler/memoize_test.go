// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compiler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMemoize_LoadsEachNodeOnce(t *testing.T) {
	var loads atomic.Int32
	source := StateFunc(func(node string) ([]byte, error) {
		loads.Add(1)
		if node == "broken" {
			return nil, errors.New("corrupt state")
		}
		return []byte(node), nil
	})
	cached := Memoize(source)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, node := range []string{"scale", "broken", "scale"} {
				state, err := cached.Load(node)
				if node == "broken" {
					if err == nil {
						t.Error("broken node loaded without error")
					}
					continue
				}
				if err != nil {
					t.Errorf("Load(%q): %v", node, err)
				} else if string(state) != node {
					t.Errorf("Load(%q) = %q", node, state)
				}
			}
		}()
	}
	wg.Wait()

	if got := loads.Load(); got != 2 {
		t.Fatalf("source hit %d times, want 2", got)
	}
}
