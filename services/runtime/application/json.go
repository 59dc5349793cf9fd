// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/formlio/forml-sub003/services/registry"
)

// Latest is the reference descriptor: JSON in, JSON out, always
// serving the newest published generation of the newest release of a
// fixed project. Real deployments wrap or replace it with
// domain-specific descriptors; it keeps a fresh install servable
// end-to-end without custom code.
type Latest struct {
	// Application is the name requests address this descriptor by.
	Application string

	// Project is the registry project whose pipeline gets served.
	Project string
}

var _ Descriptor = (*Latest)(nil)

// Name implements Descriptor.
func (l *Latest) Name() string {
	return l.Application
}

// Decode implements Descriptor: the payload must be a JSON document;
// the decoded value becomes the pipeline entry as-is.
func (l *Latest) Decode(req Request) (Decoded, error) {
	if req.Encoding != "" && req.Encoding != EncodingJSON {
		return Decoded{}, fmt.Errorf("%w: payload encoding %q", ErrDecode, req.Encoding)
	}
	var entry any
	if err := json.Unmarshal(req.Payload, &entry); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Decoded{Entry: entry, Context: req.Params}, nil
}

// Select implements Descriptor: newest release, then its newest
// generation.
func (l *Latest) Select(ctx context.Context, reg registry.Registry, scope any, stats Stats) (registry.Instance, error) {
	releases, err := reg.Releases(ctx, l.Project)
	if err != nil {
		return registry.Instance{}, err
	}
	if len(releases) == 0 {
		return registry.Instance{}, fmt.Errorf("%w: project %q has no releases", registry.ErrNotFound, l.Project)
	}
	release := releases[len(releases)-1]

	generations, err := reg.Generations(ctx, l.Project, release)
	if err != nil {
		return registry.Instance{}, err
	}
	if len(generations) == 0 {
		return registry.Instance{}, fmt.Errorf("%w: %s/%s", registry.ErrEmptyGeneration, l.Project, release)
	}
	latest := generations[0]
	for _, g := range generations[1:] {
		if g > latest {
			latest = g
		}
	}
	return registry.Instance{Project: l.Project, Release: release, Generation: latest}, nil
}

// Encode implements Descriptor: JSON, provided the caller accepts it.
func (l *Latest) Encode(outcome any, accept []Encoding, scope any) (Response, error) {
	if !accepts(accept, EncodingJSON) {
		return Response{}, fmt.Errorf("%w: accept %v", ErrEncoding, accept)
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return Response{}, fmt.Errorf("encoding outcome: %w", err)
	}
	return Response{Payload: payload, Encoding: EncodingJSON}, nil
}

// accepts reports whether want satisfies the accept list. An empty
// list accepts anything.
func accepts(accept []Encoding, want Encoding) bool {
	if len(accept) == 0 {
		return true
	}
	for _, enc := range accept {
		if enc == want || enc == EncodingAny {
			return true
		}
	}
	return false
}
