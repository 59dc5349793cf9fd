// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package application defines the served-application contract: the
// descriptor that decodes raw requests, selects a versioned pipeline
// instance and encodes outcomes, plus the inventory the serving layer
// resolves descriptors from. Payload formats are entirely the
// descriptor's concern; the runtime core never inspects them.
package application

import (
	"context"

	"github.com/formlio/forml-sub003/services/registry"
)

// Encoding identifies a payload media type.
type Encoding string

const (
	// EncodingJSON is the canonical JSON media type.
	EncodingJSON Encoding = "application/json"

	// EncodingAny is the wildcard accept entry.
	EncodingAny Encoding = "*/*"
)

// Request is a raw inbound request as handed over by the transport.
type Request struct {
	// Payload is the opaque request body.
	Payload []byte

	// Encoding is the declared media type of Payload.
	Encoding Encoding

	// Params carries transport-level key/value metadata (query
	// string, headers the gateway chose to forward).
	Params map[string]string

	// Accept lists response encodings in preference order.
	Accept []Encoding
}

// Response is an encoded outcome ready for the transport.
type Response struct {
	Payload  []byte
	Encoding Encoding
}

// Decoded is the result of descriptor decoding: the entry to push
// through the pipeline plus whatever request-scoped context the
// descriptor wants threaded to Select and Encode.
type Decoded struct {
	Entry   any
	Context any
}

// Stats is a placeholder for serving statistics a descriptor may
// consult when selecting an instance (canary ratios, error rates).
// The base runtime populates nothing; descriptors must tolerate the
// zero value.
type Stats struct{}

// Descriptor adapts one served application to the runtime.
//
// Implementations may be CPU-heavy in Decode and Encode (payload
// parsing, schema inference); the serving layer accounts for that.
// They must be safe for concurrent use.
type Descriptor interface {
	// Name returns the application name the descriptor serves.
	Name() string

	// Decode parses a raw request into a pipeline entry.
	Decode(req Request) (Decoded, error)

	// Select picks the pipeline instance to serve this request with,
	// consulting the read-only registry view and the decoded context.
	Select(ctx context.Context, reg registry.Registry, scope any, stats Stats) (registry.Instance, error)

	// Encode renders the pipeline outcome using the first supported
	// encoding from accept.
	Encode(outcome any, accept []Encoding, scope any) (Response, error)
}

// Inventory resolves application names to descriptors.
type Inventory interface {
	// Get returns the descriptor serving the named application, or
	// ErrUnknown.
	Get(application string) (Descriptor, error)

	// List returns the names of all registered applications.
	List() []string
}
