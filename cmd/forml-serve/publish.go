// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/formlio/forml-sub003/pkg/logging"
	"github.com/formlio/forml-sub003/services/registry"
	badgerstore "github.com/formlio/forml-sub003/services/registry/badger"
)

var (
	flagPubStore   string
	flagPubProject string
	flagPubRelease string
	flagPubNode    string
	flagPubState   string

	publishCmd = &cobra.Command{
		Use:   "publish",
		Short: "Publish a pipeline generation into the local registry",
		Long: `publish writes one node's persisted state as the next generation of
a release, creating the release on first publish. The state file is
stored verbatim; for the stock linear graph it is a JSON document with
"weights" and "bias" fields.`,
		RunE: runPublish,
	}
)

func init() {
	publishCmd.Flags().StringVar(&flagPubStore, "store", "~/.forml/registry", "registry store directory")
	publishCmd.Flags().StringVar(&flagPubProject, "project", "", "project name")
	publishCmd.Flags().StringVar(&flagPubRelease, "release", "", "release name")
	publishCmd.Flags().StringVar(&flagPubNode, "node", "model", "pipeline node the state belongs to")
	publishCmd.Flags().StringVar(&flagPubState, "state", "", "path to the node state file")
	for _, required := range []string{"project", "release", "state"} {
		if err := publishCmd.MarkFlagRequired(required); err != nil {
			panic(err)
		}
	}
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	logger := logging.Default()
	defer logger.Close()

	state, err := os.ReadFile(flagPubState)
	if err != nil {
		return fmt.Errorf("reading state file: %w", err)
	}

	cfg := badgerstore.DefaultConfig(expandPath(flagPubStore))
	cfg.Logger = logger.Slog()
	store, err := badgerstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	// First publish of a release also records its artifact.
	if rc, err := store.Open(ctx, flagPubProject, flagPubRelease); err == nil {
		rc.Close()
	} else if !errors.Is(err, registry.ErrNotFound) {
		return err
	} else {
		artifact := bytes.NewReader(state)
		if err := store.Push(ctx, flagPubProject, flagPubRelease, artifact); err != nil {
			return fmt.Errorf("push artifact: %w", err)
		}
	}

	generations, err := store.Generations(ctx, flagPubProject, flagPubRelease)
	if err != nil {
		return err
	}
	next := 1
	for _, g := range generations {
		if g >= next {
			next = g + 1
		}
	}

	instance := registry.Instance{
		Project:    flagPubProject,
		Release:    flagPubRelease,
		Generation: next,
	}
	if err := store.Write(ctx, instance, flagPubNode, state); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	logger.Info("generation published",
		"instance", instance.String(),
		"node", flagPubNode,
		"bytes", len(state),
	)
	return nil
}
