// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config controls the HTTP gateway.
type Config struct {
	// Port is the listen port.
	Port int `yaml:"port" validate:"required,gt=0,lte=65535"`

	// Debug enables gin debug mode and request logging.
	Debug bool `yaml:"debug"`

	// ReadTimeout bounds how long a request body read may take.
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds how long a response write may take. Zero
	// means no limit, which predictions with cold pool startups need.
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// ShutdownGrace bounds how long in-flight requests get to finish
	// on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"gte=0"`
}

// DefaultConfig returns production-leaning defaults.
func DefaultConfig() Config {
	return Config{
		Port:          8000,
		ReadTimeout:   30 * time.Second,
		ShutdownGrace: 15 * time.Second,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
