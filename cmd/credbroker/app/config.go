// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/stacklok/credbroker/pkg/authserver/storage"
)

// Config is the credbroker service configuration, loaded from a YAML file.
type Config struct {
	// Address is the listen address of the HTTP server.
	Address string `mapstructure:"address"`

	// ConsentURL is the absolute URL of the consent page users are sent
	// to when a grant needs explicit approval.
	ConsentURL string `mapstructure:"consent_url"`

	// ClientsFile is the path to the YAML file listing the registered
	// third-party OAuth clients.
	ClientsFile string `mapstructure:"clients_file"`

	// Storage selects and configures the ephemeral store backend.
	Storage storage.Config `mapstructure:"storage"`

	// Upstream configures the platform credential service client.
	Upstream UpstreamConfig `mapstructure:"upstream"`
}

// UpstreamConfig locates the platform credential service.
type UpstreamConfig struct {
	// BaseURL is the root URL of the credential service API.
	BaseURL string `mapstructure:"base_url"`

	// AuthToken is the bearer token credbroker authenticates with.
	AuthToken string `mapstructure:"auth_token"`
}

// loadConfig reads and validates the configuration file at path.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("address", ":8080")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.ConsentURL == "" {
		return nil, fmt.Errorf("consent_url is required")
	}
	if cfg.ClientsFile == "" {
		return nil, fmt.Errorf("clients_file is required")
	}
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream.base_url is required")
	}

	return &cfg, nil
}
