// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/credbroker/pkg/authserver/storage"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credbroker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
address: ":9090"
consent_url: "https://ui.example.com/third-party"
clients_file: "/etc/credbroker/clients.yaml"
storage:
  type: redis
  redis_url: "localhost:6379"
upstream:
  base_url: "https://platform.example.com"
  auth_token: "secret"
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, "https://ui.example.com/third-party", cfg.ConsentURL)
	assert.Equal(t, "/etc/credbroker/clients.yaml", cfg.ClientsFile)
	assert.Equal(t, storage.TypeRedis, cfg.Storage.Type)
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisURL)
	assert.Equal(t, "https://platform.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, "secret", cfg.Upstream.AuthToken)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
consent_url: "https://ui.example.com/third-party"
clients_file: "clients.yaml"
upstream:
  base_url: "https://platform.example.com"
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Empty(t, cfg.Storage.Type, "storage defaults to memory downstream")
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing consent_url",
			content: `
clients_file: "clients.yaml"
upstream:
  base_url: "https://platform.example.com"
`,
			wantErr: "consent_url is required",
		},
		{
			name: "missing clients_file",
			content: `
consent_url: "https://ui.example.com/third-party"
upstream:
  base_url: "https://platform.example.com"
`,
			wantErr: "clients_file is required",
		},
		{
			name: "missing upstream base URL",
			content: `
consent_url: "https://ui.example.com/third-party"
clients_file: "clients.yaml"
`,
			wantErr: "upstream.base_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadConfig(writeConfigFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
