// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"time"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default).
	TypeMemory Type = "memory"

	// TypeRedis uses a Redis backend for multi-replica deployments.
	TypeRedis Type = "redis"
)

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type `mapstructure:"type" yaml:"type"`

	// CleanupInterval overrides the memory backend's sweep interval.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`

	// RedisURL is the host:port of the Redis server (redis backend only).
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`

	// RedisUsername and RedisPassword authenticate against Redis ACLs.
	RedisUsername string `mapstructure:"redis_username" yaml:"redis_username"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`

	// RedisDB selects the logical Redis database.
	RedisDB int `mapstructure:"redis_db" yaml:"redis_db"`

	// KeyPrefix namespaces Redis keys. Defaults to "credbroker:oauth:".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// DefaultKeyPrefix namespaces all Redis keys when none is configured.
const DefaultKeyPrefix = "credbroker:oauth:"

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type: TypeMemory,
	}
}

// NewStore creates a Store implementation based on config.
// If config is nil, defaults to in-memory storage.
func NewStore(ctx context.Context, config *Config) (Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Type {
	case TypeMemory, "":
		opts := []MemoryStorageOption{}
		if config.CleanupInterval > 0 {
			opts = append(opts, WithCleanupInterval(config.CleanupInterval))
		}
		return NewMemoryStorage(opts...), nil

	case TypeRedis:
		if config.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis storage")
		}

		prefix := config.KeyPrefix
		if prefix == "" {
			prefix = DefaultKeyPrefix
		}

		return NewRedisStorage(ctx, RedisConfig{
			URL:       config.RedisURL,
			Username:  config.RedisUsername,
			Password:  config.RedisPassword,
			DB:        config.RedisDB,
			KeyPrefix: prefix,
		})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", config.Type)
	}
}
