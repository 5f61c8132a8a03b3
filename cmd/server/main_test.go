package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluvio/hydroclim-go/internal/config"
	"github.com/pluvio/hydroclim-go/internal/store"
)

func TestNewBackend_MemoryDefault(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Backend = "memory"

	backend, err := newBackend(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryBackend{}, backend)
}

func TestNewBackend_RedisUnreachable(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Backend = "redis"
	cfg.Redis.Host = "localhost"
	cfg.Redis.Port = 1 // nothing listens here

	_, err := newBackend(cfg)
	assert.Error(t, err)
}
