package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	defer log.SetFormatter(&log.TextFormatter{})

	require.NoError(t, setupLogger("debug", "json"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	_, isJSON := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, isJSON)

	require.NoError(t, setupLogger("", ""))
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	_, isText := log.StandardLogger().Formatter.(*log.TextFormatter)
	assert.True(t, isText)

	assert.Error(t, setupLogger("loud", "text"))
	assert.Error(t, setupLogger("info", "xml"))
}

func TestReadConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORDERS_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := readConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.GRPCAddr)
	assert.False(t, cfg.BusEnabled())
}

func TestReadConfig_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ORDERS_REQUEST_TIMEOUT", "soon")

	_, err := readConfig()
	assert.Error(t, err)
}
