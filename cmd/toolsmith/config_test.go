package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.NotEmpty(t, cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60, cfg.TickSeconds)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOOLSMITH_DB_PATH", "file:/tmp/override.db")
	t.Setenv("TOOLSMITH_LOG_LEVEL", "debug")
	t.Setenv("TOOLSMITH_TICK_SECONDS", "5")

	cfg := loadConfig()
	assert.Equal(t, "file:/tmp/override.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.TickSeconds)
}

func TestEnvTickIgnoresGarbage(t *testing.T) {
	t.Setenv("TOOLSMITH_TICK_SECONDS", "often")
	cfg := loadConfig()
	assert.Equal(t, 60, cfg.TickSeconds)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "INFO", parseLevel("unknown").String())
	assert.Equal(t, "ERROR", parseLevel("ERROR").String())
}
