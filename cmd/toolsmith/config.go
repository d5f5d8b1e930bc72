package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all toolsmith server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	TickSeconds int    `json:"tick_seconds"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      "file:" + filepath.Join(toolsmithDir(), "toolsmith.db"),
		LogLevel:    "info",
		TickSeconds: 60,
	}
}

func toolsmithDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".toolsmith"
	}
	return filepath.Join(home, ".toolsmith")
}

func settingsPath() string {
	return filepath.Join(toolsmithDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("TOOLSMITH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TOOLSMITH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TOOLSMITH_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TickSeconds = n
		}
	}

	return cfg
}
