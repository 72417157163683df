package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all leadflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr     string `json:"listen_addr"`
	DBPath         string `json:"db_path"`
	LogLevel       string `json:"log_level"`
	PoolSize       int    `json:"pool_size"`
	SweepBatchSize int    `json:"sweep_batch_size"`
	SweepInterval  string `json:"sweep_interval"`
	TelegramToken  string `json:"telegram_token"`
	DiscordToken   string `json:"discord_token"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":4200",
		DBPath:         filepath.Join(leadflowDir(), "leadflow.db"),
		LogLevel:       "info",
		PoolSize:       10,
		SweepBatchSize: 100,
		SweepInterval:  "60s",
	}
}

func leadflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leadflow"
	}
	return filepath.Join(home, ".leadflow")
}

func settingsPath() string {
	return filepath.Join(leadflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("LEADFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LEADFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEADFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LEADFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("LEADFLOW_SWEEP_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepBatchSize = n
		}
	}
	if v := os.Getenv("LEADFLOW_SWEEP_INTERVAL"); v != "" {
		cfg.SweepInterval = v
	}
	if v := os.Getenv("LEADFLOW_TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("LEADFLOW_DISCORD_TOKEN"); v != "" {
		cfg.DiscordToken = v
	}

	return cfg
}

// sweepInterval parses the configured sweep interval, falling back to 60s.
func (c Config) sweepInterval() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
