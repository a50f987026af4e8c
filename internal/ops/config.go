package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/broker"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout shared by every service.
type FileConfig struct {
	Bus       BusConfig          `json:"bus"`
	Database  DatabaseConfig     `json:"database"`
	Heartbeat HeartbeatConfig    `json:"heartbeat"`
	Executor  ExecutorConfig     `json:"executor"`
	Paper     broker.PaperConfig `json:"paper"`
}

// BusConfig holds the relay endpoints.
type BusConfig struct {
	PubAddr           string `json:"pubAddr"`
	SubAddr           string `json:"subAddr"`
	PollTimeoutMillis int    `json:"pollTimeoutMillis"`
}

// DatabaseConfig describes the trade ledger database.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"sslMode"`
}

// HeartbeatConfig tunes liveness emission and judgement.
type HeartbeatConfig struct {
	IntervalSeconds int `json:"intervalSeconds"`
	StaleSeconds    int `json:"staleSeconds"`
	SweepSeconds    int `json:"sweepSeconds"`
}

// ExecutorConfig tunes the trade state machine.
type ExecutorConfig struct {
	SubmitTimeoutSeconds int `json:"submitTimeoutSeconds"`
	RecoveryAttempts     int `json:"recoveryAttempts"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	PubAddr     string
	SubAddr     string
	PollTimeout time.Duration

	Database conn.Option

	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	SweepInterval     time.Duration

	SubmitTimeout    time.Duration
	RecoveryAttempts int

	Paper broker.PaperConfig
}

// Load reads a JSON config file and resolves defaults. An empty path
// yields a fully defaulted config so local runs need no file at all.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, err
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	loaded := Loaded{
		PubAddr:     cfg.Bus.PubAddr,
		SubAddr:     cfg.Bus.SubAddr,
		PollTimeout: time.Duration(cfg.Bus.PollTimeoutMillis) * time.Millisecond,

		Database: conn.Option{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		},

		HeartbeatInterval: time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second,
		StaleAfter:        time.Duration(cfg.Heartbeat.StaleSeconds) * time.Second,
		SweepInterval:     time.Duration(cfg.Heartbeat.SweepSeconds) * time.Second,

		SubmitTimeout:    time.Duration(cfg.Executor.SubmitTimeoutSeconds) * time.Second,
		RecoveryAttempts: cfg.Executor.RecoveryAttempts,

		Paper: cfg.Paper,
	}

	if loaded.PubAddr == "" {
		loaded.PubAddr = "127.0.0.1:5551"
	}
	if loaded.SubAddr == "" {
		loaded.SubAddr = "127.0.0.1:5552"
	}
	if loaded.PollTimeout <= 0 {
		loaded.PollTimeout = time.Second
	}
	if loaded.HeartbeatInterval <= 0 {
		loaded.HeartbeatInterval = 15 * time.Second
	}
	if loaded.StaleAfter <= 0 {
		loaded.StaleAfter = 3 * loaded.HeartbeatInterval
	}
	if loaded.SweepInterval <= 0 {
		loaded.SweepInterval = 5 * time.Second
	}
	if loaded.SubmitTimeout <= 0 {
		loaded.SubmitTimeout = 10 * time.Second
	}
	if loaded.RecoveryAttempts <= 0 {
		loaded.RecoveryAttempts = 5
	}
	if loaded.Database.Database == "" {
		loaded.Database.Database = "avenor"
	}

	if loaded.StaleAfter <= loaded.HeartbeatInterval {
		return Loaded{}, fmt.Errorf("staleSeconds %s must exceed intervalSeconds %s",
			loaded.StaleAfter, loaded.HeartbeatInterval)
	}
	return loaded, nil
}
