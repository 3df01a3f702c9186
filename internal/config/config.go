// Package config loads and holds all cache server configuration.
// Settings are layered: defaults → config file → environment variables
// (env vars win). The config file is JSON with comments and trailing
// commas permitted (HuJSON), so deployments can annotate their settings.
package config

import (
	"encoding/json"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/tailscale/hujson"
)

// Storage backend names accepted in Config.Storage.
const (
	StorageGlobal  = "map_global"
	StorageRWLock  = "map_rwlock"
	StorageStriped = "map_striped"
)

// Network engine names accepted in Config.Network.
const (
	NetworkBlocking    = "blocking"
	NetworkEpoll       = "epoll"
	NetworkNonblocking = "nonblocking"
)

// DefaultConfigFile is consulted when no --config flag is given.
const DefaultConfigFile = "lrucached.json"

// Error codes for configuration validation.
const (
	ErrCodeInvalidStorage errors.ErrorCode = "CACHE_INVALID_STORAGE"
	ErrCodeInvalidNetwork errors.ErrorCode = "CACHE_INVALID_NETWORK"
	ErrCodeInvalidPort    errors.ErrorCode = "CACHE_INVALID_PORT"
	ErrCodeInvalidWorkers errors.ErrorCode = "CACHE_INVALID_WORKERS"
	ErrCodeInvalidMaxSize errors.ErrorCode = "CACHE_INVALID_MAX_SIZE"
	ErrCodeFifoPair       errors.ErrorCode = "CACHE_FIFO_PAIR"
)

// Config holds the full server configuration.
type Config struct {
	Storage        string `json:"storage"`        // map_global | map_rwlock | map_striped
	Network        string `json:"network"`        // blocking | epoll | nonblocking
	Port           int    `json:"port"`           // TCP listen port
	Workers        int    `json:"workers"`        // reactor workers / max blocking clients
	MaxSize        int    `json:"maxSize"`        // store entry capacity
	Stripes        int    `json:"stripes"`        // shard count for map_striped; 0 = NumCPU
	ReadFifo       string `json:"readFifo"`       // command pipe; both fifos or neither
	WriteFifo      string `json:"writeFifo"`      // reply pipe
	ManagementPort int    `json:"managementPort"` // HTTP status plane; 0 = disabled
	LogLevel       string `json:"logLevel"`
	PidFile        string `json:"pidFile"`
}

// Load returns config with defaults overridden by the given file (optional)
// and environment variables.
func Load(path string) *Config {
	cfg := defaults()
	loadFile(cfg, path)
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Storage:        StorageGlobal,
		Network:        NetworkEpoll,
		Port:           8080,
		Workers:        runtime.NumCPU(),
		MaxSize:        1024,
		Stripes:        0,
		ManagementPort: 0,
		LogLevel:       "info",
	}
}

// Validate checks cross-field consistency and value ranges.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageGlobal, StorageRWLock, StorageStriped:
	default:
		return errors.NewWithField(ErrCodeInvalidStorage,
			"unknown storage backend", "storage", c.Storage)
	}
	switch c.Network {
	case NetworkBlocking, NetworkEpoll, NetworkNonblocking:
	default:
		return errors.NewWithField(ErrCodeInvalidNetwork,
			"unknown network engine", "network", c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.NewWithField(ErrCodeInvalidPort,
			"port must be in [1, 65535]", "port", strconv.Itoa(c.Port))
	}
	if c.Workers < 1 {
		return errors.NewWithField(ErrCodeInvalidWorkers,
			"workers must be at least 1", "workers", strconv.Itoa(c.Workers))
	}
	if c.MaxSize < 1 {
		return errors.NewWithField(ErrCodeInvalidMaxSize,
			"maxSize must be at least 1", "maxSize", strconv.Itoa(c.MaxSize))
	}
	if (c.ReadFifo == "") != (c.WriteFifo == "") {
		return errors.NewWithContext(ErrCodeFifoPair,
			"readFifo and writeFifo must be set together", map[string]interface{}{
				"readFifo":  c.ReadFifo,
				"writeFifo": c.WriteFifo,
			})
	}
	return nil
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		log.Printf("[CONFIG] Warning: could not standardize %s: %v", path, err)
		return
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("LRUCACHED_STORAGE"); v != "" {
		cfg.Storage = strings.ToLower(v)
	}
	if v := os.Getenv("LRUCACHED_NETWORK"); v != "" {
		cfg.Network = strings.ToLower(v)
	}
	if v := os.Getenv("LRUCACHED_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("LRUCACHED_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("LRUCACHED_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSize = n
		}
	}
	if v := os.Getenv("LRUCACHED_STRIPES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stripes = n
		}
	}
	if v := os.Getenv("LRUCACHED_READ_FIFO"); v != "" {
		cfg.ReadFifo = v
	}
	if v := os.Getenv("LRUCACHED_WRITE_FIFO"); v != "" {
		cfg.WriteFifo = v
	}
	if v := os.Getenv("LRUCACHED_MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("LRUCACHED_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LRUCACHED_PID_FILE"); v != "" {
		cfg.PidFile = v
	}
}
