package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ServerConfig holds process-level settings. Subsystem tuning lives in the
// owning package (broadcast.RegistryConfig, media.ManagerConfig, ...); this
// struct carries only what startup wiring needs.
type ServerConfig struct {
	Host        string `json:"host"`
	ChannelPort int    `json:"channel_port"`
	MediaPort   int    `json:"media_port"`

	MaxConnections int `json:"max_connections"`

	SharedFramesDir string `json:"shared_frames_dir"`
	DownloadsDir    string `json:"downloads_dir"`
	CacheDir        string `json:"cache_dir"`

	BufferPath string `json:"buffer_path"`
	PolicyPath string `json:"policy_path"`
	EnvPath    string `json:"env_path"`

	TargetFPS int `json:"target_fps"`
	BatchSize int `json:"batch_size"`

	SamplerKind   string `json:"sampler"`
	CacheCapacity int    `json:"cache_capacity"`

	LogLevel string `json:"log_level"`
}

// DefaultServerConfig returns production-ready defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		ChannelPort:     8765,
		MediaPort:       8766,
		MaxConnections:  256,
		SharedFramesDir: filepath.Join(os.TempDir(), "marionette", "frames"),
		DownloadsDir:    filepath.Join(os.TempDir(), "marionette", "downloads"),
		CacheDir:        filepath.Join(os.TempDir(), "marionette", "cache"),
		BufferPath:      "data/reward_buffer.bin",
		PolicyPath:      "data/policy.wasm",
		EnvPath:         "data/humanoid.wasm",
		TargetFPS:       60,
		BatchSize:       750,
		SamplerKind:     "uniform",
		CacheCapacity:   128,
		LogLevel:        "info",
	}
}

// FromEnv applies environment overrides to a copy of the config.
// All variables are optional; malformed numeric values are rejected.
func (c ServerConfig) FromEnv() (ServerConfig, error) {
	if v := os.Getenv("BACKEND_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("CHANNEL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("CHANNEL_PORT: %w", err)
		}
		c.ChannelPort = port
	}
	if v := os.Getenv("MEDIA_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("MEDIA_PORT: %w", err)
		}
		c.MediaPort = port
	}
	if v := os.Getenv("SHARED_FRAMES_DIR"); v != "" {
		c.SharedFramesDir = v
	}
	if v := os.Getenv("DOWNLOADS_DIR"); v != "" {
		c.DownloadsDir = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("BUFFER_PATH"); v != "" {
		c.BufferPath = v
	}
	if v := os.Getenv("POLICY_PATH"); v != "" {
		c.PolicyPath = v
	}
	if v := os.Getenv("ENV_PATH"); v != "" {
		c.EnvPath = v
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("MAX_CONNECTIONS: %w", err)
		}
		c.MaxConnections = n
	}
	if v := os.Getenv("TARGET_FPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("TARGET_FPS: %w", err)
		}
		c.TargetFPS = n
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("BATCH_SIZE: %w", err)
		}
		c.BatchSize = n
	}
	if v := os.Getenv("SAMPLER"); v != "" {
		c.SamplerKind = v
	}
	if v := os.Getenv("CACHE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("CACHE_CAPACITY: %w", err)
		}
		c.CacheCapacity = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return c, nil
}

// ChannelAddr returns the listen address for the command channel.
func (c ServerConfig) ChannelAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.ChannelPort)
}

// MediaAddr returns the listen address for media signaling.
func (c ServerConfig) MediaAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MediaPort)
}

// EnsureDirs creates the working directories the server writes into.
func (c ServerConfig) EnsureDirs() error {
	for _, dir := range []string{c.SharedFramesDir, c.DownloadsDir, c.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
