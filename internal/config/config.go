// Package config loads and saves the xpubgraph configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klingon-exchange/xpubgraph/internal/backend"
	"github.com/klingon-exchange/xpubgraph/internal/chain"
	"github.com/klingon-exchange/xpubgraph/pkg/logging"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultDataDir is the data directory used when none is given.
const DefaultDataDir = "~/.xpubgraph"

// Defaults
const (
	DefaultWebSocketURL   = "ws://127.0.0.1:50003"
	DefaultElectrumServer = "127.0.0.1:50001"
	DefaultBridgeListen   = ":50003"
)

// Config holds all configuration.
type Config struct {
	// Network is mainnet, testnet or regtest.
	Network string `yaml:"network"`

	Electrum ElectrumConfig `yaml:"electrum"`
	Sync     SyncConfig     `yaml:"sync"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// ElectrumConfig selects and configures the sync transport.
type ElectrumConfig struct {
	// Transport is "websocket" (through a bridge) or "electrum" (direct TCP/TLS).
	Transport string `yaml:"transport"`

	// URL of the WebSocket bridge.
	URL string `yaml:"url"`

	// Server is the Electrum server for the direct transport, host:port.
	Server string `yaml:"server"`
	UseTLS bool   `yaml:"use_tls"`

	// RateLimit caps outgoing request batches per second (0 = unlimited).
	RateLimit int `yaml:"rate_limit"`

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	GapLimit uint32 `yaml:"gap_limit"`

	// ShowAddressesWithoutTransactions draws receive addresses that were
	// never used.
	ShowAddressesWithoutTransactions bool `yaml:"show_addresses_without_transactions"`

	// DefaultWallet watches the built-in demo wallet when no wallet is stored.
	DefaultWallet bool `yaml:"default_wallet"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
	// Format is text, json or logfmt.
	Format string `yaml:"format"`
}

// BridgeConfig holds WebSocket to Electrum bridge settings.
type BridgeConfig struct {
	Listen         string `yaml:"listen"`
	ElectrumServer string `yaml:"electrum_server"`
	UseTLS         bool   `yaml:"use_tls"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: string(chain.Mainnet),
		Electrum: ElectrumConfig{
			Transport:            string(backend.TypeWebSocket),
			URL:                  DefaultWebSocketURL,
			Server:               DefaultElectrumServer,
			MaxReconnectAttempts: backend.DefaultMaxReconnectAttempts,
			ReconnectDelay:       backend.DefaultReconnectDelay,
		},
		Sync: SyncConfig{
			GapLimit: 20,
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
		Bridge: BridgeConfig{
			Listen:         DefaultBridgeListen,
			ElectrumServer: DefaultElectrumServer,
		},
	}
}

// Validate checks the values that are parsed later.
func (c *Config) Validate() error {
	if _, err := chain.ParseNetwork(c.Network); err != nil {
		return err
	}
	if _, err := backend.ParseType(c.Electrum.Transport); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return err
	}
	if c.Electrum.RateLimit < 0 {
		return fmt.Errorf("electrum.rate_limit must not be negative")
	}
	if c.Electrum.MaxReconnectAttempts < 0 {
		return fmt.Errorf("electrum.max_reconnect_attempts must not be negative")
	}
	return nil
}

// ChainParams returns the parameters of the configured network.
func (c *Config) ChainParams() (*chain.Params, error) {
	network, err := chain.ParseNetwork(c.Network)
	if err != nil {
		return nil, err
	}
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("network %s is not registered", network)
	}
	return params, nil
}

// NewTransport builds the configured sync transport.
func (c *Config) NewTransport() (backend.Transport, error) {
	t, err := backend.ParseType(c.Electrum.Transport)
	if err != nil {
		return nil, err
	}
	switch t {
	case backend.TypeElectrum:
		params, err := c.ChainParams()
		if err != nil {
			return nil, err
		}
		return backend.NewElectrumTransport(backend.ElectrumConfig{
			Server: c.Electrum.Server,
			UseTLS: c.Electrum.UseTLS,
			Params: params.ChainCfg(),
		}), nil
	default:
		return backend.NewWSTransport(backend.WSConfig{
			URL:                  c.Electrum.URL,
			MaxReconnectAttempts: c.Electrum.MaxReconnectAttempts,
			ReconnectDelay:       c.Electrum.ReconnectDelay,
			RateLimit:            c.Electrum.RateLimit,
		}), nil
	}
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# xpubgraph configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
