// Package config handles node configuration.
//
// Settings are layered: network defaults, then the config file, then
// BTCRELAY_* environment variables, then command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network identifies the Bitcoin network the relay follows.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
	Signet  Network = "signet"
)

// Networks lists every supported network.
var Networks = []Network{Mainnet, Testnet, Regtest, Signet}

// Params returns the chain parameters for n.
func (n Network) Params() (*chaincfg.Params, error) {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	case Testnet:
		return &chaincfg.TestNet3Params, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", string(n))
	}
}

// Config holds node runtime configuration.
type Config struct {
	Network Network `mapstructure:"network"`
	DataDir string  `mapstructure:"datadir"`

	P2P     P2PConfig     `mapstructure:"p2p"`
	Sync    SyncConfig    `mapstructure:"sync"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	ListenAddr string   `mapstructure:"listen"`
	Port       int      `mapstructure:"port"`
	Seeds      []string `mapstructure:"seeds"` // Full libp2p multiaddrs including /p2p/<id>
	MaxPeers   int      `mapstructure:"maxpeers"`
}

// SyncConfig holds block sync tunables.
type SyncConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Seed         int64         `mapstructure:"seed"` // Peer sampling seed, 0 = time-seeded
	CheckPoW     bool          `mapstructure:"check_pow"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Addr        string   `mapstructure:"addr"`
	Port        int      `mapstructure:"port"`
	AllowedIPs  []string `mapstructure:"allowed"`
	CORSOrigins []string `mapstructure:"cors"` // Allowed CORS origins ("*" = all).
}

// ListenAddr returns host:port for the RPC listener.
func (c RPCConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

// MetricsConfig controls the Prometheus endpoint served on the RPC router.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// StorageConfig selects the key-value backend for node data.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // memory, badger or leveldb
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.btcrelay
//	macOS:   ~/Library/Application Support/BTCRelay
//	Windows: %APPDATA%\BTCRelay
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".btcrelay"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "BTCRelay")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "BTCRelay")
		}
		return filepath.Join(home, "AppData", "Roaming", "BTCRelay")
	default:
		return filepath.Join(home, ".btcrelay")
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the key-value store directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.ChainDataDir(), "db")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the default config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "btcrelay.toml")
}

// EnsureDataDirs creates the data directory layout and a default config
// file when missing. Safe to call on every start.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.ChainDataDir(), cfg.DBDir(), cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	path := cfg.ConfigFile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteDefaultConfig(path, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
