package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BTCRELAY_P2P_PORT.
const EnvPrefix = "BTCRELAY"

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"network":           "network",
	"datadir":           "datadir",
	"config":            "config",
	"p2p":               "p2p.enabled",
	"p2p-listen":        "p2p.listen",
	"p2p-port":          "p2p.port",
	"seeds":             "p2p.seeds",
	"maxpeers":          "p2p.maxpeers",
	"sync-tick":         "sync.tick_interval",
	"sync-seed":         "sync.seed",
	"check-pow":         "sync.check_pow",
	"rpc":               "rpc.enabled",
	"rpc-addr":          "rpc.addr",
	"rpc-port":          "rpc.port",
	"rpc-allowed":       "rpc.allowed",
	"rpc-cors":          "rpc.cors",
	"metrics":           "metrics.enabled",
	"metrics-namespace": "metrics.namespace",
	"storage":           "storage.backend",
	"log-level":         "log.level",
	"log-file":          "log.file",
	"log-json":          "log.json",
}

// BindFlags registers the node flags on flags and binds them into v.
// Flag defaults are zero values; unset flags fall through to the
// config file, the environment and the network defaults.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.String("network", "", "Network: mainnet, testnet, regtest or signet (default mainnet)")
	flags.String("datadir", "", "Data directory path")
	flags.StringP("config", "c", "", "Config file path (default <datadir>/btcrelay.toml)")

	flags.Bool("p2p", true, "Enable P2P networking")
	flags.String("p2p-listen", "", "P2P listen address")
	flags.Int("p2p-port", 0, "P2P listen port")
	flags.StringSlice("seeds", nil, "Seed peers as comma-separated libp2p multiaddrs")
	flags.Int("maxpeers", 0, "Maximum number of peers")

	flags.Duration("sync-tick", 0, "Sync scheduler tick interval")
	flags.Int64("sync-seed", 0, "Peer sampling seed (0 = time-seeded)")
	flags.Bool("check-pow", true, "Reject headers that fail proof-of-work checks")

	flags.Bool("rpc", true, "Enable RPC server")
	flags.String("rpc-addr", "", "RPC listen address")
	flags.Int("rpc-port", 0, "RPC listen port")
	flags.StringSlice("rpc-allowed", nil, "Allowed IPs or CIDRs for RPC")
	flags.StringSlice("rpc-cors", nil, "Allowed CORS origins for RPC")

	flags.Bool("metrics", false, "Serve Prometheus metrics at /metrics on the RPC server")
	flags.String("metrics-namespace", "", "Prometheus metrics namespace")

	flags.String("storage", "", "Storage backend: badger, leveldb or memory")

	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.String("log-file", "", "Also write JSON logs to this file")
	flags.Bool("log-json", false, "Output logs as JSON")

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load resolves the configuration held by v with the following precedence:
//  1. Command-line flags bound by BindFlags
//  2. BTCRELAY_* environment variables
//  3. Config file
//  4. Network defaults
//
// The data directory layout and a default config file are created on first use.
func Load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The data directory locates the config file, so it comes from flags or env only.
	network := Network(strings.ToLower(v.GetString("network")))
	if network == "" {
		network = Mainnet
	}
	cfg := Default(network)
	if dir := v.GetString("datadir"); dir != "" {
		cfg.DataDir = expandHome(dir)
	}
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, err
	}

	path := v.GetString("config")
	if path == "" {
		path = cfg.ConfigFile()
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// The file may name a different network; rebuild defaults for it.
	if fileNetwork := Network(strings.ToLower(v.GetString("network"))); fileNetwork != "" && fileNetwork != network {
		dataDir := cfg.DataDir
		cfg = Default(fileNetwork)
		cfg.DataDir = dataDir
	}
	setDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so env overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("network", string(cfg.Network))
	v.SetDefault("datadir", cfg.DataDir)

	v.SetDefault("p2p.enabled", cfg.P2P.Enabled)
	v.SetDefault("p2p.listen", cfg.P2P.ListenAddr)
	v.SetDefault("p2p.port", cfg.P2P.Port)
	v.SetDefault("p2p.seeds", cfg.P2P.Seeds)
	v.SetDefault("p2p.maxpeers", cfg.P2P.MaxPeers)

	v.SetDefault("sync.tick_interval", cfg.Sync.TickInterval)
	v.SetDefault("sync.seed", cfg.Sync.Seed)
	v.SetDefault("sync.check_pow", cfg.Sync.CheckPoW)

	v.SetDefault("rpc.enabled", cfg.RPC.Enabled)
	v.SetDefault("rpc.addr", cfg.RPC.Addr)
	v.SetDefault("rpc.port", cfg.RPC.Port)
	v.SetDefault("rpc.allowed", cfg.RPC.AllowedIPs)
	v.SetDefault("rpc.cors", cfg.RPC.CORSOrigins)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)

	v.SetDefault("storage.backend", cfg.Storage.Backend)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.json", cfg.Log.JSON)
}

// WriteDefaultConfig writes a commented default config file.
func WriteDefaultConfig(path string, network Network) error {
	cfg := Default(network)
	content := `# BTC relay node configuration.
# Every key can also be set with a BTCRELAY_* environment variable,
# e.g. BTCRELAY_P2P_PORT, or a command-line flag.

# mainnet, testnet, regtest or signet
network = "` + string(network) + `"

[p2p]
enabled = true
listen = "0.0.0.0"
port = ` + fmt.Sprint(cfg.P2P.Port) + `
maxpeers = ` + fmt.Sprint(cfg.P2P.MaxPeers) + `
# Seed peers: full libp2p multiaddrs.
# seeds = ["/ip4/203.0.113.1/tcp/28333/p2p/12D3KooW..."]

[sync]
tick_interval = "` + cfg.Sync.TickInterval.String() + `"
# Peer sampling seed, 0 = time-seeded.
seed = 0
check_pow = true

[rpc]
enabled = true
addr = "127.0.0.1"
port = ` + fmt.Sprint(cfg.RPC.Port) + `
allowed = ["127.0.0.1"]
# cors = ["http://localhost:3000"]

[metrics]
enabled = false
namespace = "` + DefaultNamespace + `"

[storage]
# badger, leveldb or memory
backend = "badger"

[log]
level = "info"
# file = ""
json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
