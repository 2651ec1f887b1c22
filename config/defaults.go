package config

import "time"

const (
	DefaultTickInterval = 500 * time.Millisecond
	DefaultMaxPeers     = 50
	DefaultNamespace    = "btcrelay"
)

// Per-network listen ports: p2p, then rpc.
var defaultPorts = map[Network][2]int{
	Mainnet: {28333, 28332},
	Testnet: {28433, 28432},
	Regtest: {28533, 28532},
	Signet:  {28633, 28632},
}

// Default returns the default node configuration for the given network.
// Unknown networks get mainnet ports; Validate rejects them later.
func Default(network Network) *Config {
	ports, ok := defaultPorts[network]
	if !ok {
		ports = defaultPorts[Mainnet]
	}
	return &Config{
		Network: network,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       ports[0],
			MaxPeers:   DefaultMaxPeers,
			Seeds:      []string{},
		},
		Sync: SyncConfig{
			TickInterval: DefaultTickInterval,
			CheckPoW:     true,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       ports[1],
			AllowedIPs: []string{"127.0.0.1"},
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: DefaultNamespace,
		},
		Storage: StorageConfig{
			Backend: "badger",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
