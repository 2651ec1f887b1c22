package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/btcrelay/internal/storage"
)

// Validate checks runtime node config for obvious operator mistakes.
// It normalizes the network name and storage backend in place.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	cfg.Network = Network(strings.ToLower(strings.TrimSpace(string(cfg.Network))))
	if _, err := cfg.Network.Params(); err != nil {
		return fmt.Errorf("network must be one of %v", Networks)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	for i, s := range cfg.P2P.Seeds {
		if _, err := peer.AddrInfoFromString(s); err != nil {
			return fmt.Errorf("p2p.seeds[%d]: %w", i, err)
		}
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	for i, entry := range cfg.RPC.AllowedIPs {
		if !validIPEntry(entry) {
			return fmt.Errorf("rpc.allowed[%d]: %q is not an IP or CIDR", i, entry)
		}
	}
	if cfg.Sync.TickInterval <= 0 {
		return fmt.Errorf("sync.tick_interval must be positive")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace is required when metrics are enabled")
	}

	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	switch cfg.Storage.Backend {
	case "", storage.BackendBadger, storage.BackendLevelDB, storage.BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be %s, %s or %s",
			storage.BackendBadger, storage.BackendLevelDB, storage.BackendMemory)
	}
	return nil
}

func validIPEntry(entry string) bool {
	if _, _, err := net.ParseCIDR(entry); err == nil {
		return true
	}
	return net.ParseIP(entry) != nil
}
