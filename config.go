package netcode

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the on-disk configuration for cmd/netcode-server. Flags
// on the command line, where given, override the corresponding field
// after loading.
type ServerConfig struct {
	// Listen is the UDP address to bind, e.g. ":40000".
	Listen string `yaml:"listen"`
	// ProtocolID is the out-of-band-agreed identifier binding this
	// deployment's tokens and packets.
	ProtocolID uint64 `yaml:"protocol_id"`
	// PrivateKeyFile holds 32 raw bytes (hex-encoded) used to open
	// connect tokens minted by the matchmaker.
	PrivateKeyFile string `yaml:"private_key_file"`
	// PublicAddrs lists the host:port strings this server expects to
	// find itself under inside a token's server_data.
	PublicAddrs []string `yaml:"public_addrs"`
	// MaxClients bounds concurrent pending + confirmed connections.
	MaxClients int `yaml:"max_clients"`
	// MetricsListen, if non-empty, serves Prometheus metrics at
	// "/metrics" on this address.
	MetricsListen string `yaml:"metrics_listen"`
}

// DefaultServerConfig returns the baseline configuration a deployment
// overrides from its config file and flags.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:     ":40000",
		ProtocolID: 0x4e455443, // "NETC" in ASCII, a readable default agreed id
		MaxClients: 64,
	}
}

// LoadServerConfig reads and parses a YAML config file, starting from
// DefaultServerConfig so unset fields keep sane defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
