package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded once at startup and
// passed down explicitly. Policy parameters (distance tiers, payout split,
// reputation smoothing) live here rather than in code.
type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Database   DatabaseConfig         `yaml:"database"`
	NATS       NATSConfig             `yaml:"nats"`
	Chains     map[string]ChainConfig `yaml:"chains"`
	HubChain   string                 `yaml:"hubChain"`
	Logistics  LogisticsConfig        `yaml:"logistics"`
	Payout     PayoutConfig           `yaml:"payout"`
	Reputation ReputationConfig       `yaml:"reputation"`
	Bridge     BridgeConfig           `yaml:"bridge"`
	Custody    CustodyConfig          `yaml:"custody"`
	CORS       CORSConfig             `yaml:"cors"`
	Admin      AdminConfig            `yaml:"admin"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig hub-coordination message bus configuration
type NATSConfig struct {
	URL            string `yaml:"url"`
	Timeout        int    `yaml:"timeout"`        // seconds
	ReconnectWait  int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects  int    `yaml:"max_reconnects"`
	NotifySubject  string `yaml:"notifySubject"`  // purchase intents toward the hub
	AckSubject     string `yaml:"ackSubject"`     // hub coordination acknowledgments
	PublishRetries int    `yaml:"publishRetries"` // fire-and-forget retry budget
}

// ChainConfig describes one participating chain. The map key in Config.Chains
// is the chain's symbolic key (e.g. "optimism_sepolia").
type ChainConfig struct {
	NativeChainID       uint64 `yaml:"nativeChainId"`
	BridgeEndpointID    uint32 `yaml:"bridgeEndpointId"`
	Role                string `yaml:"role"` // source | destination | hub
	ExplorerURLTemplate string `yaml:"explorerUrlTemplate"`
}

// DistanceTier maps a distance ceiling (miles) to the number of transporters
// required for hauls up to that distance.
type DistanceTier struct {
	MaxMiles     float64 `yaml:"maxMiles"`
	Transporters int     `yaml:"transporters"`
}

// LogisticsConfig distance-to-transporter policy
type LogisticsConfig struct {
	// Tiers are checked in ascending MaxMiles order; hauls beyond the last
	// tier use DefaultTransporters.
	Tiers               []DistanceTier `yaml:"tiers"`
	DefaultTransporters int            `yaml:"defaultTransporters"`
}

// PayoutConfig split policy applied on delivery confirmation. The manufacturer
// share is expressed in basis points; the remainder is divided equally among
// the transporters on the route.
type PayoutConfig struct {
	ManufacturerBps int `yaml:"manufacturerBps"`
}

// ReputationConfig transporter score recomputation tunables
type ReputationConfig struct {
	// SmoothingAlpha is the EWMA weight given to the most recent outcome,
	// in (0, 1]. Higher values bias the score toward recent deliveries.
	SmoothingAlpha float64 `yaml:"smoothingAlpha"`
}

// BridgeConfig external bridge endpoint + fee oracle configuration
type BridgeConfig struct {
	EndpointBaseURL string `yaml:"endpointBaseUrl"`
	OracleBaseURL   string `yaml:"oracleBaseUrl"`
	Timeout         int    `yaml:"timeout"` // seconds, ceiling for RPC waits
}

// CustodyConfig custody transfer retention policy
type CustodyConfig struct {
	// RetentionHours is how long a terminal transfer stays un-archived.
	RetentionHours int `yaml:"retentionHours"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// AdminConfig operator endpoint access control
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"`
}

// LoadConfig reads and validates the configuration file, then applies
// environment-variable overrides.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// overrideFromEnv applies environment-variable overrides on top of the file.
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if bridgeURL := os.Getenv("BRIDGE_ENDPOINT_URL"); bridgeURL != "" {
		config.Bridge.EndpointBaseURL = bridgeURL
	}
	if oracleURL := os.Getenv("FEE_ORACLE_URL"); oracleURL != "" {
		config.Bridge.OracleBaseURL = oracleURL
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

func applyDefaults(config *Config) {
	if config.Logistics.DefaultTransporters == 0 {
		config.Logistics.DefaultTransporters = 3
	}
	if config.Payout.ManufacturerBps == 0 {
		config.Payout.ManufacturerBps = 8000
	}
	if config.Reputation.SmoothingAlpha == 0 {
		config.Reputation.SmoothingAlpha = 0.2
	}
	if config.Bridge.Timeout == 0 {
		config.Bridge.Timeout = 5
	}
	if config.Custody.RetentionHours == 0 {
		config.Custody.RetentionHours = 24 * 30
	}
	if config.NATS.NotifySubject == "" {
		config.NATS.NotifySubject = "supplychain.hub.notify"
	}
	if config.NATS.AckSubject == "" {
		config.NATS.AckSubject = "supplychain.hub.ack"
	}
	if config.NATS.PublishRetries == 0 {
		config.NATS.PublishRetries = 3
	}
}

// Validate enforces policy-table invariants that the rest of the system
// depends on, most importantly the monotonic distance-to-transporter mapping.
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	for key, chain := range c.Chains {
		switch chain.Role {
		case "source", "destination", "hub":
		default:
			return fmt.Errorf("chain %s: unknown role %q", key, chain.Role)
		}
	}
	if c.HubChain != "" {
		hub, ok := c.Chains[c.HubChain]
		if !ok {
			return fmt.Errorf("hubChain %q not present in chains", c.HubChain)
		}
		if hub.Role != "hub" {
			return fmt.Errorf("hubChain %q must have role hub, got %q", c.HubChain, hub.Role)
		}
	}

	tiers := c.Logistics.Tiers
	if !sort.SliceIsSorted(tiers, func(i, j int) bool { return tiers[i].MaxMiles < tiers[j].MaxMiles }) {
		return fmt.Errorf("logistics tiers must be sorted by maxMiles ascending")
	}
	prev := 0
	for i, tier := range tiers {
		if tier.Transporters < 1 {
			return fmt.Errorf("logistics tier %d: transporters must be >= 1", i)
		}
		if tier.Transporters < prev {
			return fmt.Errorf("logistics tier %d: transporter count must be non-decreasing with distance", i)
		}
		prev = tier.Transporters
	}
	if c.Logistics.DefaultTransporters < prev {
		return fmt.Errorf("defaultTransporters must be >= the last tier's transporter count")
	}

	if c.Payout.ManufacturerBps < 0 || c.Payout.ManufacturerBps > 10000 {
		return fmt.Errorf("payout manufacturerBps must be within [0, 10000]")
	}
	if c.Reputation.SmoothingAlpha <= 0 || c.Reputation.SmoothingAlpha > 1 {
		return fmt.Errorf("reputation smoothingAlpha must be within (0, 1]")
	}
	return nil
}

// TransportersForDistance resolves the policy table for a haul distance.
// The mapping is monotonic non-decreasing (enforced by Validate) and never
// returns less than one transporter.
func (c *Config) TransportersForDistance(distanceMiles float64) int {
	for _, tier := range c.Logistics.Tiers {
		if distanceMiles <= tier.MaxMiles {
			return tier.Transporters
		}
	}
	if c.Logistics.DefaultTransporters < 1 {
		return 1
	}
	return c.Logistics.DefaultTransporters
}
