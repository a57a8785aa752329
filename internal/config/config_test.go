package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return &Config{
		Chains: map[string]ChainConfig{
			"source_net": {NativeChainID: 1, BridgeEndpointID: 10, Role: "source"},
			"hub_net":    {NativeChainID: 2, BridgeEndpointID: 20, Role: "hub"},
		},
		HubChain: "hub_net",
		Logistics: LogisticsConfig{
			Tiers: []DistanceTier{
				{MaxMiles: 100, Transporters: 1},
				{MaxMiles: 500, Transporters: 2},
				{MaxMiles: 2000, Transporters: 3},
			},
			DefaultTransporters: 4,
		},
		Payout:     PayoutConfig{ManufacturerBps: 8000},
		Reputation: ReputationConfig{SmoothingAlpha: 0.2},
	}
}

func TestTransportersForDistance(t *testing.T) {
	cfg := baseConfig()

	assert.Equal(t, 1, cfg.TransportersForDistance(0))
	assert.Equal(t, 1, cfg.TransportersForDistance(100))
	assert.Equal(t, 2, cfg.TransportersForDistance(100.01))
	assert.Equal(t, 2, cfg.TransportersForDistance(337))
	assert.Equal(t, 3, cfg.TransportersForDistance(2000))
	assert.Equal(t, 4, cfg.TransportersForDistance(9999))
}

func TestTransporterMappingIsMonotonic(t *testing.T) {
	cfg := baseConfig()
	distances := []float64{0, 50, 100, 101, 337, 500, 501, 1999, 2000, 2001, 10000}
	prev := 0
	for _, d := range distances {
		n := cfg.TransportersForDistance(d)
		assert.GreaterOrEqual(t, n, prev, "distance %f", d)
		assert.GreaterOrEqual(t, n, 1)
		prev = n
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, baseConfig().Validate())

	cfg := baseConfig()
	cfg.Chains["bad"] = ChainConfig{Role: "router"}
	assert.Error(t, cfg.Validate())

	cfg = baseConfig()
	cfg.HubChain = "missing"
	assert.Error(t, cfg.Validate())

	cfg = baseConfig()
	cfg.HubChain = "source_net"
	assert.Error(t, cfg.Validate(), "hub chain must carry the hub role")

	cfg = baseConfig()
	cfg.Logistics.Tiers[2].Transporters = 1
	assert.Error(t, cfg.Validate(), "transporter counts must be non-decreasing")

	cfg = baseConfig()
	cfg.Logistics.Tiers[0], cfg.Logistics.Tiers[1] = cfg.Logistics.Tiers[1], cfg.Logistics.Tiers[0]
	assert.Error(t, cfg.Validate(), "tiers must be sorted ascending")

	cfg = baseConfig()
	cfg.Payout.ManufacturerBps = 10001
	assert.Error(t, cfg.Validate())

	cfg = baseConfig()
	cfg.Reputation.SmoothingAlpha = 1.5
	assert.Error(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  host: 127.0.0.1
  port: 9000
database:
  dsn: "host=localhost dbname=test"
chains:
  source_net:
    nativeChainId: 1
    bridgeEndpointId: 10
    role: source
  hub_net:
    nativeChainId: 2
    bridgeEndpointId: 20
    role: hub
hubChain: hub_net
logistics:
  tiers:
    - maxMiles: 100
      transporters: 1
  defaultTransporters: 3
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	// Defaults fill the omitted sections.
	assert.Equal(t, 8000, cfg.Payout.ManufacturerBps)
	assert.InDelta(t, 0.2, cfg.Reputation.SmoothingAlpha, 1e-9)
	assert.Equal(t, "supplychain.hub.notify", cfg.NATS.NotifySubject)
	assert.Equal(t, 720, cfg.Custody.RetentionHours)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
database:
  dsn: "host=localhost dbname=test"
chains:
  hub_net:
    nativeChainId: 2
    bridgeEndpointId: 20
    role: hub
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("DATABASE_DSN", "host=override dbname=prod")
	t.Setenv("SERVER_PORT", "8123")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "host=override dbname=prod", cfg.Database.DSN)
	assert.Equal(t, 8123, cfg.Server.Port)
}
