package services

import (
	"context"
	"fmt"
	"testing"

	"go-backend/internal/clients"
	"go-backend/internal/config"
	"go-backend/internal/db"
	"go-backend/internal/events"
	"go-backend/internal/registry"
	"go-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(database))
	return repository.NewStore(database)
}

func newTestConfig() *config.Config {
	return &config.Config{
		Chains: map[string]config.ChainConfig{
			"optimism_sepolia": {NativeChainID: 11155420, BridgeEndpointID: 40232, Role: "source"},
			"base_sepolia":     {NativeChainID: 84532, BridgeEndpointID: 40245, Role: "destination"},
			"arbitrum_sepolia": {NativeChainID: 421614, BridgeEndpointID: 40231, Role: "source"},
			"hub_testnet":      {NativeChainID: 11155111, BridgeEndpointID: 40161, Role: "hub"},
		},
		HubChain: "hub_testnet",
		Logistics: config.LogisticsConfig{
			Tiers: []config.DistanceTier{
				{MaxMiles: 100, Transporters: 1},
				{MaxMiles: 500, Transporters: 2},
				{MaxMiles: 2000, Transporters: 3},
			},
			DefaultTransporters: 4,
		},
		Payout:     config.PayoutConfig{ManufacturerBps: 8000},
		Reputation: config.ReputationConfig{SmoothingAlpha: 0.2},
		Custody:    config.CustodyConfig{RetentionHours: 720},
	}
}

// fakeOracle returns a deterministic quote or an error.
type fakeOracle struct {
	fee   decimal.Decimal
	gas   uint64
	err   error
	calls int
}

func (f *fakeOracle) Quote(_ context.Context, _, _ uint32, amount decimal.Decimal) (*clients.FeeQuote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &clients.FeeQuote{BridgeFee: f.fee, EstimatedGas: f.gas}, nil
}

// fakeEndpoint scripts the bridge endpoint behavior per test.
type fakeEndpoint struct {
	submitErr    error
	convertErr   error
	messageState string
	submissions  int
	conversions  int
}

func (f *fakeEndpoint) Submit(_ context.Context, _ *clients.SubmitTransferRequest) (*clients.SubmitTransferResponse, error) {
	f.submissions++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &clients.SubmitTransferResponse{
		TransactionHash: fmt.Sprintf("0xsub%d", f.submissions),
		MessageID:       fmt.Sprintf("msg-%d", f.submissions),
	}, nil
}

func (f *fakeEndpoint) Convert(_ context.Context, _ *clients.ConvertRequest) (*clients.ConvertResponse, error) {
	f.conversions++
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	return &clients.ConvertResponse{TransactionHash: fmt.Sprintf("0xconv%d", f.conversions)}, nil
}

func (f *fakeEndpoint) MessageStatus(_ context.Context, _ string) (*clients.MessageStatusResponse, error) {
	state := f.messageState
	if state == "" {
		state = clients.MessageStateInFlight
	}
	return &clients.MessageStatusResponse{State: state}, nil
}

func (f *fakeEndpoint) Health(_ context.Context) (*clients.EndpointHealth, error) {
	return &clients.EndpointHealth{Healthy: true}, nil
}

// fakePublisher records events instead of talking to the bus.
type fakePublisher struct {
	intents    []*events.PurchaseIntentEvent
	deliveries []*events.DeliveryCompletedEvent
	err        error
}

func (f *fakePublisher) NotifyPurchaseIntent(_ context.Context, event *events.PurchaseIntentEvent) error {
	if f.err != nil {
		return f.err
	}
	f.intents = append(f.intents, event)
	return nil
}

func (f *fakePublisher) NotifyDeliveryCompleted(_ context.Context, event *events.DeliveryCompletedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.deliveries = append(f.deliveries, event)
	return nil
}

// testEnv wires every service over one store with scripted externals.
type testEnv struct {
	store      *repository.Store
	cfg        *config.Config
	chains     *registry.ChainRegistry
	oracle     *fakeOracle
	endpoint   *fakeEndpoint
	publisher  *fakePublisher
	bridge     *BridgeService
	reputation *ReputationService
	custody    *CustodyService
	purchases  *PurchaseService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newTestStore(t)
	cfg := newTestConfig()
	chains := registry.NewChainRegistry(cfg)
	oracle := &fakeOracle{fee: decimal.RequireFromString("0.0003"), gas: 210000}
	endpoint := &fakeEndpoint{}
	publisher := &fakePublisher{}

	bridge := NewBridgeService(chains, oracle, endpoint, store.Bridge)
	reputation := NewReputationService(store.Transporters, cfg.Reputation.SmoothingAlpha)
	custody := NewCustodyService(store, bridge, reputation, publisher, cfg)
	purchases := NewPurchaseService(store, chains, custody, reputation, publisher, cfg)

	return &testEnv{
		store:      store,
		cfg:        cfg,
		chains:     chains,
		oracle:     oracle,
		endpoint:   endpoint,
		publisher:  publisher,
		bridge:     bridge,
		reputation: reputation,
		custody:    custody,
		purchases:  purchases,
	}
}
