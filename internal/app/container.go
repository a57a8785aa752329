package app

import (
	"context"
	"fmt"
	"time"

	"go-backend/internal/clients"
	"go-backend/internal/config"
	"go-backend/internal/db"
	"go-backend/internal/events"
	"go-backend/internal/handlers"
	"go-backend/internal/push"
	"go-backend/internal/registry"
	"go-backend/internal/repository"
	"go-backend/internal/router"
	"go-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Container wires configuration, storage, clients and services together and
// owns their lifecycles.
type Container struct {
	Config *config.Config
	Engine *gin.Engine

	Purchases  *services.PurchaseService
	Custody    *services.CustodyService
	Bridge     *services.BridgeService
	Reputation *services.ReputationService
	Push       *push.Hub

	natsConn *nats.Conn
	ackSub   *nats.Subscription
}

// New builds the full application from configuration.
func New(cfg *config.Config) (*Container, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	store := repository.NewStore(database)
	chains := registry.NewChainRegistry(cfg)

	timeout := time.Duration(cfg.Bridge.Timeout) * time.Second
	oracle := clients.NewFeeOracleClient(cfg.Bridge.OracleBaseURL, timeout)
	endpoint := clients.NewBridgeEndpointClient(cfg.Bridge.EndpointBaseURL, timeout)

	natsConn, err := events.ConnectNATS(cfg)
	if err != nil {
		return nil, fmt.Errorf("hub bus unavailable: %w", err)
	}
	notifier := events.NewHubNotifier(natsConn, cfg)

	bridge := services.NewBridgeService(chains, oracle, endpoint, store.Bridge)
	reputation := services.NewReputationService(store.Transporters, cfg.Reputation.SmoothingAlpha)
	custody := services.NewCustodyService(store, bridge, reputation, notifier, cfg)
	purchases := services.NewPurchaseService(store, chains, custody, reputation, notifier, cfg)

	ackSub, err := notifier.SubscribeHubAcks(func(ack *events.HubAckEvent) {
		purchases.HandleHubAck(context.Background(), ack)
	})
	if err != nil {
		natsConn.Close()
		return nil, fmt.Errorf("failed to subscribe hub acks: %w", err)
	}

	hub := push.NewHub()
	custody.SetPushHub(hub)

	engine := router.New(cfg, &router.Handlers{
		Purchase:    handlers.NewPurchaseHandler(purchases),
		Custody:     handlers.NewCustodyHandler(custody),
		Bridge:      handlers.NewBridgeHandler(bridge),
		Transporter: handlers.NewTransporterHandler(reputation),
		Push:        hub,
	})

	return &Container{
		Config:     cfg,
		Engine:     engine,
		Purchases:  purchases,
		Custody:    custody,
		Bridge:     bridge,
		Reputation: reputation,
		Push:       hub,
		natsConn:   natsConn,
		ackSub:     ackSub,
	}, nil
}

// Close releases external connections.
func (c *Container) Close() {
	if c.ackSub != nil {
		if err := c.ackSub.Unsubscribe(); err != nil {
			logrus.WithError(err).Warn("hub ack unsubscribe failed")
		}
	}
	if c.natsConn != nil {
		c.natsConn.Close()
	}
}
