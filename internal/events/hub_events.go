package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-backend/internal/config"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// PurchaseIntentEvent is published toward the hub chain when a purchase
// request is created. The hub answers with a HubAckEvent.
type PurchaseIntentEvent struct {
	RequestID            string    `json:"request_id"`
	BuyerChain           string    `json:"buyer_chain"`
	ManufacturerChain    string    `json:"manufacturer_chain"`
	ManufacturerAddress  string    `json:"manufacturer_address"`
	ProductID            string    `json:"product_id"`
	PurchaseAmount       string    `json:"purchase_amount"`
	TransportersRequired int       `json:"transporters_required"`
	CreatedAt            time.Time `json:"created_at"`
}

// HubAckEvent is the hub's acknowledgment that routing is coordinated.
type HubAckEvent struct {
	RequestID string    `json:"request_id"`
	HubTxHash string    `json:"hub_tx_hash,omitempty"`
	AckedAt   time.Time `json:"acked_at"`
}

// DeliveryCompletedEvent announces a confirmed delivery to interested
// listeners (dashboards, chain-side workers).
type DeliveryCompletedEvent struct {
	TransferID           string    `json:"transfer_id"`
	PurchaseRequestID    string    `json:"purchase_request_id"`
	SettlementTransferID string    `json:"settlement_transfer_id,omitempty"`
	DeliveredAt          time.Time `json:"delivered_at"`
}

// ConnectNATS dials the hub coordination bus with the configured reconnect
// policy.
func ConnectNATS(cfg *config.Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Timeout(time.Duration(cfg.NATS.Timeout) * time.Second),
		nats.ReconnectWait(time.Duration(cfg.NATS.ReconnectWait) * time.Second),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logrus.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	}
	conn, err := nats.Connect(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// HubNotifier publishes purchase intents to the hub and subscribes to hub
// acknowledgments.
type HubNotifier struct {
	conn          *nats.Conn
	notifySubject string
	ackSubject    string
	retries       int
	log           *logrus.Entry
}

// NewHubNotifier creates a HubNotifier over an established connection.
func NewHubNotifier(conn *nats.Conn, cfg *config.Config) *HubNotifier {
	return &HubNotifier{
		conn:          conn,
		notifySubject: cfg.NATS.NotifySubject,
		ackSubject:    cfg.NATS.AckSubject,
		retries:       cfg.NATS.PublishRetries,
		log:           logrus.WithField("component", "hub_notifier"),
	}
}

// NotifyPurchaseIntent publishes the intent fire-and-forget with a bounded
// retry budget. A lost notification does not fail the purchase; the request
// simply stays in pending_hub_coordination until the hub is re-notified.
func (n *HubNotifier) NotifyPurchaseIntent(ctx context.Context, event *PurchaseIntentEvent) error {
	return n.publishWithRetry(ctx, n.notifySubject, event)
}

// NotifyDeliveryCompleted announces a confirmed delivery.
func (n *HubNotifier) NotifyDeliveryCompleted(ctx context.Context, event *DeliveryCompletedEvent) error {
	return n.publishWithRetry(ctx, n.notifySubject+".delivered", event)
}

func (n *HubNotifier) publishWithRetry(ctx context.Context, subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		if lastErr = n.conn.Publish(subject, data); lastErr == nil {
			return nil
		}
		n.log.WithError(lastErr).WithFields(logrus.Fields{
			"subject": subject,
			"attempt": attempt + 1,
		}).Warn("publish failed")
	}
	return fmt.Errorf("publish to %s failed after %d attempts: %w", subject, n.retries+1, lastErr)
}

// SubscribeHubAcks registers a handler for hub coordination acknowledgments.
// Malformed messages are logged and dropped, never retried.
func (n *HubNotifier) SubscribeHubAcks(handler func(ack *HubAckEvent)) (*nats.Subscription, error) {
	return n.conn.Subscribe(n.ackSubject, func(msg *nats.Msg) {
		var ack HubAckEvent
		if err := json.Unmarshal(msg.Data, &ack); err != nil {
			n.log.WithError(err).Warn("malformed hub ack dropped")
			return
		}
		handler(&ack)
	})
}
