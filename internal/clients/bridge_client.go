package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Bridge message delivery states reported by the endpoint.
const (
	MessageStateInFlight  = "inflight"
	MessageStateDelivered = "delivered"
	MessageStateFailed    = "failed"
)

// SubmitTransferRequest is a value transfer submission to the bridge endpoint.
type SubmitTransferRequest struct {
	SrcEndpointID uint32          `json:"srcEid"`
	DstEndpointID uint32          `json:"dstEid"`
	FromAddress   string          `json:"fromAddress"`
	ToAddress     string          `json:"toAddress"`
	Amount        decimal.Decimal `json:"amount"`
}

// SubmitTransferResponse is the endpoint's acceptance of a submission.
type SubmitTransferResponse struct {
	TransactionHash string `json:"transactionHash"`
	MessageID       string `json:"messageId"`
}

// ConvertRequest asks the endpoint to swap the bridged wrapped asset into
// the destination chain's native asset for a delivered message.
type ConvertRequest struct {
	DstEndpointID uint32          `json:"dstEid"`
	Recipient     string          `json:"recipient"`
	Amount        decimal.Decimal `json:"amount"`
	MessageID     string          `json:"messageId"`
}

// ConvertResponse carries the conversion transaction hash.
type ConvertResponse struct {
	TransactionHash string `json:"transactionHash"`
}

// MessageStatusResponse is the delivery state of one bridge message.
type MessageStatusResponse struct {
	State           string `json:"state"`
	DeliveryTxHash  string `json:"deliveryTxHash,omitempty"`
	FailureReason   string `json:"failureReason,omitempty"`
}

// EndpointHealth is the bridge endpoint's self-reported health.
type EndpointHealth struct {
	Healthy   bool   `json:"healthy"`
	Version   string `json:"version,omitempty"`
	QueueSize int    `json:"queueSize,omitempty"`
}

// BridgeEndpoint is the transport to the underlying bridging protocol.
type BridgeEndpoint interface {
	Submit(ctx context.Context, req *SubmitTransferRequest) (*SubmitTransferResponse, error)
	Convert(ctx context.Context, req *ConvertRequest) (*ConvertResponse, error)
	MessageStatus(ctx context.Context, messageID string) (*MessageStatusResponse, error)
	Health(ctx context.Context) (*EndpointHealth, error)
}

// BridgeEndpointClient is the HTTP implementation of BridgeEndpoint.
type BridgeEndpointClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBridgeEndpointClient creates a bridge endpoint client with a bounded
// request timeout.
func NewBridgeEndpointClient(baseURL string, timeout time.Duration) *BridgeEndpointClient {
	return &BridgeEndpointClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit hands a transfer to the bridge. The endpoint answers as soon as the
// source-chain transaction is accepted; delivery is tracked via MessageStatus.
func (c *BridgeEndpointClient) Submit(ctx context.Context, req *SubmitTransferRequest) (*SubmitTransferResponse, error) {
	var resp SubmitTransferResponse
	if err := c.post(ctx, "/v1/transfer", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Convert swaps the wrapped asset for a delivered message into the native
// asset on the destination chain.
func (c *BridgeEndpointClient) Convert(ctx context.Context, req *ConvertRequest) (*ConvertResponse, error) {
	var resp ConvertResponse
	if err := c.post(ctx, "/v1/convert", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MessageStatus reports the delivery state of one message. Safe to poll.
func (c *BridgeEndpointClient) MessageStatus(ctx context.Context, messageID string) (*MessageStatusResponse, error) {
	var resp MessageStatusResponse
	if err := c.get(ctx, "/v1/message/"+messageID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks whether the endpoint is reachable and serving.
func (c *BridgeEndpointClient) Health(ctx context.Context) (*EndpointHealth, error) {
	var resp EndpointHealth
	if err := c.get(ctx, "/v1/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *BridgeEndpointClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, out)
}

func (c *BridgeEndpointClient) get(ctx context.Context, path string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(httpReq, out)
}

func (c *BridgeEndpointClient) do(httpReq *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bridge endpoint error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
