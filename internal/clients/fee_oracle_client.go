package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// FeeQuote is the oracle's protocol fee estimate for one transfer.
type FeeQuote struct {
	BridgeFee    decimal.Decimal `json:"bridge_fee"`
	EstimatedGas uint64          `json:"estimated_gas"`
}

// FeeOracle quotes protocol fees for cross-chain transfers.
type FeeOracle interface {
	Quote(ctx context.Context, srcEndpointID, dstEndpointID uint32, amount decimal.Decimal) (*FeeQuote, error)
}

// FeeOracleClient is the HTTP implementation of FeeOracle.
type FeeOracleClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewFeeOracleClient creates a fee oracle client with a bounded wait so a
// slow oracle surfaces as a retryable error instead of a hung request.
func NewFeeOracleClient(baseURL string, timeout time.Duration) *FeeOracleClient {
	return &FeeOracleClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type feeQuoteResponse struct {
	BridgeFee    string `json:"bridgeFee"`
	EstimatedGas uint64 `json:"estimatedGas"`
}

// Quote fetches a fee estimate. Read-only, no side effects.
func (c *FeeOracleClient) Quote(ctx context.Context, srcEndpointID, dstEndpointID uint32, amount decimal.Decimal) (*FeeQuote, error) {
	params := url.Values{}
	params.Add("srcEid", fmt.Sprintf("%d", srcEndpointID))
	params.Add("dstEid", fmt.Sprintf("%d", dstEndpointID))
	params.Add("amount", amount.String())

	reqURL := fmt.Sprintf("%s/v1/fee/quote?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fee oracle error (status %d): %s", resp.StatusCode, string(body))
	}

	var payload feeQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	fee, err := decimal.NewFromString(payload.BridgeFee)
	if err != nil {
		return nil, fmt.Errorf("fee oracle returned malformed fee %q: %w", payload.BridgeFee, err)
	}

	return &FeeQuote{
		BridgeFee:    fee,
		EstimatedGas: payload.EstimatedGas,
	}, nil
}
