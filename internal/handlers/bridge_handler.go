package handlers

import (
	"net/http"

	"go-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BridgeHandler exposes the value bridge executor over HTTP.
type BridgeHandler struct {
	bridge *services.BridgeService
}

// NewBridgeHandler creates a BridgeHandler.
func NewBridgeHandler(bridge *services.BridgeService) *BridgeHandler {
	return &BridgeHandler{bridge: bridge}
}

type estimateFeeRequest struct {
	FromChain string          `json:"from_chain" binding:"required"`
	ToChain   string          `json:"to_chain" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
}

// EstimateFee handles POST /api/layerzero-oft/estimate-fee.
func (h *BridgeHandler) EstimateFee(c *gin.Context) {
	var req estimateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	quote, err := h.bridge.EstimateFee(c.Request.Context(), req.FromChain, req.ToChain, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"bridge_fee":    quote.BridgeFee,
		"estimated_gas": quote.EstimatedGas,
	})
}

type executeTransferRequest struct {
	FromChain   string          `json:"from_chain" binding:"required"`
	ToChain     string          `json:"to_chain" binding:"required"`
	FromAddress string          `json:"from_address" binding:"required"`
	ToAddress   string          `json:"to_address" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	EscrowID    string          `json:"escrow_id"`
	AutoConvert bool            `json:"auto_convert"`
}

// ExecuteTransfer handles POST /api/layerzero-oft/transfer.
func (h *BridgeHandler) ExecuteTransfer(c *gin.Context) {
	var req executeTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	record, err := h.bridge.ExecuteTransfer(c.Request.Context(), &services.TransferIntent{
		FromChain:   req.FromChain,
		ToChain:     req.ToChain,
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		Amount:      req.Amount,
		EscrowID:    req.EscrowID,
		AutoConvert: req.AutoConvert,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"transfer": record,
	})
}

// Status handles GET /api/layerzero-oft/status/:transferId.
func (h *BridgeHandler) Status(c *gin.Context) {
	view, err := h.bridge.GetStatus(c.Request.Context(), c.Param("transferId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  view,
	})
}

// List handles GET /api/layerzero-oft/transfers.
func (h *BridgeHandler) List(c *gin.Context) {
	records, err := h.bridge.ListRecentTransfers(c.Request.Context(), limitParam(c, 50, 200))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"transfers": records,
	})
}

// InfrastructureStatus handles GET /api/layerzero-oft/infrastructure-status.
func (h *BridgeHandler) InfrastructureStatus(c *gin.Context) {
	status, err := h.bridge.InfrastructureStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"infrastructure": status,
	})
}
