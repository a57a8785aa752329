package handlers

import (
	"net/http"

	"go-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// CustodyHandler exposes the custody transfer orchestrator over HTTP.
type CustodyHandler struct {
	custody *services.CustodyService
}

// NewCustodyHandler creates a CustodyHandler.
func NewCustodyHandler(custody *services.CustodyService) *CustodyHandler {
	return &CustodyHandler{custody: custody}
}

type initiateTransferRequest struct {
	PurchaseRequestID    string          `json:"purchase_request_id" binding:"required"`
	ProductID            string          `json:"product_id" binding:"required"`
	ManufacturerAddress  string          `json:"manufacturer_address" binding:"required"`
	TransporterAddresses []string        `json:"transporter_addresses" binding:"required"`
	BuyerAddress         string          `json:"buyer_address" binding:"required"`
	PurchaseAmount       decimal.Decimal `json:"purchase_amount" binding:"required"`
	ProductMetadata      string          `json:"product_metadata"`
}

// InitiateTransfer handles POST /api/nft/initiate-transfer.
func (h *CustodyHandler) InitiateTransfer(c *gin.Context) {
	var req initiateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	transfer, err := h.custody.InitiateTransfer(c.Request.Context(), &services.InitiateTransferInput{
		PurchaseRequestID:    req.PurchaseRequestID,
		ProductID:            req.ProductID,
		ManufacturerAddress:  req.ManufacturerAddress,
		TransporterAddresses: req.TransporterAddresses,
		BuyerAddress:         req.BuyerAddress,
		PurchaseAmount:       req.PurchaseAmount,
		ProductMetadata:      req.ProductMetadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"transfer_id": transfer.TransferID,
		"escrow_id":   transfer.EscrowID,
		"token_id":    transfer.TokenID,
		"total_steps": transfer.TotalSteps,
		"status":      transfer.Status,
	})
}

type executeStepRequest struct {
	TransferID      string `json:"transfer_id" binding:"required"`
	ExecutorAddress string `json:"executor_address" binding:"required"`
}

// ExecuteStep handles POST /api/nft/execute-step.
func (h *CustodyHandler) ExecuteStep(c *gin.Context) {
	var req executeStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	result, err := h.custody.ExecuteNextStep(c.Request.Context(), req.TransferID, req.ExecutorAddress)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

type confirmDeliveryRequest struct {
	TransferID       string `json:"transfer_id" binding:"required"`
	BuyerAddress     string `json:"buyer_address" binding:"required"`
	ConfirmationData string `json:"confirmation_data"`
}

// ConfirmDelivery handles POST /api/nft/confirm-delivery.
func (h *CustodyHandler) ConfirmDelivery(c *gin.Context) {
	var req confirmDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	receipt, err := h.custody.ConfirmDelivery(c.Request.Context(), req.TransferID, req.BuyerAddress, req.ConfirmationData)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"receipt": receipt,
	})
}

type disputeRequest struct {
	TransferID   string `json:"transfer_id" binding:"required"`
	BuyerAddress string `json:"buyer_address" binding:"required"`
	Reason       string `json:"reason"`
}

// Dispute handles POST /api/nft/dispute.
func (h *CustodyHandler) Dispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	if err := h.custody.DisputeDelivery(c.Request.Context(), req.TransferID, req.BuyerAddress, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Get handles GET /api/nft/transfers/:transferId.
func (h *CustodyHandler) Get(c *gin.Context) {
	transfer, err := h.custody.GetTransfer(c.Request.Context(), c.Param("transferId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"transfer": transfer,
		"progress": transfer.Progress(),
	})
}

// List handles GET /api/nft/transfers/list.
func (h *CustodyHandler) List(c *gin.Context) {
	transfers, err := h.custody.ListTransfers(c.Request.Context(), limitParam(c, 50, 200))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"transfers": transfers,
	})
}

// Dashboard handles GET /api/nft/analytics/dashboard.
func (h *CustodyHandler) Dashboard(c *gin.Context) {
	dash, err := h.custody.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"dashboard": dash,
	})
}

// Archive handles POST /api/admin/custody/archive. Operator endpoint.
func (h *CustodyHandler) Archive(c *gin.Context) {
	archived, err := h.custody.ArchiveExpired(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"archived": archived,
	})
}
