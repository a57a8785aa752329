package handlers

import (
	"net/http"
	"time"

	"go-backend/internal/events"
	"go-backend/internal/services"
	"go-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// PurchaseHandler exposes the purchase request coordinator over HTTP.
type PurchaseHandler struct {
	purchases *services.PurchaseService
}

// NewPurchaseHandler creates a PurchaseHandler.
func NewPurchaseHandler(purchases *services.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases}
}

type coordinatesPayload struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

func (p coordinatesPayload) toCoordinates() utils.Coordinates {
	return utils.Coordinates{Latitude: *p.Latitude, Longitude: *p.Longitude}
}

type initiatePurchaseRequest struct {
	BuyerAddress            string             `json:"buyer_address" binding:"required"`
	BuyerChain              string             `json:"buyer_chain" binding:"required"`
	ManufacturerAddress     string             `json:"manufacturer_address" binding:"required"`
	ManufacturerChain       string             `json:"manufacturer_chain" binding:"required"`
	ProductID               string             `json:"product_id" binding:"required"`
	DeliveryCoordinates     coordinatesPayload `json:"delivery_coordinates" binding:"required"`
	ManufacturerCoordinates coordinatesPayload `json:"manufacturer_coordinates" binding:"required"`
	PurchaseAmount          decimal.Decimal    `json:"purchase_amount" binding:"required"`
}

// Initiate handles POST /api/purchase/initiate.
func (h *PurchaseHandler) Initiate(c *gin.Context) {
	var req initiatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	request, err := h.purchases.InitiatePurchase(c.Request.Context(), &services.InitiatePurchaseInput{
		BuyerAddress:            req.BuyerAddress,
		BuyerChain:              req.BuyerChain,
		ManufacturerAddress:     req.ManufacturerAddress,
		ManufacturerChain:       req.ManufacturerChain,
		ProductID:               req.ProductID,
		DeliveryCoordinates:     req.DeliveryCoordinates.toCoordinates(),
		ManufacturerCoordinates: req.ManufacturerCoordinates.toCoordinates(),
		PurchaseAmount:          req.PurchaseAmount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":               true,
		"request_id":            request.RequestID,
		"distance_miles":        request.DistanceMiles,
		"transporters_required": request.TransportersRequired,
		"status":                request.Status,
	})
}

// List handles GET /api/purchase/list.
func (h *PurchaseHandler) List(c *gin.Context) {
	requests, err := h.purchases.ListRequests(c.Request.Context(), limitParam(c, 50, 200))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"requests": requests,
	})
}

// Get handles GET /api/purchase/:requestId.
func (h *PurchaseHandler) Get(c *gin.Context) {
	request, err := h.purchases.GetRequest(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"request": request,
	})
}

type cancelRequest struct {
	RequestID    string `json:"request_id" binding:"required"`
	BuyerAddress string `json:"buyer_address" binding:"required"`
}

// Cancel handles POST /api/purchase/cancel.
func (h *PurchaseHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}
	if err := h.purchases.CancelRequest(c.Request.Context(), req.RequestID, req.BuyerAddress); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type hubAckRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	HubTxHash string `json:"hub_tx_hash"`
}

// HubAck handles POST /api/purchase/hub-ack, the HTTP variant of the hub
// acknowledgment for chain-side listeners that do not speak the message bus.
func (h *PurchaseHandler) HubAck(c *gin.Context) {
	var req hubAckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}
	h.purchases.HandleHubAck(c.Request.Context(), &events.HubAckEvent{
		RequestID: req.RequestID,
		HubTxHash: req.HubTxHash,
		AckedAt:   time.Now(),
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type startShippingRequest struct {
	RequestID              string   `json:"request_id" binding:"required"`
	ManufacturerAddress    string   `json:"manufacturer_address" binding:"required"`
	EstimatedDeliveryHours int      `json:"estimated_delivery_hours" binding:"required"`
	PackageDetails         string   `json:"package_details"`
	SpecialInstructions    string   `json:"special_instructions"`
	TransporterAddresses   []string `json:"transporter_addresses"`
}

// StartShipping handles POST /api/shipping/initiate.
func (h *PurchaseHandler) StartShipping(c *gin.Context) {
	var req startShippingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, err)
		return
	}

	transfer, err := h.purchases.StartShipping(c.Request.Context(), &services.StartShippingInput{
		RequestID:              req.RequestID,
		ManufacturerAddress:    req.ManufacturerAddress,
		EstimatedDeliveryHours: req.EstimatedDeliveryHours,
		PackageDetails:         req.PackageDetails,
		SpecialInstructions:    req.SpecialInstructions,
		TransporterAddresses:   req.TransporterAddresses,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"transfer": transfer,
	})
}
