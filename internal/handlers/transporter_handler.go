package handlers

import (
	"net/http"

	"go-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// TransporterHandler exposes the reputation ledger over HTTP.
type TransporterHandler struct {
	reputation *services.ReputationService
}

// NewTransporterHandler creates a TransporterHandler.
func NewTransporterHandler(reputation *services.ReputationService) *TransporterHandler {
	return &TransporterHandler{reputation: reputation}
}

// Leaderboard handles GET /api/transporters/leaderboard.
func (h *TransporterHandler) Leaderboard(c *gin.Context) {
	records, err := h.reputation.Leaderboard(c.Request.Context(), limitParam(c, 20, 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"transporters": records,
	})
}
