package router

import (
	"net/http"
	"time"

	"go-backend/internal/config"
	"go-backend/internal/handlers"
	"go-backend/internal/middleware"
	"go-backend/internal/push"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers bundles everything the router wires up.
type Handlers struct {
	Purchase    *handlers.PurchaseHandler
	Custody     *handlers.CustodyHandler
	Bridge      *handlers.BridgeHandler
	Transporter *handlers.TransporterHandler
	Push        *push.Hub
}

// New builds the gin engine with all routes and middleware.
func New(cfg *config.Config, h *Handlers) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg))

	engine.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if h.Push != nil {
		engine.GET("/ws/status", gin.WrapH(h.Push))
	}

	api := engine.Group("/api")
	{
		purchase := api.Group("/purchase")
		{
			purchase.POST("/initiate", h.Purchase.Initiate)
			purchase.GET("/list", h.Purchase.List)
			purchase.GET("/:requestId", h.Purchase.Get)
			purchase.POST("/cancel", h.Purchase.Cancel)
			purchase.POST("/hub-ack", h.Purchase.HubAck)
		}

		api.POST("/shipping/initiate", h.Purchase.StartShipping)

		nft := api.Group("/nft")
		{
			nft.POST("/initiate-transfer", h.Custody.InitiateTransfer)
			nft.POST("/execute-step", h.Custody.ExecuteStep)
			nft.POST("/confirm-delivery", h.Custody.ConfirmDelivery)
			nft.POST("/dispute", h.Custody.Dispute)
			nft.GET("/transfers/list", h.Custody.List)
			nft.GET("/transfers/:transferId", h.Custody.Get)
			nft.GET("/analytics/dashboard", h.Custody.Dashboard)
		}

		bridge := api.Group("/layerzero-oft")
		{
			bridge.POST("/estimate-fee", h.Bridge.EstimateFee)
			bridge.POST("/transfer", h.Bridge.ExecuteTransfer)
			bridge.GET("/status/:transferId", h.Bridge.Status)
			bridge.GET("/transfers", h.Bridge.List)
			bridge.GET("/infrastructure-status", middleware.AdminAllowlist(cfg), h.Bridge.InfrastructureStatus)
		}

		api.GET("/transporters/leaderboard", h.Transporter.Leaderboard)

		admin := api.Group("/admin", middleware.AdminAllowlist(cfg))
		{
			admin.POST("/custody/archive", h.Custody.Archive)
		}
	}

	return engine
}
