package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go-backend/internal/config"
	"go-backend/internal/handlers"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return New(&config.Config{}, &Handlers{
		Purchase:    handlers.NewPurchaseHandler(nil),
		Custody:     handlers.NewCustodyHandler(nil),
		Bridge:      handlers.NewBridgeHandler(nil),
		Transporter: handlers.NewTransporterHandler(nil),
	})
}

// Operator surfaces never answer unknown clients. The allowlist aborts
// before the handler runs.
func TestOperatorRoutesRejectUnknownClients(t *testing.T) {
	engine := newTestEngine()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/layerzero-oft/infrastructure-status"},
		{http.MethodPost, "/api/admin/custody/archive"},
	}
	for _, route := range routes {
		req := httptest.NewRequest(route.method, route.path, nil)
		req.RemoteAddr = "198.51.100.7:4242"
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, route.path)
	}
}

func TestHealthEndpointsStayOpen(t *testing.T) {
	engine := newTestEngine()

	for _, path := range []string{"/ping", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "198.51.100.7:4242"
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
