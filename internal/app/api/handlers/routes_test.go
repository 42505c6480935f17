package handlers

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := zap.NewNop().Sugar()

	apiV1 := r.Group("/api/v1")
	RegisterPaymentRoutes(apiV1, nil)
	RegisterWebhookRoutes(apiV1, nil, log)
	RegisterUserRoutes(apiV1.Group("/user"), nil)
	RegisterAdminRoutes(apiV1.Group("/admin"), nil, nil)
	RegisterHealthRoutes(r)

	routes := r.Routes()
	contains := func(target string) bool {
		for _, rt := range routes {
			if rt.Method+" "+rt.Path == target {
				return true
			}
		}
		return false
	}

	require.True(t, contains("POST /api/v1/subscription/prepare"))
	require.True(t, contains("POST /api/v1/subscription/cancel"))
	require.True(t, contains("POST /api/v1/purchase/prepare"))
	require.True(t, contains("POST /api/v1/webhook/:provider"))
	require.True(t, contains("POST /api/v1/receipt/:provider"))
	require.True(t, contains("GET /api/v1/user/subscriptions"))
	require.True(t, contains("GET /api/v1/user/expires-at"))
	require.True(t, contains("POST /api/v1/admin/transaction/list"))
	require.True(t, contains("POST /api/v1/admin/get_paying_statistic"))
	require.True(t, contains("GET /healthz"))
}
