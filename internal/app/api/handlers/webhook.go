package handlers

import (
	"errors"
	"net/http"

	"github.com/fatflowers/paying/internal/app/service/paying"
	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/fatflowers/paying/pkg/response"
	"github.com/fatflowers/paying/pkg/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// @Summary      Provider Webhook
// @Description  Handles a payment provider's server notification. The body format is provider-specific; for Apple it is a Signed JWS payload.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        provider path string true "Payment provider" Enums(apple, agreement)
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/webhook/{provider} [post]
func ApiProviderWebhook(engine *paying.Engine, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := types.PaymentProvider(c.Param("provider"))
		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		logctx.FromCtx(c, log).Infow("webhook received", "provider", provider, "size", len(raw))

		action, err := engine.HandleCallback(c.Request.Context(), provider, raw)
		if err != nil {
			logctx.FromCtx(c, log).Errorw("webhook handling failed", "provider", provider, "error", err.Error())
			code := response.APIResponseCodeError
			if errors.Is(err, paying.ErrUnknownProvider) {
				code = response.APIResponseCodeBadRequest
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
			return
		}
		if action != nil {
			logctx.FromCtx(c, log).Infow("webhook handled", "provider", provider, "action", action.ActionType())
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

// @Summary      Apply Receipt
// @Description  Reconciles a client-submitted receipt against the ledger. Applying the same receipt twice leaves the ledger unchanged.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        provider path string true "Payment provider" Enums(apple)
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/receipt/{provider} [post]
func ApiProviderReceipt(engine *paying.Engine, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := types.PaymentProvider(c.Param("provider"))
		userID := c.Query("user_id")
		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id"))
			return
		}

		if err := engine.HandleReceipt(c.Request.Context(), provider, userID, raw); err != nil {
			logctx.FromCtx(c, log).Errorw("receipt handling failed",
				"provider", provider, "user_id", userID, "error", err.Error())
			code := response.APIResponseCodeError
			if errors.Is(err, paying.ErrUnknownProvider) {
				code = response.APIResponseCodeBadRequest
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, engine *paying.Engine, log *zap.SugaredLogger) {
	r.POST("/webhook/:provider", ApiProviderWebhook(engine, log))
	r.POST("/receipt/:provider", ApiProviderReceipt(engine, log))
}
