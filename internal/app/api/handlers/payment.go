package handlers

import (
	"errors"
	"net/http"

	"github.com/fatflowers/paying/internal/app/service/paying"
	"github.com/fatflowers/paying/pkg/response"
	"github.com/fatflowers/paying/pkg/types"
	"github.com/gin-gonic/gin"
)

type PrepareRequest struct {
	UserID    string                `json:"user_id" binding:"required"`
	Provider  types.PaymentProvider `json:"provider" binding:"required"`
	ProductID string                `json:"product_id" binding:"required"`
}

// @Summary      Prepare Subscription
// @Description  Opens a new subscription lineage and returns the provider payload the client needs to complete payment. An active lineage in the same product group is canceled first.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body PrepareRequest true "Prepare subscription request"
// @Success      200  {object}  handlers.RespPrepareSubscription
// @Router       /api/v1/subscription/prepare [post]
func ApiPrepareSubscription(engine *paying.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PrepareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := engine.PrepareSubscription(c.Request.Context(), req.Provider, req.ProductID, req.UserID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](prepareErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Prepare Purchase
// @Description  Opens a pending one-off charge and returns the provider payload the client needs to complete payment.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body PrepareRequest true "Prepare purchase request"
// @Success      200  {object}  handlers.RespPreparePurchase
// @Router       /api/v1/purchase/prepare [post]
func ApiPreparePurchase(engine *paying.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PrepareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := engine.PreparePurchase(c.Request.Context(), req.Provider, req.ProductID, req.UserID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](prepareErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type CancelSubscriptionRequest struct {
	OriginalTransactionID string `json:"original_transaction_id" binding:"required"`
}

type CancelSubscriptionResponse struct {
	Canceled bool `json:"canceled"`
}

// @Summary      Cancel Subscription
// @Description  Cancels a subscription lineage through its provider. Returns canceled=false when the provider refuses.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body CancelSubscriptionRequest true "Cancel subscription request"
// @Success      200  {object}  handlers.RespCancelSubscription
// @Router       /api/v1/subscription/cancel [post]
func ApiCancelSubscription(engine *paying.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		canceled, err := engine.CancelSubscription(c.Request.Context(), req.OriginalTransactionID)
		if err != nil {
			code := response.APIResponseCodeError
			if errors.Is(err, paying.ErrOriginalTransactionNotFound) {
				code = response.APIResponseCodeBadRequest
			}
			c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CancelSubscriptionResponse{Canceled: canceled}))
	}
}

func prepareErrorCode(err error) response.APIResponseCode {
	if errors.Is(err, paying.ErrUnknownProvider) || errors.Is(err, paying.ErrUnknownProduct) {
		return response.APIResponseCodeBadRequest
	}
	return response.APIResponseCodeError
}

func RegisterPaymentRoutes(r gin.IRouter, engine *paying.Engine) {
	r.POST("/subscription/prepare", ApiPrepareSubscription(engine))
	r.POST("/subscription/cancel", ApiCancelSubscription(engine))
	r.POST("/purchase/prepare", ApiPreparePurchase(engine))
}
