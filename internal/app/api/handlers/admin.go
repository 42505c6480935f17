package handlers

import (
	"net/http"
	"time"

	"github.com/fatflowers/paying/internal/app/service/paying"
	"github.com/fatflowers/paying/internal/app/service/statistics"
	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/response"
	"github.com/fatflowers/paying/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type ListTransactionRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type TransactionItem struct {
	ID                    string                  `json:"id"`
	Type                  types.TransactionType   `json:"type"`
	Status                types.TransactionStatus `json:"status"`
	UserID                string                  `json:"user_id"`
	ProviderID            types.PaymentProvider   `json:"provider_id"`
	ProductID             string                  `json:"product_id"`
	ProductGroup          *string                 `json:"product_group"`
	OriginalTransactionID *string                 `json:"original_transaction_id"`
	StartsAt              *time.Time              `json:"starts_at"`
	ExpiresAt             *time.Time              `json:"expires_at"`
	PurchasedAt           *time.Time              `json:"purchased_at"`
	CompletedAt           *time.Time              `json:"completed_at"`
	CanceledAt            *time.Time              `json:"canceled_at"`
	CancelReason          *string                 `json:"cancel_reason"`
	FailedAt              *time.Time              `json:"failed_at"`
	PaymentExpiresAt      *time.Time              `json:"payment_expires_at"`
	CreatedAt             time.Time               `json:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

func toTransactionItem(m *models.Transaction) *TransactionItem {
	return &TransactionItem{
		ID:                    m.ID,
		Type:                  m.Type,
		Status:                m.Status(),
		UserID:                m.UserID,
		ProviderID:            m.ProviderID,
		ProductID:             m.ProductID,
		ProductGroup:          m.ProductGroup,
		OriginalTransactionID: m.OriginalTransactionID,
		StartsAt:              m.StartsAt,
		ExpiresAt:             m.ExpiresAt(),
		PurchasedAt:           m.PurchasedAt,
		CompletedAt:           m.CompletedAt,
		CanceledAt:            m.CanceledAt,
		CancelReason:          m.CancelReason,
		FailedAt:              m.FailedAt,
		PaymentExpiresAt:      m.PaymentExpiresAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

type ListTransactionsResponse struct {
	Items []*TransactionItem `json:"items"`
	Total int64              `json:"total"`
}

// @Summary      List Transactions (Admin)
// @Description  Retrieves a paginated and filterable list of charge attempts across all users.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ListTransactionRequest true "List transaction request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListTransactions
// @Router       /api/v1/admin/transaction/list [post]
func ApiListTransactions(repo paying.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := repo.ScanTransactions(c.Request.Context(), &paying.ScanTransactionsRequest{
			Filters:   req.Filters,
			From:      req.From,
			Size:      req.Size,
			SortBy:    req.SortBy,
			SortOrder: req.SortOrder,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		items := lo.Map(res.Items, func(it *models.Transaction, _ int) *TransactionItem { return toTransactionItem(it) })
		c.JSON(http.StatusOK, response.OKT(&ListTransactionsResponse{Items: items, Total: res.Total}))
	}
}

// @Summary      Get Paying Statistics (Admin)
// @Description  Retrieves daily transaction and lineage statistics.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.PayingStatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespPayingStatistic
// @Router       /api/v1/admin/get_paying_statistic [post]
func ApiGetPayingStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.PayingStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetPayingStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, repo paying.Repository, stats *statistics.Service) {
	r.POST("/transaction/list", ApiListTransactions(repo))
	r.POST("/get_paying_statistic", ApiGetPayingStatistic(stats))
}
