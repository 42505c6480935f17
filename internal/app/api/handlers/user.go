package handlers

import (
	"net/http"
	"time"

	"github.com/fatflowers/paying/internal/app/service/paying"
	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/response"
	"github.com/fatflowers/paying/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type UserSubscriptionItem struct {
	OriginalTransaction *models.OriginalTransaction `json:"original_transaction"`
	Status              types.SubscriptionStatus    `json:"status"`
	Cycles              []*models.Transaction       `json:"cycles"`
}

type UserSubscriptionsResponse struct {
	Subscriptions []*UserSubscriptionItem `json:"subscriptions"`
	Purchases     []*models.Transaction   `json:"purchases"`
}

// @Summary      List User Subscriptions
// @Description  Returns the user's subscription lineages with their billing cycles, plus one-off purchases.
// @Tags         User
// @Produce      json
// @Param        user_id query string true "User ID"
// @Success      200  {object}  handlers.RespUserSubscriptions
// @Router       /api/v1/user/subscriptions [get]
func ApiUserSubscriptions(engine *paying.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id"))
			return
		}
		user, err := engine.User(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		now := time.Now()
		c.JSON(http.StatusOK, response.OKT(&UserSubscriptionsResponse{
			Subscriptions: lo.Map(user.Subscriptions, func(s *paying.Subscription, _ int) *UserSubscriptionItem {
				return &UserSubscriptionItem{
					OriginalTransaction: s.Original,
					Status:              s.StatusOf(now),
					Cycles:              s.Cycles,
				}
			}),
			Purchases: user.Purchases,
		}))
	}
}

type UserExpiresAtItem struct {
	Group     string    `json:"group"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

type UserExpiresAtResponse struct {
	Groups []*UserExpiresAtItem `json:"groups"`
}

// @Summary      Get User Entitlement Expiry
// @Description  Returns the cumulative entitlement expiry per product group. Stacked windows extend each other instead of overlapping.
// @Tags         User
// @Produce      json
// @Param        user_id query string true "User ID"
// @Success      200  {object}  handlers.RespUserExpiresAt
// @Router       /api/v1/user/expires-at [get]
func ApiUserExpiresAt(engine *paying.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id"))
			return
		}
		user, err := engine.User(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		now := time.Now()
		out := &UserExpiresAtResponse{}
		for _, group := range user.Groups() {
			expiresAt := user.ExpiresAt(group, now)
			out.Groups = append(out.Groups, &UserExpiresAtItem{
				Group:     group,
				ExpiresAt: expiresAt,
				Active:    expiresAt.After(now),
			})
		}
		c.JSON(http.StatusOK, response.OKT(out))
	}
}

func RegisterUserRoutes(r gin.IRouter, engine *paying.Engine) {
	r.GET("/subscriptions", ApiUserSubscriptions(engine))
	r.GET("/expires-at", ApiUserExpiresAt(engine))
}
