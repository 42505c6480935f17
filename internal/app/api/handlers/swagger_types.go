package handlers

import (
	"github.com/fatflowers/paying/internal/app/service/paying"
	"github.com/fatflowers/paying/internal/app/service/statistics"
	"github.com/fatflowers/paying/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespPrepareSubscription wraps PrepareSubscriptionResult in the standard envelope.
type RespPrepareSubscription struct {
	Code    response.APIResponseCode         `json:"code"`
	Message string                           `json:"message"`
	Data    paying.PrepareSubscriptionResult `json:"data"`
}

// RespPreparePurchase wraps PreparePurchaseResult in the standard envelope.
type RespPreparePurchase struct {
	Code    response.APIResponseCode     `json:"code"`
	Message string                       `json:"message"`
	Data    paying.PreparePurchaseResult `json:"data"`
}

// RespCancelSubscription wraps CancelSubscriptionResponse in the standard envelope.
type RespCancelSubscription struct {
	Code    response.APIResponseCode   `json:"code"`
	Message string                     `json:"message"`
	Data    CancelSubscriptionResponse `json:"data"`
}

// RespUserSubscriptions wraps UserSubscriptionsResponse in the standard envelope.
type RespUserSubscriptions struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    UserSubscriptionsResponse `json:"data"`
}

// RespUserExpiresAt wraps UserExpiresAtResponse in the standard envelope.
type RespUserExpiresAt struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    UserExpiresAtResponse    `json:"data"`
}

// RespListTransactions wraps ListTransactionsResponse in the standard envelope.
type RespListTransactions struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListTransactionsResponse `json:"data"`
}

// RespPayingStatistic wraps PayingStatisticResponse in the standard envelope.
type RespPayingStatistic struct {
	Code    response.APIResponseCode           `json:"code"`
	Message string                             `json:"message"`
	Data    statistics.PayingStatisticResponse `json:"data"`
}
