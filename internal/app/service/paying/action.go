package paying

import (
	"time"
)

// Action is the normalized outcome of a provider interaction. Adapters parse
// callbacks, receipts and polling results into Actions; only the engine
// applies them to the ledger.
type Action interface {
	ActionType() string
	isAction()
}

const (
	ActionTypePaymentConfirmed     = "payment-confirmed"
	ActionTypeSubscribed           = "subscribed"
	ActionTypeSubscriptionRenewal  = "subscription-renewal"
	ActionTypeChangeRenewalStatus  = "change-renewal-status"
	ActionTypeChangeRenewalInfo    = "change-renewal-info"
	ActionTypeSubscriptionCanceled = "subscription-canceled"
	ActionTypeRechargeFailed       = "recharge-failed"
)

// PaymentConfirmedAction completes a transaction. For subscription cycles it
// also extends the parent lineage's entitlement window.
type PaymentConfirmedAction struct {
	TransactionID string    `json:"transaction_id"`
	PurchasedAt   time.Time `json:"purchased_at"`
}

// SubscribedAction marks a lineage as provider-confirmed.
type SubscribedAction struct {
	OriginalTransactionID string         `json:"original_transaction_id"`
	SubscribedAt          time.Time      `json:"subscribed_at"`
	Extra                 map[string]any `json:"extra,omitempty"`
	// AutoRenewalEnabled defaults to true when the provider did not say.
	AutoRenewalEnabled *bool `json:"auto_renewal_enabled,omitempty"`
}

// SubscriptionRenewalAction records one renewal cycle: the cycle transaction
// is created if it does not exist yet, then confirmed.
type SubscriptionRenewalAction struct {
	TransactionID         string        `json:"transaction_id"`
	OriginalTransactionID string        `json:"original_transaction_id"`
	ProductID             string        `json:"product_id"`
	PurchasedAt           time.Time     `json:"purchased_at"`
	Duration              time.Duration `json:"duration"`
}

type ChangeRenewalStatusAction struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	RenewalEnabled        bool   `json:"renewal_enabled"`
}

// ChangeRenewalInfoAction applies a plan change: the current product and the
// product the next cycle will charge.
type ChangeRenewalInfoAction struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	RenewalEnabled        bool   `json:"renewal_enabled"`
	ProductID             string `json:"product_id"`
	RenewalProductID      string `json:"renewal_product_id"`
}

// SubscriptionCanceledAction is the only terminal transition.
type SubscriptionCanceledAction struct {
	OriginalTransactionID string    `json:"original_transaction_id"`
	CanceledAt            time.Time `json:"canceled_at"`
	Reason                *string   `json:"reason,omitempty"`
}

// RechargeFailedAction records a failed renewal charge without changing the
// lineage state.
type RechargeFailedAction struct {
	OriginalTransactionID string    `json:"original_transaction_id"`
	Reason                string    `json:"reason"`
	FailedAt              time.Time `json:"failed_at"`
}

func (PaymentConfirmedAction) ActionType() string     { return ActionTypePaymentConfirmed }
func (SubscribedAction) ActionType() string           { return ActionTypeSubscribed }
func (SubscriptionRenewalAction) ActionType() string  { return ActionTypeSubscriptionRenewal }
func (ChangeRenewalStatusAction) ActionType() string  { return ActionTypeChangeRenewalStatus }
func (ChangeRenewalInfoAction) ActionType() string    { return ActionTypeChangeRenewalInfo }
func (SubscriptionCanceledAction) ActionType() string { return ActionTypeSubscriptionCanceled }
func (RechargeFailedAction) ActionType() string       { return ActionTypeRechargeFailed }

func (PaymentConfirmedAction) isAction()     {}
func (SubscribedAction) isAction()           {}
func (SubscriptionRenewalAction) isAction()  {}
func (ChangeRenewalStatusAction) isAction()  {}
func (ChangeRenewalInfoAction) isAction()    {}
func (SubscriptionCanceledAction) isAction() {}
func (RechargeFailedAction) isAction()       {}
