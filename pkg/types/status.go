package types

type TransactionType string

const (
	TransactionTypePurchase     TransactionType = "purchase"
	TransactionTypeSubscription TransactionType = "subscription"
)

// TransactionStatus is derived from a transaction's timestamps, never stored.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusCanceled  TransactionStatus = "canceled"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// SubscriptionStatus is derived from a lineage's timestamps, never stored.
type SubscriptionStatus string

const (
	SubscriptionStatusPending    SubscriptionStatus = "pending"
	SubscriptionStatusNotStarted SubscriptionStatus = "not-started"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusExpired    SubscriptionStatus = "expired"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)
