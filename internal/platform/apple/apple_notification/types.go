package apple_notification

// AppStoreServerRequest is the webhook body: a single signed JWS payload.
type AppStoreServerRequest struct {
	SignedPayload string `json:"signedPayload"`
}

type NotificationHeader struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c"`
}

// NotificationPayload is the decoded responseBodyV2DecodedPayload.
type NotificationPayload struct {
	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`
}

func (p *NotificationPayload) Valid() error { return nil }

type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// TransactionInfo is the decoded JWSTransactionDecodedPayload.
type TransactionInfo struct {
	AppAccountToken             string `json:"appAccountToken"`
	BundleId                    string `json:"bundleId"`
	Currency                    string `json:"currency"`
	Environment                 string `json:"environment"`
	ExpiresDate                 int64  `json:"expiresDate"`
	InAppOwnershipType          string `json:"inAppOwnershipType"`
	OriginalPurchaseDate        int64  `json:"originalPurchaseDate"`
	OriginalTransactionId       string `json:"originalTransactionId"`
	Price                       int64  `json:"price"`
	ProductId                   string `json:"productId"`
	PurchaseDate                int64  `json:"purchaseDate"`
	Quantity                    int64  `json:"quantity"`
	RevocationDate              int64  `json:"revocationDate"`
	RevocationReason            int64  `json:"revocationReason"`
	SignedDate                  int64  `json:"signedDate"`
	SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier"`
	TransactionId               string `json:"transactionId"`
	Type                        string `json:"type"`
	WebOrderLineItemId          string `json:"webOrderLineItemId"`
}

func (t *TransactionInfo) Valid() error { return nil }

// RenewalInfo is the decoded JWSRenewalInfoDecodedPayload.
type RenewalInfo struct {
	AutoRenewProductId     string `json:"autoRenewProductId"`
	AutoRenewStatus        int64  `json:"autoRenewStatus"`
	Environment            string `json:"environment"`
	ExpirationIntent       int64  `json:"expirationIntent"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod"`
	OriginalTransactionId  string `json:"originalTransactionId"`
	ProductId              string `json:"productId"`
	RecentSubscriptionStartDate int64 `json:"recentSubscriptionStartDate"`
	RenewalDate            int64  `json:"renewalDate"`
	SignedDate             int64  `json:"signedDate"`
}

func (r *RenewalInfo) Valid() error { return nil }

// AppStoreServerNotification is the verified, decoded notification.
type AppStoreServerNotification struct {
	Payload            *NotificationPayload
	TransactionInfo    *TransactionInfo
	RenewalInfo        *RenewalInfo
	IsValid            bool
	IsTestNotification bool
	IsSandbox          bool

	appleRootCert string
}
