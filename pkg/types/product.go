package types

type PaymentProvider string

const (
	PaymentProviderApple     PaymentProvider = "apple"
	PaymentProviderAgreement PaymentProvider = "agreement"
)

type ProductKind string

const (
	ProductKindPurchase     ProductKind = "purchase"
	ProductKindSubscription ProductKind = "subscription"
)

// Product is a catalog entry. Subscription products belong to a group of
// mutually exclusive tiers; at most one lineage per user may be active in a
// group at a time.
type Product struct {
	ID         string          `json:"id" mapstructure:"id"`
	ProviderID PaymentProvider `json:"provider_id" mapstructure:"provider_id"`
	// ProviderProductID is the provider-side product identifier (e.g. the
	// App Store product id), which may differ from our catalog id.
	ProviderProductID string      `json:"provider_product_id" mapstructure:"provider_product_id"`
	Kind              ProductKind `json:"kind" mapstructure:"kind"`
	Group             *string     `json:"group" mapstructure:"group"`
	// DurationDays is the entitlement length of one billing cycle. Nil for
	// non-duration purchases.
	DurationDays *int64 `json:"duration_days" mapstructure:"duration_days"`
}

func (p *Product) IsSubscription() bool {
	return p.Kind == ProductKindSubscription
}

func (p *Product) GroupOrEmpty() string {
	if p == nil || p.Group == nil {
		return ""
	}
	return *p.Group
}
