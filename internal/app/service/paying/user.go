package paying

import (
	"context"
	"sort"
	"time"

	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/types"
)

// Subscription pairs a lineage with its billing-cycle transactions.
type Subscription struct {
	Original *models.OriginalTransaction `json:"original_transaction"`
	Cycles   []*models.Transaction       `json:"cycles"`
}

// GroupKey is what entitlements aggregate under: the product group when the
// lineage has one, the product itself otherwise.
func (s *Subscription) GroupKey() string {
	if g := s.Original.ProductGroup; g != nil && *g != "" {
		return *g
	}
	return s.Original.ProductID
}

// User is the read model over one user's ledger. Not persisted; rebuilt from
// the two collections on demand.
type User struct {
	ID            string                `json:"id"`
	Subscriptions []*Subscription       `json:"subscriptions"`
	Purchases     []*models.Transaction `json:"purchases"`

	byGroup map[string][]*Subscription
}

func (e *Engine) User(ctx context.Context, userID string) (*User, error) {
	lineages, err := e.repo.UserOriginalTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	transactions, err := e.repo.UserTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}

	cyclesByLineage := map[string][]*models.Transaction{}
	var purchases []*models.Transaction
	for _, tx := range transactions {
		if tx.IsSubscription() && tx.OriginalTransactionID != nil {
			cyclesByLineage[*tx.OriginalTransactionID] = append(cyclesByLineage[*tx.OriginalTransactionID], tx)
		} else {
			purchases = append(purchases, tx)
		}
	}

	u := &User{ID: userID, Purchases: purchases, byGroup: map[string][]*Subscription{}}
	for _, ot := range lineages {
		sub := &Subscription{Original: ot, Cycles: cyclesByLineage[ot.ID]}
		u.Subscriptions = append(u.Subscriptions, sub)
		key := sub.GroupKey()
		u.byGroup[key] = append(u.byGroup[key], sub)
	}
	return u, nil
}

// ExpiresAt computes the cumulative entitlement for one group. Overlapping
// or contiguous windows stack their durations; a window that starts in the
// future is unreachable and stops the walk; a past gap starts a fresh window.
//
// A user who buys a yearly plan while a monthly one still runs is entitled
// until monthly.expiresAt + year, not merely until the yearly window's end.
func (u *User) ExpiresAt(group string, now time.Time) time.Time {
	subs := append([]*Subscription(nil), u.byGroup[group]...)
	sort.Slice(subs, func(i, j int) bool {
		si, sj := subs[i].Original.StartsAt, subs[j].Original.StartsAt
		switch {
		case si == nil:
			return false
		case sj == nil:
			return true
		default:
			return si.Before(*sj)
		}
	})

	var expiresAt time.Time
	for _, sub := range subs {
		ot := sub.Original
		if ot.StartsAt == nil || ot.ExpiresAt == nil {
			continue
		}
		if !ot.StartsAt.After(expiresAt) {
			expiresAt = expiresAt.Add(ot.ExpiresAt.Sub(*ot.StartsAt))
			continue
		}
		if ot.StartsAt.After(now) {
			break
		}
		expiresAt = *ot.ExpiresAt
	}
	return expiresAt
}

// Groups lists the group keys the user has subscriptions under.
func (u *User) Groups() []string {
	keys := make([]string, 0, len(u.byGroup))
	for k := range u.byGroup {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EntitledUntil reports, per group, the cumulative expiry and whether it is
// still in the future.
func (u *User) EntitledUntil(now time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(u.byGroup))
	for _, g := range u.Groups() {
		out[g] = u.ExpiresAt(g, now)
	}
	return out
}

// StatusOf derives the lineage status relative to now.
func (s *Subscription) StatusOf(now time.Time) types.SubscriptionStatus {
	return s.Original.Status(now)
}
