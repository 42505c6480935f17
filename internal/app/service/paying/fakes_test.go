package paying

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/config"
	"github.com/fatflowers/paying/pkg/types"
	"github.com/samber/lo"
)

const testProvider = types.PaymentProvider("fakepay")

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Products: []*types.Product{
			{
				ID:                "premium_monthly",
				ProviderID:        testProvider,
				ProviderProductID: "premium-monthly",
				Kind:              types.ProductKindSubscription,
				Group:             lo.ToPtr("premium"),
				DurationDays:      lo.ToPtr(int64(30)),
			},
			{
				ID:                "premium_yearly",
				ProviderID:        testProvider,
				ProviderProductID: "premium-yearly",
				Kind:              types.ProductKindSubscription,
				Group:             lo.ToPtr("premium"),
				DurationDays:      lo.ToPtr(int64(365)),
			},
			{
				ID:                "coin_pack",
				ProviderID:        testProvider,
				ProviderProductID: "coin-pack",
				Kind:              types.ProductKindPurchase,
			},
		},
		Paying: config.PayingConfig{
			PurchaseExpiresAfterMinutes: 30,
			RenewalBeforeHours:          24,
			SweepBatchSize:              100,
		},
	}
}

// fakeRepo is an in-memory Repository. Reads hand out copies so tests see
// database-like snapshot semantics.
type fakeRepo struct {
	mu  sync.Mutex
	txs map[string]*models.Transaction
	ots map[string]*models.OriginalTransaction
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		txs: map[string]*models.Transaction{},
		ots: map[string]*models.OriginalTransaction{},
	}
}

func copyTx(tx *models.Transaction) *models.Transaction {
	c := *tx
	return &c
}

func copyOT(ot *models.OriginalTransaction) *models.OriginalTransaction {
	c := *ot
	return &c
}

func (r *fakeRepo) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[tx.ID]; ok {
		return fmt.Errorf("duplicate transaction %s", tx.ID)
	}
	r.txs[tx.ID] = copyTx(tx)
	return nil
}

func (r *fakeRepo) Transaction(ctx context.Context, id string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, nil
	}
	return copyTx(tx), nil
}

func (r *fakeRepo) RequireTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := r.Transaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return tx, nil
}

func timeVal(v any) *time.Time {
	if v == nil {
		return nil
	}
	t := v.(time.Time)
	return &t
}

func (r *fakeRepo) UpdateTransaction(ctx context.Context, id string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	for k, v := range fields {
		switch k {
		case "purchased_at":
			tx.PurchasedAt = timeVal(v)
		case "completed_at":
			tx.CompletedAt = timeVal(v)
		case "canceled_at":
			tx.CanceledAt = timeVal(v)
		case "failed_at":
			tx.FailedAt = timeVal(v)
		case "payment_expires_at":
			tx.PaymentExpiresAt = timeVal(v)
		case "cancel_reason":
			tx.CancelReason = lo.ToPtr(v.(string))
		default:
			return fmt.Errorf("unexpected transaction column %q", k)
		}
	}
	return nil
}

func (r *fakeRepo) CreateOriginalTransaction(ctx context.Context, ot *models.OriginalTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ots[ot.ID]; ok {
		return fmt.Errorf("duplicate original transaction %s", ot.ID)
	}
	r.ots[ot.ID] = copyOT(ot)
	return nil
}

func (r *fakeRepo) OriginalTransaction(ctx context.Context, id string) (*models.OriginalTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ot, ok := r.ots[id]
	if !ok {
		return nil, nil
	}
	return copyOT(ot), nil
}

func (r *fakeRepo) RequireOriginalTransaction(ctx context.Context, id string) (*models.OriginalTransaction, error) {
	ot, err := r.OriginalTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if ot == nil {
		return nil, fmt.Errorf("%w: %s", ErrOriginalTransactionNotFound, id)
	}
	return ot, nil
}

func (r *fakeRepo) UpdateOriginalTransaction(ctx context.Context, id string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ot, ok := r.ots[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOriginalTransactionNotFound, id)
	}
	for k, v := range fields {
		switch k {
		case "starts_at":
			ot.StartsAt = timeVal(v)
		case "expires_at":
			ot.ExpiresAt = timeVal(v)
		case "subscribed_at":
			ot.SubscribedAt = timeVal(v)
		case "canceled_at":
			ot.CanceledAt = timeVal(v)
		case "cancel_reason":
			ot.CancelReason = lo.ToPtr(v.(string))
		case "renewal_enabled":
			ot.RenewalEnabled = v.(bool)
		case "product_id":
			ot.ProductID = v.(string)
		case "renewal_product_id":
			ot.RenewalProductID = lo.ToPtr(v.(string))
		case "service_extra":
			ot.ServiceExtra = v.(datatypes.JSONMap)
		case "last_failed_reason":
			ot.LastFailedReason = lo.ToPtr(v.(string))
		case "last_failed_at":
			ot.LastFailedAt = timeVal(v)
		default:
			return fmt.Errorf("unexpected original transaction column %q", k)
		}
	}
	return nil
}

func (r *fakeRepo) sortedTxs() []*models.Transaction {
	out := make([]*models.Transaction, 0, len(r.txs))
	for _, tx := range r.txs {
		out = append(out, copyTx(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeRepo) sortedOTs() []*models.OriginalTransaction {
	out := make([]*models.OriginalTransaction, 0, len(r.ots))
	for _, ot := range r.ots {
		out = append(out, copyOT(ot))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeRepo) UserTransactions(ctx context.Context, userID string) ([]*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range r.sortedTxs() {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *fakeRepo) UserOriginalTransactions(ctx context.Context, userID string) ([]*models.OriginalTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OriginalTransaction
	for _, ot := range r.sortedOTs() {
		if ot.UserID == userID {
			out = append(out, ot)
		}
	}
	return out, nil
}

func (r *fakeRepo) ActiveOriginalTransactionsInGroup(ctx context.Context, userID, group string) ([]*models.OriginalTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OriginalTransaction
	for _, ot := range r.sortedOTs() {
		if ot.UserID != userID || ot.CanceledAt != nil {
			continue
		}
		if ot.ProductGroup != nil && *ot.ProductGroup == group {
			out = append(out, ot)
		}
	}
	return out, nil
}

func (r *fakeRepo) EachPendingTransaction(ctx context.Context, batchSize int, fn func(*models.Transaction) error) error {
	r.mu.Lock()
	pending := []*models.Transaction{}
	for _, tx := range r.sortedTxs() {
		if tx.CompletedAt == nil && tx.CanceledAt == nil && tx.PurchasedAt == nil {
			pending = append(pending, tx)
		}
	}
	r.mu.Unlock()
	for _, tx := range pending {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRepo) EachUncompletedOriginalTransaction(ctx context.Context, batchSize int, fn func(*models.OriginalTransaction) error) error {
	r.mu.Lock()
	uncompleted := []*models.OriginalTransaction{}
	for _, ot := range r.sortedOTs() {
		if ot.SubscribedAt == nil && ot.CanceledAt == nil {
			uncompleted = append(uncompleted, ot)
		}
	}
	r.mu.Unlock()
	for _, ot := range uncompleted {
		if err := fn(ot); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRepo) EachRenewableOriginalTransaction(ctx context.Context, expiringBefore time.Time, batchSize int, fn func(*models.OriginalTransaction) error) error {
	r.mu.Lock()
	renewable := []*models.OriginalTransaction{}
	for _, ot := range r.sortedOTs() {
		if ot.CanceledAt != nil || ot.SubscribedAt == nil || ot.ExpiresAt == nil || !ot.RenewalEnabled {
			continue
		}
		if ot.ExpiresAt.Before(expiringBefore) {
			renewable = append(renewable, ot)
		}
	}
	r.mu.Unlock()
	for _, ot := range renewable {
		if err := fn(ot); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRepo) ScanTransactions(ctx context.Context, req *ScanTransactionsRequest) (*ScanTransactionsResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.sortedTxs()
	return &ScanTransactionsResponse{Items: items, Total: int64(len(items))}, nil
}

var _ Repository = (*fakeRepo)(nil)

// fakeAdapter is a scripted Adapter. Zero value refuses cancels and reports
// everything pending.
type fakeAdapter struct {
	nextID int

	txStatus  map[string]*TransactionStatusResult
	subStatus map[string]*SubscriptionStatusResult

	rechargeFn func(ot *models.OriginalTransaction) (Action, error)
	receipt    *ReceiptContent

	cancelOK    bool
	cancelErr   error
	canceledIDs []string
}

func (f *fakeAdapter) Provider() types.PaymentProvider { return testProvider }

func (f *fakeAdapter) GenerateTransactionID() string {
	f.nextID++
	return fmt.Sprintf("tx-%d", f.nextID)
}

func (f *fakeAdapter) GenerateOriginalTransactionID() string {
	f.nextID++
	return fmt.Sprintf("orig-%d", f.nextID)
}

func (f *fakeAdapter) PrepareSubscriptionData(ctx context.Context, opts *PrepareSubscriptionOptions) (*PreparedSubscription, error) {
	if opts.Product.DurationDays == nil {
		return nil, fmt.Errorf("product %s has no duration", opts.Product.ID)
	}
	return &PreparedSubscription{
		Response:              json.RawMessage(`{"pay_url":"https://pay.example/` + opts.Product.ID + `"}`),
		Duration:              time.Duration(*opts.Product.DurationDays) * 24 * time.Hour,
		TransactionID:         f.GenerateTransactionID(),
		OriginalTransactionID: f.GenerateOriginalTransactionID(),
	}, nil
}

func (f *fakeAdapter) PreparePurchaseData(ctx context.Context, opts *PreparePurchaseOptions) (*PreparedPurchase, error) {
	return &PreparedPurchase{
		Response:      json.RawMessage(`{}`),
		TransactionID: f.GenerateTransactionID(),
	}, nil
}

func (f *fakeAdapter) ParseCallback(ctx context.Context, raw []byte) (Action, error) {
	var envelope struct {
		Action string          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Action {
	case "payment-confirmed":
		var a PaymentConfirmedAction
		return &a, json.Unmarshal(envelope.Data, &a)
	case "subscription-canceled":
		var a SubscriptionCanceledAction
		return &a, json.Unmarshal(envelope.Data, &a)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("bad callback action %q", envelope.Action)
	}
}

func (f *fakeAdapter) ParseReceipt(ctx context.Context, userID string, raw []byte) (*ReceiptContent, error) {
	if f.receipt == nil {
		return nil, fmt.Errorf("no receipt scripted")
	}
	return f.receipt, nil
}

func (f *fakeAdapter) QueryTransactionStatus(ctx context.Context, transactionID string) (*TransactionStatusResult, error) {
	if res, ok := f.txStatus[transactionID]; ok {
		return res, nil
	}
	return &TransactionStatusResult{Kind: TransactionStatusKindPending}, nil
}

func (f *fakeAdapter) QuerySubscriptionStatus(ctx context.Context, originalTransactionID string) (*SubscriptionStatusResult, error) {
	if res, ok := f.subStatus[originalTransactionID]; ok {
		return res, nil
	}
	return &SubscriptionStatusResult{Kind: SubscriptionStatusKindPending}, nil
}

func (f *fakeAdapter) RechargeSubscription(ctx context.Context, lineage *models.OriginalTransaction, paymentExpiresAt time.Time) (Action, error) {
	if f.rechargeFn == nil {
		return nil, nil
	}
	return f.rechargeFn(lineage)
}

func (f *fakeAdapter) CancelSubscription(ctx context.Context, lineage *models.OriginalTransaction) (bool, error) {
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	if f.cancelOK {
		f.canceledIDs = append(f.canceledIDs, lineage.ID)
	}
	return f.cancelOK, nil
}

var _ Adapter = (*fakeAdapter)(nil)

func newTestEngine(repo *fakeRepo, adapter *fakeAdapter) *Engine {
	e := NewEngine(repo, map[types.PaymentProvider]Adapter{testProvider: adapter}, testConfig(), zap.NewNop().Sugar(), nil, nil)
	e.now = func() time.Time { return testNow }
	return e
}
