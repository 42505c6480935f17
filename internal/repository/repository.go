package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/paying/internal/app/service/paying"
	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/types"
)

// Repo is the gorm-backed ledger store. The engine only sees the
// paying.Repository interface.
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) paying.Repository {
	return &Repo{db: db}
}

func (r *Repo) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *Repo) Transaction(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *Repo) RequireTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := r.Transaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", paying.ErrTransactionNotFound, id)
	}
	return tx, nil
}

func (r *Repo) UpdateTransaction(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", paying.ErrTransactionNotFound, id)
	}
	return nil
}

func (r *Repo) CreateOriginalTransaction(ctx context.Context, ot *models.OriginalTransaction) error {
	return r.db.WithContext(ctx).Create(ot).Error
}

func (r *Repo) OriginalTransaction(ctx context.Context, id string) (*models.OriginalTransaction, error) {
	var ot models.OriginalTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ot, nil
}

func (r *Repo) RequireOriginalTransaction(ctx context.Context, id string) (*models.OriginalTransaction, error) {
	ot, err := r.OriginalTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if ot == nil {
		return nil, fmt.Errorf("%w: %s", paying.ErrOriginalTransactionNotFound, id)
	}
	return ot, nil
}

func (r *Repo) UpdateOriginalTransaction(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.OriginalTransaction{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", paying.ErrOriginalTransactionNotFound, id)
	}
	return nil
}

func (r *Repo) UserTransactions(ctx context.Context, userID string) ([]*models.Transaction, error) {
	var rows []*models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&rows).Error
	return rows, err
}

func (r *Repo) UserOriginalTransactions(ctx context.Context, userID string) ([]*models.OriginalTransaction, error) {
	var rows []*models.OriginalTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&rows).Error
	return rows, err
}

func (r *Repo) ActiveOriginalTransactionsInGroup(ctx context.Context, userID, group string) ([]*models.OriginalTransaction, error) {
	var rows []*models.OriginalTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_group = ? AND canceled_at IS NULL", userID, group).
		Find(&rows).Error
	return rows, err
}

// eachByKeyset walks a filtered table in id order, one batch at a time, so a
// sweep never holds the whole result set in memory.
func eachByKeyset[T any](ctx context.Context, db *gorm.DB, cond string, args []any, batchSize int, fn func(*T) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	lastID := ""
	for {
		var rows []*T
		q := db.WithContext(ctx).Where(cond, args...)
		if lastID != "" {
			q = q.Where("id > ?", lastID)
		}
		if err := q.Order("id asc").Limit(batchSize).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			if err := fn(row); err != nil {
				return err
			}
		}
		lastID = idOf(rows[len(rows)-1])
		if len(rows) < batchSize {
			return nil
		}
	}
}

func idOf(v any) string {
	switch m := v.(type) {
	case *models.Transaction:
		return m.ID
	case *models.OriginalTransaction:
		return m.ID
	default:
		return ""
	}
}

func (r *Repo) EachPendingTransaction(ctx context.Context, batchSize int, fn func(*models.Transaction) error) error {
	return eachByKeyset[models.Transaction](ctx, r.db,
		"completed_at IS NULL AND canceled_at IS NULL AND purchased_at IS NULL",
		nil, batchSize, fn)
}

func (r *Repo) EachUncompletedOriginalTransaction(ctx context.Context, batchSize int, fn func(*models.OriginalTransaction) error) error {
	return eachByKeyset[models.OriginalTransaction](ctx, r.db,
		"subscribed_at IS NULL AND canceled_at IS NULL",
		nil, batchSize, fn)
}

func (r *Repo) EachRenewableOriginalTransaction(ctx context.Context, expiringBefore time.Time, batchSize int, fn func(*models.OriginalTransaction) error) error {
	return eachByKeyset[models.OriginalTransaction](ctx, r.db,
		"expires_at < ? AND canceled_at IS NULL AND subscribed_at IS NOT NULL AND renewal_enabled = true",
		[]any{expiringBefore}, batchSize, fn)
}

// filtersAnd is a helper to combine multiple CommonFilter into a single clause.Expression
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// ScanTransactions implements paginated/admin listing with filters
func (r *Repo) ScanTransactions(ctx context.Context, req *paying.ScanTransactionsRequest) (*paying.ScanTransactionsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := r.db.WithContext(ctx).Model(&models.Transaction{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	var rows []*models.Transaction

	q := tx.Limit(req.Size)

	if req.From > 0 {
		q = q.Offset(req.From)
	}

	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return &paying.ScanTransactionsResponse{Items: rows, Total: total}, nil
}
