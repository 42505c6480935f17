package paying

import (
	"context"
	"errors"
	"time"

	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/types"
)

var (
	ErrTransactionNotFound         = errors.New("transaction not found")
	ErrOriginalTransactionNotFound = errors.New("original transaction not found")
)

// Scan transaction request/response, used by admin list pages.
type ScanTransactionsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanTransactionsResponse struct {
	Items []*models.Transaction `json:"items"`
	Total int64                 `json:"total"`
}

// Repository is the engine's view of the ledger store. The engine is the only
// writer of both entities; everything else reads.
type Repository interface {
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	// Transaction returns (nil, nil) when the id is unknown.
	Transaction(ctx context.Context, id string) (*models.Transaction, error)
	// RequireTransaction fails with ErrTransactionNotFound when absent.
	RequireTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// UpdateTransaction atomically sets the given columns on one row.
	UpdateTransaction(ctx context.Context, id string, fields map[string]any) error

	CreateOriginalTransaction(ctx context.Context, ot *models.OriginalTransaction) error
	OriginalTransaction(ctx context.Context, id string) (*models.OriginalTransaction, error)
	RequireOriginalTransaction(ctx context.Context, id string) (*models.OriginalTransaction, error)
	UpdateOriginalTransaction(ctx context.Context, id string, fields map[string]any) error

	UserTransactions(ctx context.Context, userID string) ([]*models.Transaction, error)
	UserOriginalTransactions(ctx context.Context, userID string) ([]*models.OriginalTransaction, error)
	// ActiveOriginalTransactionsInGroup returns the user's non-canceled
	// lineages in a product group.
	ActiveOriginalTransactionsInGroup(ctx context.Context, userID, group string) ([]*models.OriginalTransaction, error)

	// Sweep cursors. fn is invoked per item; returning an error stops the
	// iteration (per-item error isolation is the engine's job, not the
	// repository's).
	EachPendingTransaction(ctx context.Context, batchSize int, fn func(*models.Transaction) error) error
	EachUncompletedOriginalTransaction(ctx context.Context, batchSize int, fn func(*models.OriginalTransaction) error) error
	EachRenewableOriginalTransaction(ctx context.Context, expiringBefore time.Time, batchSize int, fn func(*models.OriginalTransaction) error) error

	ScanTransactions(ctx context.Context, req *ScanTransactionsRequest) (*ScanTransactionsResponse, error)
}
