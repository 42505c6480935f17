package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/tool"
	"github.com/fatflowers/paying/pkg/types"
)

type StatisticType string

const (
	// Daily charge volumes
	StatisticTypeDailyTransactionCount          StatisticType = "daily_transaction_count"
	StatisticTypeDailyCompletedTransactionCount StatisticType = "daily_completed_transaction_count"

	// Lineage state, read from the daily snapshots
	StatisticTypeDailyActiveLineageCount   StatisticType = "daily_active_lineage_count"
	StatisticTypeDailyCanceledLineageCount StatisticType = "daily_canceled_lineage_count"

	// Renewal health
	StatisticTypeDailyRechargeFailureCount StatisticType = "daily_recharge_failure_count"
)

type PayingStatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type PayingStatisticRequest struct {
	Filters   []*types.CommonFilter      `json:"filters"`
	DataItems []*PayingStatisticDataItem `json:"data_items"`
}

// Build composes a WHERE clause from the request filters.
func (f *PayingStatisticRequest) Build(builder clause.Builder) {
	if f == nil || len(f.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, filter := range f.Filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		filter.Build(builder)
	}
}

type PayingStatisticResponseDataItem struct {
	Date  string `json:"date"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type PayingStatisticResponse struct {
	DataItems map[StatisticType][]PayingStatisticResponseDataItem `json:"data_items"`
}

// Service provides statistics operations
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

// SaveDailySnapshots copies every lineage's derived state for one day. Safe
// to re-run: the (lineage, date) pair is unique and conflicting rows are
// replaced.
func (s *Service) SaveDailySnapshots(ctx context.Context, snapshotDate time.Time) (int, error) {
	date := snapshotDate.Format(time.DateOnly)
	count := 0
	var batch []*models.OriginalTransaction
	err := s.db.WithContext(ctx).FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
		rows := lo.Map(batch, func(ot *models.OriginalTransaction, _ int) *models.PayingDailySnapshot {
			return &models.PayingDailySnapshot{
				ID:                    tool.GenerateUUIDV7(),
				OriginalTransactionID: ot.ID,
				UserID:                ot.UserID,
				ProviderID:            ot.ProviderID,
				ProductID:             ot.ProductID,
				Status:                ot.Status(snapshotDate),
				RenewalEnabled:        ot.RenewalEnabled,
				ExpiresAt:             ot.ExpiresAt,
				SnapshotDate:          date,
				SnapshotCreatedAt:     time.Now(),
			}
		})
		if len(rows) == 0 {
			return nil
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "original_transaction_id"}, {Name: "snapshot_date"}},
			UpdateAll: true,
		}).Create(rows).Error; err != nil {
			return err
		}
		count += len(rows)
		return nil
	}).Error
	return count, err
}

func (s *Service) getDailyTransactionCount(ctx context.Context, request *PayingStatisticRequest) ([]PayingStatisticResponseDataItem, error) {
	var results []PayingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Transaction{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, provider_id AS label, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request}}).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Group("provider_id").
		Order("date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyCompletedTransactionCount(ctx context.Context, request *PayingStatisticRequest) ([]PayingStatisticResponseDataItem, error) {
	var results []PayingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.Transaction{}).TableName()).
		Select("TO_CHAR(completed_at, 'YYYY-MM-DD') as date, provider_id AS label, count(*) as value").
		Where("completed_at IS NOT NULL").
		Where(clause.Where{Exprs: []clause.Expression{request}}).
		Group("TO_CHAR(completed_at, 'YYYY-MM-DD')").
		Group("provider_id").
		Order("date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyLineageCountByStatus(ctx context.Context, request *PayingStatisticRequest, status types.SubscriptionStatus) ([]PayingStatisticResponseDataItem, error) {
	var results []PayingStatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.PayingDailySnapshot{}).TableName()).
		Select("snapshot_date as date, count(*) as value").
		Where("status = ?", status).
		Where(clause.Where{Exprs: []clause.Expression{request}}).
		Group("snapshot_date").
		Order("snapshot_date")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyRechargeFailureCount(ctx context.Context, _ *PayingStatisticRequest) ([]PayingStatisticResponseDataItem, error) {
	var results []PayingStatisticResponseDataItem
	err := s.db.WithContext(ctx).Raw(`
SELECT TO_CHAR(last_failed_at, 'YYYY-MM-DD') as date, COUNT(*) as value
FROM paying_original_transaction
WHERE last_failed_at IS NOT NULL
GROUP BY TO_CHAR(last_failed_at, 'YYYY-MM-DD')
ORDER BY date DESC
`).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getPayingStatistic(ctx context.Context, request *PayingStatisticRequest, dataItem *PayingStatisticDataItem) ([]PayingStatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeDailyTransactionCount:
		return s.getDailyTransactionCount(ctx, request)
	case StatisticTypeDailyCompletedTransactionCount:
		return s.getDailyCompletedTransactionCount(ctx, request)
	case StatisticTypeDailyActiveLineageCount:
		return s.getDailyLineageCountByStatus(ctx, request, types.SubscriptionStatusActive)
	case StatisticTypeDailyCanceledLineageCount:
		return s.getDailyLineageCountByStatus(ctx, request, types.SubscriptionStatusCanceled)
	case StatisticTypeDailyRechargeFailureCount:
		return s.getDailyRechargeFailureCount(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

func (s *Service) GetPayingStatistic(ctx context.Context, request *PayingStatisticRequest) (*PayingStatisticResponse, error) {
	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []PayingStatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *PayingStatisticDataItem) {
			defer wg.Done()
			res, err := s.getPayingStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []PayingStatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]PayingStatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return nil, err
			}
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &PayingStatisticResponse{DataItems: results}, nil
}
