package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/memtrace/pkg/model"
)

// RunRepository defines operations for analysis run persistence.
type RunRepository interface {
	// SaveRun stores an aggregated analysis and its per-thread rows.
	// Saving the same run id again replaces the previous report.
	SaveRun(ctx context.Context, analysis *model.AggregatedAnalysis) error

	// GetRun retrieves a stored analysis by run id.
	GetRun(ctx context.Context, runID string) (*model.AggregatedAnalysis, error)

	// ListRuns returns the most recent run summaries, newest first.
	ListRuns(ctx context.Context, limit int) ([]*AnalysisRun, error)

	// GetThreadStats returns the per-thread rows of a run ordered by thread id.
	GetThreadStats(ctx context.Context, runID string) ([]*model.ThreadStats, error)

	// DeleteRun removes a run and its thread rows.
	DeleteRun(ctx context.Context, runID string) error
}

// GormRunRepository implements RunRepository using GORM.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository.
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// SaveRun stores an aggregated analysis and its per-thread rows.
func (r *GormRunRepository) SaveRun(ctx context.Context, analysis *model.AggregatedAnalysis) error {
	if analysis.RunID == "" {
		return fmt.Errorf("analysis has no run id")
	}

	row, err := newAnalysisRun(analysis)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).Create(row).Error
		if err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}

		// Replace thread rows wholesale; the run row is the source of truth.
		if err := tx.Where("run_id = ?", analysis.RunID).Delete(&ThreadStatRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear thread stats: %w", err)
		}

		for _, id := range analysis.ThreadIDs() {
			ts := analysis.PerThread[id]
			threadRow := &ThreadStatRow{
				RunID:          analysis.RunID,
				ThreadID:       ts.ThreadID,
				AllocCount:     ts.AllocCount,
				DeallocCount:   ts.DeallocCount,
				BytesAllocated: ts.BytesAllocated,
				PeakBytes:      ts.PeakConcurrentBytes,
				SampledEvents:  ts.SampledEvents,
				Partial:        ts.Partial,
			}
			if err := tx.Create(threadRow).Error; err != nil {
				return fmt.Errorf("failed to save thread stats: %w", err)
			}
		}

		return nil
	})
}

// GetRun retrieves a stored analysis by run id.
func (r *GormRunRepository) GetRun(ctx context.Context, runID string) (*model.AggregatedAnalysis, error) {
	var row AnalysisRun

	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	analysis, err := row.ToModel()
	if err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	return analysis, nil
}

// ListRuns returns the most recent run summaries, newest first.
func (r *GormRunRepository) ListRuns(ctx context.Context, limit int) ([]*AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []*AnalysisRun
	err := r.db.WithContext(ctx).
		Order("analyzed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return rows, nil
}

// GetThreadStats returns the per-thread rows of a run ordered by thread id.
func (r *GormRunRepository) GetThreadStats(ctx context.Context, runID string) ([]*model.ThreadStats, error) {
	var rows []ThreadStatRow

	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("thread_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query thread stats: %w", err)
	}

	result := make([]*model.ThreadStats, len(rows))
	for i := range rows {
		result[i] = rows[i].ToModel()
	}

	return result, nil
}

// DeleteRun removes a run and its thread rows.
func (r *GormRunRepository) DeleteRun(ctx context.Context, runID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&ThreadStatRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete thread stats: %w", err)
		}

		result := tx.Where("run_id = ?", runID).Delete(&AnalysisRun{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete run: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("run not found: %s", runID)
		}

		return nil
	})
}
