// Package repository persists aggregated analysis runs in a relational database.
package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/memtrace/pkg/model"
)

// AnalysisRun represents the analysis_runs table. One row per aggregation of
// a run directory. The full report is kept as a JSON document alongside the
// queryable summary columns.
type AnalysisRun struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunID         string    `gorm:"column:run_id;type:varchar(64);uniqueIndex"`
	Directory     string    `gorm:"column:directory;type:varchar(512)"`
	ThreadCount   int       `gorm:"column:thread_count"`
	TotalAllocs   uint64    `gorm:"column:total_allocs"`
	TotalDeallocs uint64    `gorm:"column:total_deallocs"`
	TotalBytes    uint64    `gorm:"column:total_bytes"`
	PeakBytes     uint64    `gorm:"column:peak_bytes"`
	SampledEvents uint64    `gorm:"column:sampled_events"`
	WarningCount  int       `gorm:"column:warning_count"`
	LeakCount     int       `gorm:"column:leak_count"`
	Report        JSONField `gorm:"column:report;type:json"`
	AnalyzedAt    time.Time `gorm:"column:analyzed_at"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for AnalysisRun.
func (AnalysisRun) TableName() string {
	return "analysis_runs"
}

// ToModel converts the stored row back into an AggregatedAnalysis.
func (r *AnalysisRun) ToModel() (*model.AggregatedAnalysis, error) {
	var analysis model.AggregatedAnalysis
	if r.Report != nil {
		if err := json.Unmarshal(r.Report, &analysis); err != nil {
			return nil, err
		}
	}
	analysis.RunID = r.RunID
	analysis.Directory = r.Directory
	return &analysis, nil
}

// newAnalysisRun builds the row form of an aggregated analysis.
func newAnalysisRun(a *model.AggregatedAnalysis) (*AnalysisRun, error) {
	report, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}

	return &AnalysisRun{
		RunID:         a.RunID,
		Directory:     a.Directory,
		ThreadCount:   a.Global.ThreadCount,
		TotalAllocs:   a.Global.TotalAllocations,
		TotalDeallocs: a.Global.TotalDeallocations,
		TotalBytes:    a.Global.TotalBytesAllocated,
		PeakBytes:     a.Global.PeakMemoryBytes,
		SampledEvents: a.Global.TotalSampledEvents,
		WarningCount:  len(a.Warnings),
		LeakCount:     len(a.Leaks),
		Report:        JSONField(report),
		AnalyzedAt:    a.AnalyzedAt,
	}, nil
}

// ThreadStatRow represents the thread_stats table, one row per thread trace
// file of a run. Kept flat so per-thread numbers are queryable without
// unpacking the report document.
type ThreadStatRow struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID          string `gorm:"column:run_id;type:varchar(64);index"`
	ThreadID       uint64 `gorm:"column:thread_id"`
	AllocCount     uint64 `gorm:"column:alloc_count"`
	DeallocCount   uint64 `gorm:"column:dealloc_count"`
	BytesAllocated uint64 `gorm:"column:bytes_allocated"`
	PeakBytes      uint64 `gorm:"column:peak_bytes"`
	SampledEvents  uint64 `gorm:"column:sampled_events"`
	Partial        bool   `gorm:"column:partial"`
}

// TableName returns the table name for ThreadStatRow.
func (ThreadStatRow) TableName() string {
	return "thread_stats"
}

// ToModel converts a ThreadStatRow to model.ThreadStats.
func (r *ThreadStatRow) ToModel() *model.ThreadStats {
	return &model.ThreadStats{
		ThreadID:            r.ThreadID,
		AllocCount:          r.AllocCount,
		DeallocCount:        r.DeallocCount,
		BytesAllocated:      r.BytesAllocated,
		PeakConcurrentBytes: r.PeakBytes,
		SampledEvents:       r.SampledEvents,
		Partial:             r.Partial,
	}
}

// JSONField is a custom type for handling JSON columns in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}

// MarshalJSON implements json.Marshaler interface.
func (j JSONField) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (j *JSONField) UnmarshalJSON(data []byte) error {
	*j = append((*j)[0:0], data...)
	return nil
}
