package store

import (
	"context"
	"errors"

	"github.com/seantiz/modelrunner/internal/model"
)

// ErrInvalidTransition is returned when a status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate inference statistics.
type RunStats struct {
	Total            int            `json:"total"`
	CountByStatus    map[string]int `json:"count_by_status"`
	CountByFramework map[string]int `json:"count_by_framework"`
	AvgDurationMS    float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for the run ledger and model
// downloads.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)

	CreateDownload(ctx context.Context, d *model.Download) error
	GetDownload(ctx context.Context, id string) (*model.Download, error)
	ListDownloads(ctx context.Context, limit, offset int) ([]*model.Download, int, error)
	UpdateDownload(ctx context.Context, d *model.Download) error

	Close() error
}
