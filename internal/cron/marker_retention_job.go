package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/stockledger/pkg/logger"
)

const defaultMarkerRetention = 30 * 24 * time.Hour

// MarkerRetentionJobParams configures pruning of processed-event markers.
type MarkerRetentionJobParams struct {
	Logger    *logger.Logger
	Store     markerPruner
	Retention time.Duration
}

type markerPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewMarkerRetentionJob builds the job that deletes markers older than the
// retention window. Redelivery of a message older than the window is no
// longer detected as a duplicate, so the window must exceed the broker's
// retention.
func NewMarkerRetentionJob(params MarkerRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("marker store required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultMarkerRetention
	}
	return &markerRetentionJob{
		logg:      params.Logger,
		store:     params.Store,
		retention: retention,
		now:       time.Now,
	}, nil
}

type markerRetentionJob struct {
	logg      *logger.Logger
	store     markerPruner
	retention time.Duration
	now       func() time.Time
}

func (j *markerRetentionJob) Name() string { return "marker-retention" }

func (j *markerRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("marker retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":          cutoff,
		"retention_hours": int(j.retention.Hours()),
		"rows_deleted":    deleted,
	})
	j.logg.Info(logCtx, "marker retention cleanup complete")
	return nil
}
