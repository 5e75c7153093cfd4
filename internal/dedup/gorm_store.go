package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/db/models"
)

// GormStore keeps markers in the processed_events table, whose unique index
// on (topic, msg_partition, msg_offset, event_id) settles concurrent inserts.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{db: conn}
}

func (s *GormStore) Exists(ctx context.Context, key Key) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.ProcessedEvent{}).
		Where("topic = ? AND msg_partition = ? AND msg_offset = ? AND event_id = ?",
			key.Topic, key.Partition, key.Offset, key.EventID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) Insert(ctx context.Context, key Key, at time.Time) error {
	row := models.ProcessedEvent{
		Topic:       key.Topic,
		Partition:   key.Partition,
		Offset:      key.Offset,
		EventID:     key.EventID,
		ProcessedAt: at,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateMarker, err)
		}
		return err
	}
	return nil
}

// Prune removes markers processed before cutoff and returns how many were deleted.
func (s *GormStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("cutoff is required")
	}
	res := s.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&models.ProcessedEvent{})
	return res.RowsAffected, res.Error
}
