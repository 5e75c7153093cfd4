package models

import "time"

// ProcessedEvent marks a message whose effects have already been applied.
// Coordinate markers keep EventID empty; business-id markers keep partition
// and offset at zero and store the id verbatim.
type ProcessedEvent struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Topic       string    `gorm:"column:topic;not null;uniqueIndex:idx_processed_events_key,priority:1"`
	Partition   int32     `gorm:"column:msg_partition;not null;default:0;uniqueIndex:idx_processed_events_key,priority:2"`
	Offset      int64     `gorm:"column:msg_offset;not null;default:0;uniqueIndex:idx_processed_events_key,priority:3"`
	EventID     string    `gorm:"column:event_id;not null;default:'';uniqueIndex:idx_processed_events_key,priority:4"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null;index:idx_processed_events_processed_at"`
}
