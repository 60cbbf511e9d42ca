package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/Tsukikage7/orderflow/database"
	"github.com/Tsukikage7/orderflow/domain"
)

// EventRecord 事件日志表的一行.
type EventRecord struct {
	ID             uint      `gorm:"primaryKey"`
	EventType      string    `gorm:"size:32;index"`
	OrderID        string    `gorm:"size:64;index"`
	Message        string    `gorm:"size:255"`
	WorkerID       string    `gorm:"size:64"`
	ProcessingTime *float64
	RecordedAt     time.Time `gorm:"index"`
}

// TableName 指定表名.
func (EventRecord) TableName() string { return "order_events" }

// GormJournal 基于 GORM 的事件日志表.
type GormJournal struct {
	db database.Database
}

// NewGormJournal 创建事件日志表并迁移表结构.
func NewGormJournal(db database.Database) (*GormJournal, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("迁移事件日志表失败: %w", err)
	}
	return &GormJournal{db: db}, nil
}

// Append 追加一条事件.
func (j *GormJournal) Append(ctx context.Context, event domain.Event, recordedAt time.Time) error {
	rec := EventRecord{
		EventType:  string(event.EventType),
		OrderID:    event.OrderID,
		Message:    event.Message,
		RecordedAt: recordedAt,
	}
	if id, ok := event.WorkerID(); ok {
		rec.WorkerID = id
	}
	if took, ok := event.ProcessingTime(); ok {
		rec.ProcessingTime = &took
	}
	return j.db.GORM().WithContext(ctx).Create(&rec).Error
}

// History 返回订单的事件记录，按记录顺序排列.
func (j *GormJournal) History(ctx context.Context, orderID string) ([]EventRecord, error) {
	var recs []EventRecord
	err := j.db.GORM().WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id").
		Find(&recs).Error
	return recs, err
}

// CountByType 按事件类型统计记录数.
func (j *GormJournal) CountByType(ctx context.Context) (map[domain.EventType]int64, error) {
	var rows []struct {
		EventType string
		Total     int64
	}
	err := j.db.GORM().WithContext(ctx).
		Model(&EventRecord{}).
		Select("event_type, COUNT(*) AS total").
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.EventType]int64, len(rows))
	for _, r := range rows {
		counts[domain.EventType(r.EventType)] = r.Total
	}
	return counts, nil
}
