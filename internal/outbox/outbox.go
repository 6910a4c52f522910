// Package outbox 事务发件箱：领域事件先随业务事务落库，再由中继异步投递到 Kafka
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/db"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// Message 发件箱消息
type Message struct {
	ID        uint      `gorm:"primarykey"`
	MessageID string    `gorm:"column:message_id;type:varchar(64);uniqueIndex;not null"`
	Topic     string    `gorm:"column:topic;type:varchar(128);not null"`
	Key       string    `gorm:"column:msg_key;type:varchar(128)"`
	EventType string    `gorm:"column:event_type;type:varchar(64);index"`
	Payload   string    `gorm:"column:payload;type:text;not null"`
	Status    string    `gorm:"column:status;type:varchar(16);index;default:'pending'"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (Message) TableName() string { return "outbox_messages" }

// Publisher 领域事件发布端口，事件随调用方事务一同提交
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, event interface{}) error
}

// Store 发件箱存储，写入走调用方 context 中的事务
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) Publish(ctx context.Context, topic, key, eventType string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	message := &Message{
		MessageID: uuid.NewString(),
		Topic:     topic,
		Key:       key,
		EventType: eventType,
		Payload:   string(payload),
		Status:    StatusPending,
	}
	return db.FromContext(ctx, s.db.DB).Create(message).Error
}

// FetchPending 按写入顺序取一批待投递消息
func (s *Store) FetchPending(ctx context.Context, limit int) ([]*Message, error) {
	var messages []*Message
	err := s.db.DB.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkSent 标记消息已投递
func (s *Store) MarkSent(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.DB.WithContext(ctx).
		Model(&Message{}).
		Where("id IN ?", ids).
		Update("status", StatusSent).Error
}

// CountPending 统计积压消息数
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.DB.WithContext(ctx).
		Model(&Message{}).
		Where("status = ?", StatusPending).
		Count(&count).Error
	return count, err
}

// CleanupSent 清理投递完成的历史消息
func (s *Store) CleanupSent(ctx context.Context, before time.Time) error {
	return s.db.DB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", StatusSent, before).
		Delete(&Message{}).Error
}
