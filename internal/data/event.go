package data

import (
	"context"
	"time"

	"Approve/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
)

// AccountEvent is one row of account_events.
type AccountEvent struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	AccountID  string    `gorm:"type:varchar(64);not null;index"`
	Kind       string    `gorm:"type:varchar(32);not null;index"`
	Detail     string    `gorm:"type:text;not null;default:''"`
	OccurredAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for AccountEvent
func (AccountEvent) TableName() string {
	return "account_events"
}

type eventRepo struct {
	data *Data
	log  *log.Helper
}

// NewEventRepo 创建账号事件仓库
func NewEventRepo(data *Data, logger log.Logger) biz.EventRepo {
	return &eventRepo{
		data: data,
		log:  log.NewHelper(log.With(logger, "module", "data/event")),
	}
}

// Record 记录一条账号事件
func (r *eventRepo) Record(ctx context.Context, e *biz.AccountEvent) error {
	if r.data == nil || r.data.db == nil {
		r.log.Debugf("event %s %s: %s", e.AccountID, e.Kind, e.Detail)
		return nil
	}
	row := &AccountEvent{
		AccountID:  e.AccountID,
		Kind:       string(e.Kind),
		Detail:     e.Detail,
		OccurredAt: e.At,
	}
	return r.data.db.WithContext(ctx).Create(row).Error
}
