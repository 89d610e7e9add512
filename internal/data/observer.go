package data

import (
	"context"
	"encoding/json"

	"Approve/internal/biz"
	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultSnapshotChannel = "approve:accounts"
	// snapshotKey is a hash of account id to its latest snapshot.
	snapshotKey = "approve:accounts:latest"
)

type accountObserver struct {
	data    *Data
	channel string
	log     *log.Helper
}

// NewAccountObserver publishes every account snapshot on a redis channel and
// keeps the latest one per account in a hash.
func NewAccountObserver(data *Data, c *conf.Data, logger log.Logger) biz.AccountObserver {
	channel := defaultSnapshotChannel
	if c != nil && c.Redis != nil && c.Redis.Channel != "" {
		channel = c.Redis.Channel
	}
	return &accountObserver{
		data:    data,
		channel: channel,
		log:     log.NewHelper(log.With(logger, "module", "data/observer")),
	}
}

// AccountChanged 推送账号快照
func (o *accountObserver) AccountChanged(ctx context.Context, s biz.AccountSnapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if o.data == nil || o.data.redis == nil {
		o.log.Debugf("account %s: %s", s.ID, payload)
		return nil
	}
	pipe := o.data.redis.TxPipeline()
	pipe.HSet(ctx, snapshotKey, s.ID, payload)
	pipe.Publish(ctx, o.channel, payload)
	_, err = pipe.Exec(ctx)
	return err
}
