package data

import (
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"time"

	"Approve/internal/biz"
	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

type webhookMessage struct {
	Content string `json:"content"`
}

type webhookNotifier struct {
	client *http.Client
	path   string
	prefix string
	log    *log.Helper
}

// NewNotifier posts alerts to the configured webhook. Without one, alerts are
// only logged.
func NewNotifier(c *conf.Notify, logger log.Logger) (biz.Notifier, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data/notifier"))
	n := &webhookNotifier{prefix: c.Prefix, log: helper}
	if c.Webhook == "" {
		helper.Info("webhook not configured, alerts go to the log only")
		return n, func() {}, nil
	}
	u, err := url.Parse(c.Webhook)
	if err != nil || u.Host == "" {
		return nil, nil, fmt.Errorf("invalid webhook %q", c.Webhook)
	}
	n.path = u.RequestURI()
	n.client, err = http.NewClient(context.Background(),
		http.WithEndpoint(u.Scheme+"://"+u.Host),
		http.WithTimeout(10*time.Second),
		http.WithMiddleware(recovery.Recovery()),
		http.WithResponseDecoder(discardResponse),
	)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := n.client.Close(); err != nil {
			helper.Error(err)
		}
	}
	return n, cleanup, nil
}

// Notify 发送通知
func (n *webhookNotifier) Notify(ctx context.Context, message string) error {
	content := n.prefix + message
	n.log.Infof("notify: %s", content)
	if n.client == nil {
		return nil
	}
	return n.client.Invoke(ctx, "POST", n.path, &webhookMessage{Content: content}, nil)
}

// the webhook answers 204 with an empty body
func discardResponse(_ context.Context, res *nethttp.Response, _ interface{}) error {
	_, err := io.Copy(io.Discard, res.Body)
	return err
}
