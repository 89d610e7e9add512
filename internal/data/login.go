package data

import (
	"context"
	"time"

	"Approve/internal/biz"
	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

type signInRequest struct {
	DeviceAccount deviceAccount `json:"deviceAccount"`
}

type deviceAccount struct {
	ID       string `json:"id"`
	Password string `json:"password,omitempty"`
}

type signInReply struct {
	IDToken string `json:"idToken"`
	User    *struct {
		DeviceAccounts []deviceAccount `json:"deviceAccounts"`
	} `json:"user"`
}

type loginRepo struct {
	client *http.Client
	path   string
	log    *log.Helper
}

// NewLoginRepo 创建设备账号登录客户端
func NewLoginRepo(c *conf.Login, logger log.Logger) (biz.LoginRepo, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data/login"))
	client, err := http.NewClient(context.Background(),
		http.WithEndpoint(c.Endpoint),
		http.WithTimeout(c.Timeout.Or(15*time.Second)),
		http.WithMiddleware(recovery.Recovery()),
	)
	if err != nil {
		return nil, nil, err
	}
	path := c.Path
	if path == "" {
		path = "/v1/device_accounts/sign_in"
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			helper.Error(err)
		}
	}
	return &loginRepo{client: client, path: path, log: helper}, cleanup, nil
}

// SignIn 用设备账号换取 id token
func (r *loginRepo) SignIn(ctx context.Context, id, password string) (string, error) {
	req := &signInRequest{DeviceAccount: deviceAccount{ID: id, Password: password}}
	var reply signInReply
	if err := r.client.Invoke(ctx, "POST", r.path, req, &reply); err != nil {
		return "", err
	}
	if reply.IDToken == "" || reply.User == nil || len(reply.User.DeviceAccounts) == 0 {
		r.log.Warnf("sign in %s: empty token or device account list", id)
		return "", biz.ErrLoginFailed
	}
	return reply.IDToken, nil
}
