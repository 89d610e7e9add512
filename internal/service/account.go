package service

import (
	"context"

	"Approve/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const operationPrefix = "/approve.v1.Account/"

// AccountsReply lists every account.
type AccountsReply struct {
	Accounts []biz.AccountSnapshot `json:"accounts"`
}

// FeatureRequest toggles one feature of an account.
type FeatureRequest struct {
	Enabled *bool `json:"enabled"`
}

// FriendsReply is the friend list with the refreshed account.
type FriendsReply struct {
	Friends *biz.FriendList `json:"friends"`
}

// AccountService 账号控制接口
type AccountService struct {
	sched     *biz.SessionScheduler
	transport *biz.TransportUsecase
	log       *log.Helper
}

// NewAccountService 创建账号控制服务
func NewAccountService(sched *biz.SessionScheduler, transport *biz.TransportUsecase, logger log.Logger) *AccountService {
	return &AccountService{
		sched:     sched,
		transport: transport,
		log:       log.NewHelper(log.With(logger, "module", "service/account")),
	}
}

// ListAccounts 列出所有账号
func (s *AccountService) ListAccounts(ctx context.Context) (*AccountsReply, error) {
	return &AccountsReply{Accounts: s.sched.Accounts(ctx)}, nil
}

// GetAccount 获取账号
func (s *AccountService) GetAccount(ctx context.Context, id string) (*biz.AccountSnapshot, error) {
	return s.sched.Account(ctx, id)
}

// Login 手动登录
func (s *AccountService) Login(ctx context.Context, id string) (*biz.AccountSnapshot, error) {
	s.log.WithContext(ctx).Infof("manual login %s", id)
	return s.sched.Login(ctx, id)
}

// Logout 登出并暂停自动登录
func (s *AccountService) Logout(ctx context.Context, id string) (*biz.AccountSnapshot, error) {
	s.log.WithContext(ctx).Infof("logout %s", id)
	return s.sched.Logout(ctx, id)
}

// SetFeature 开关功能
func (s *AccountService) SetFeature(ctx context.Context, id, feature string, req *FeatureRequest) (*biz.AccountSnapshot, error) {
	if req == nil || req.Enabled == nil {
		return nil, biz.ErrInvalidParameter.WithMetadata(map[string]string{"field": "enabled"})
	}
	return s.sched.SetFeature(ctx, id, feature, *req.Enabled)
}

// ListFriends 获取好友列表
func (s *AccountService) ListFriends(ctx context.Context, id string) (*FriendsReply, error) {
	list, err := s.sched.Friends(ctx, id)
	if err != nil {
		return nil, err
	}
	return &FriendsReply{Friends: list}, nil
}

// DeleteFriends 删除所有好友
func (s *AccountService) DeleteFriends(ctx context.Context, id string) (*biz.AccountSnapshot, error) {
	s.log.WithContext(ctx).Infof("delete all friends of %s", id)
	return s.sched.DeleteAllFriends(ctx, id)
}

// Transport 连接池状态
func (s *AccountService) Transport(context.Context) (*biz.TransportStatus, error) {
	st := s.transport.Status()
	return &st, nil
}

// RegisterAccountHTTPServer mounts the control routes on srv.
func RegisterAccountHTTPServer(srv *http.Server, s *AccountService) {
	r := srv.Route("/v1")
	r.GET("/accounts", s.handle("ListAccounts", func(ctx context.Context, _ http.Context) (interface{}, error) {
		return s.ListAccounts(ctx)
	}))
	r.GET("/accounts/{id}", s.handle("GetAccount", func(ctx context.Context, hc http.Context) (interface{}, error) {
		return s.GetAccount(ctx, hc.Vars().Get("id"))
	}))
	r.POST("/accounts/{id}/login", s.handle("Login", func(ctx context.Context, hc http.Context) (interface{}, error) {
		return s.Login(ctx, hc.Vars().Get("id"))
	}))
	r.POST("/accounts/{id}/logout", s.handle("Logout", func(ctx context.Context, hc http.Context) (interface{}, error) {
		return s.Logout(ctx, hc.Vars().Get("id"))
	}))
	r.PUT("/accounts/{id}/features/{feature}", func(hc http.Context) error {
		var req FeatureRequest
		if err := hc.Bind(&req); err != nil {
			return biz.ErrInvalidParameter.WithCause(err)
		}
		vars := hc.Vars()
		return s.handle("SetFeature", func(ctx context.Context, _ http.Context) (interface{}, error) {
			return s.SetFeature(ctx, vars.Get("id"), vars.Get("feature"), &req)
		})(hc)
	})
	r.GET("/accounts/{id}/friends", s.handle("ListFriends", func(ctx context.Context, hc http.Context) (interface{}, error) {
		return s.ListFriends(ctx, hc.Vars().Get("id"))
	}))
	r.DELETE("/accounts/{id}/friends", s.handle("DeleteFriends", func(ctx context.Context, hc http.Context) (interface{}, error) {
		return s.DeleteFriends(ctx, hc.Vars().Get("id"))
	}))
	r.GET("/transport", s.handle("Transport", func(ctx context.Context, _ http.Context) (interface{}, error) {
		return s.Transport(ctx)
	}))
}

// handle runs fn through the server middleware chain under operation name.
func (s *AccountService) handle(name string, fn func(ctx context.Context, hc http.Context) (interface{}, error)) http.HandlerFunc {
	return func(hc http.Context) error {
		http.SetOperation(hc, operationPrefix+name)
		h := hc.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return fn(ctx, hc)
		})
		out, err := h(hc, nil)
		if err != nil {
			return err
		}
		return hc.Result(200, out)
	}
}
