package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Approve/internal/biz"
	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

type accountRepo struct {
	accounts []*biz.Account
	byID     map[string]*biz.Account
	log      *log.Helper
}

// NewAccountRepo 从配置加载账号列表, 启动后只读
func NewAccountRepo(c *conf.Bootstrap, logger log.Logger) (biz.AccountRepo, error) {
	helper := log.NewHelper(log.With(logger, "module", "data/account"))
	r := &accountRepo{byID: map[string]*biz.Account{}, log: helper}
	now := time.Now()
	for i, a := range c.Accounts {
		id := strings.TrimSpace(a.Id)
		if id == "" {
			return nil, fmt.Errorf("account %d: empty id", i)
		}
		if _, ok := r.byID[id]; ok {
			return nil, fmt.Errorf("account %d: duplicate id %s", i, id)
		}
		acct := biz.NewAccount(id, a.Name, a.Password, a.AutoLogin, a.Features, now)
		r.accounts = append(r.accounts, acct)
		r.byID[id] = acct
	}
	helper.Infof("loaded %d accounts", len(r.accounts))
	return r, nil
}

func (r *accountRepo) List(context.Context) []*biz.Account {
	return r.accounts
}

func (r *accountRepo) Get(_ context.Context, id string) (*biz.Account, error) {
	acct, ok := r.byID[id]
	if !ok {
		return nil, biz.ErrAccountNotFound
	}
	return acct, nil
}
