package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Approve/internal/conf"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

// SchedulerOptions are the timings of the login and action loops.
type SchedulerOptions struct {
	LoginPoll         time.Duration
	ActionPoll        time.Duration
	DiscoveryInterval time.Duration
	SessionTTL        time.Duration
	LoginCooldown     time.Duration
	TakeoverCooldown  time.Duration
}

// NewSchedulerOptions applies defaults to the scheduler config.
func NewSchedulerOptions(c *conf.Scheduler) SchedulerOptions {
	if c == nil {
		c = &conf.Scheduler{}
	}
	return SchedulerOptions{
		LoginPoll:         c.LoginPoll.Or(5 * time.Second),
		ActionPoll:        c.ActionPoll.Or(5 * time.Second),
		DiscoveryInterval: c.DiscoveryInterval.Or(time.Minute),
		SessionTTL:        c.SessionTtl.Or(50 * time.Minute),
		LoginCooldown:     c.LoginCooldown.Or(time.Minute),
		TakeoverCooldown:  c.TakeoverCooldown.Or(10 * time.Minute),
	}
}

// Action is a repeated game action gated by a feature flag.
type Action struct {
	Feature string
	Run     func(ctx context.Context, acct *Account, headers map[string]string) error
}

// SessionScheduler runs, per account, a login loop and one loop per action,
// plus a shared discovery scan. Accounts never wait on each other.
type SessionScheduler struct {
	accounts AccountRepo
	login    LoginRepo
	game     GameRepo
	notifier Notifier
	observer AccountObserver
	events   EventRepo
	opts     SchedulerOptions
	log      *log.Helper

	now      func() time.Time
	actions  []Action
	triggers map[string]chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionScheduler 创建会话调度器
func NewSessionScheduler(accounts AccountRepo, login LoginRepo, game GameRepo, notifier Notifier,
	observer AccountObserver, events EventRepo, opts SchedulerOptions, logger log.Logger) *SessionScheduler {
	s := &SessionScheduler{
		accounts: accounts,
		login:    login,
		game:     game,
		notifier: notifier,
		observer: observer,
		events:   events,
		opts:     opts,
		log:      log.NewHelper(log.With(logger, "module", "biz/scheduler")),
		now:      time.Now,
		triggers: map[string]chan struct{}{},
	}
	s.actions = []Action{
		{Feature: FeatureApprove, Run: s.approveFriendRequests},
	}
	for _, acct := range accounts.List(context.Background()) {
		s.triggers[acct.ID] = make(chan struct{}, 1)
	}
	return s
}

// Start runs every loop until Stop or until a loop fails. It implements
// transport.Server so the kratos app supervises it.
func (s *SessionScheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	defer close(done)
	defer cancel()

	accounts := s.accounts.List(ctx)
	s.log.Infof("scheduler started: accounts=%d actions=%d", len(accounts), len(s.actions))

	eg, ctx := errgroup.WithContext(ctx)
	for _, acct := range accounts {
		acct := acct
		eg.Go(s.supervise("login/"+acct.ID, func() error { return s.loginLoop(ctx, acct) }))
		for _, action := range s.actions {
			action := action
			eg.Go(s.supervise(action.Feature+"/"+acct.ID, func() error { return s.actionLoop(ctx, acct, action) }))
		}
	}
	eg.Go(s.supervise("discovery", func() error { return s.discoveryLoop(ctx, accounts) }))

	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels the loops and waits for them to return.
func (s *SessionScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervise turns a panic inside a loop into an error for the group.
func (s *SessionScheduler) supervise(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("loop %s panicked: %v", name, r)
				err = fmt.Errorf("loop %s panicked: %v", name, r)
			}
		}()
		return fn()
	}
}

func (s *SessionScheduler) discoveryLoop(ctx context.Context, accounts []*Account) error {
	ticker := time.NewTicker(s.opts.DiscoveryInterval)
	defer ticker.Stop()
	for {
		now := s.now()
		for _, acct := range accounts {
			if !acct.Eligible(now) {
				continue
			}
			select {
			case s.triggers[acct.ID] <- struct{}{}:
			default:
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SessionScheduler) loginLoop(ctx context.Context, acct *Account) error {
	ticker := time.NewTicker(s.opts.LoginPoll)
	defer ticker.Stop()
	trigger := s.triggers[acct.ID]
	for {
		if acct.Eligible(s.now()) {
			_ = s.refresh(ctx, acct, false)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-trigger:
		}
	}
}

func (s *SessionScheduler) actionLoop(ctx context.Context, acct *Account, action Action) error {
	ticker := time.NewTicker(s.opts.ActionPoll)
	defer ticker.Stop()
	for {
		if headers, token, ok := acct.actionSession(action.Feature); ok {
			if err := action.Run(ctx, acct, headers); err != nil && ctx.Err() == nil {
				s.takeover(ctx, acct, action.Feature, token, err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var errLoginSuperseded = fmt.Errorf("login superseded by logout")

// refresh runs login and profile fetch. force skips the cooldown check.
func (s *SessionScheduler) refresh(ctx context.Context, acct *Account, force bool) error {
	gen, ok := acct.beginLogin(s.now(), force)
	if !ok {
		return ErrLoginInProgress
	}
	s.publish(ctx, acct)

	nickname, sess, err := s.signIn(ctx, acct)
	if err != nil && ctx.Err() != nil {
		// 停机或调用方取消, 不算登录失败
		acct.abortLogin(gen)
		s.log.Infof("login aborted: account=%s err=%v", acct.ID, ctx.Err())
		s.publish(context.WithoutCancel(ctx), acct)
		return ctx.Err()
	}
	if err != nil {
		if !acct.failLogin(gen, s.now().Add(s.opts.LoginCooldown)) {
			s.log.Infof("login result discarded after logout: account=%s err=%v", acct.ID, err)
			return ErrLoginFailed.WithCause(err)
		}
		s.log.Warnf("login failed: account=%s err=%v", acct.ID, err)
		if IsCodecError(err) {
			s.alert(ctx, acct, EventCodecFailure, fmt.Sprintf("[%s] envelope failure during login: %v", acct.Label(), err))
		}
		s.alert(ctx, acct, EventLoginFailed, fmt.Sprintf("[%s] 登入失敗", acct.Label()))
		s.publish(ctx, acct)
		return ErrLoginFailed.WithCause(err)
	}

	if !acct.completeLogin(gen, sess, nickname, s.now().Add(s.opts.SessionTTL)) {
		s.log.Infof("login result discarded after logout: account=%s", acct.ID)
		return ErrLoginFailed.WithCause(errLoginSuperseded)
	}
	s.log.Infof("login succeeded: account=%s nickname=%s", acct.ID, acct.Nickname())
	s.record(ctx, acct, EventLoginSucceeded, "")
	s.publish(ctx, acct)
	return nil
}

func (s *SessionScheduler) signIn(ctx context.Context, acct *Account) (string, *Session, error) {
	idToken, err := s.login.SignIn(ctx, acct.ID, acct.Password)
	if err != nil {
		return "", nil, err
	}
	if idToken == "" {
		return "", nil, fmt.Errorf("empty id token")
	}
	sess, err := s.game.Authorize(ctx, idToken)
	if err != nil {
		return "", nil, err
	}
	if acct.Nickname() != "" {
		return "", sess, nil
	}
	profile, err := s.game.MyProfile(ctx, sess.Headers())
	if err != nil {
		return "", nil, err
	}
	return profile.Nickname, sess, nil
}

// takeover applies the long cooldown. Any action failure on a live session
// is treated as another device having taken the credential over.
func (s *SessionScheduler) takeover(ctx context.Context, acct *Account, feature, token string, cause error) {
	if !acct.conflict(token, s.now().Add(s.opts.TakeoverCooldown)) {
		s.log.Debugf("stale action failure ignored: account=%s action=%s err=%v", acct.ID, feature, cause)
		return
	}
	s.log.Warnf("session conflict: account=%s action=%s err=%v", acct.ID, feature, cause)
	if IsCodecError(cause) {
		s.alert(ctx, acct, EventCodecFailure, fmt.Sprintf("[%s] envelope failure during %s: %v", acct.Label(), feature, cause))
	}
	s.alert(ctx, acct, EventTakeover, fmt.Sprintf("[%s] 疑似搶登", acct.Label()))
	s.publish(ctx, acct)
}

// Login forces a login for one account now.
func (s *SessionScheduler) Login(ctx context.Context, id string) (*AccountSnapshot, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.refresh(ctx, acct, true); err != nil {
		return nil, err
	}
	snap := acct.Snapshot(s.now())
	return &snap, nil
}

// Logout drops the session and parks the account until a manual login.
func (s *SessionScheduler) Logout(ctx context.Context, id string) (*AccountSnapshot, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	acct.logout()
	s.log.Infof("logout: account=%s", acct.ID)
	s.record(ctx, acct, EventLogout, "")
	s.publish(ctx, acct)
	snap := acct.Snapshot(s.now())
	return &snap, nil
}

// SetFeature toggles an action loop for one account.
func (s *SessionScheduler) SetFeature(ctx context.Context, id, feature string, enabled bool) (*AccountSnapshot, error) {
	if !s.knownFeature(feature) {
		return nil, ErrUnknownFeature
	}
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	acct.setFeature(feature, enabled)
	s.log.Infof("feature %s set to %v: account=%s", feature, enabled, acct.ID)
	s.publish(ctx, acct)
	snap := acct.Snapshot(s.now())
	return &snap, nil
}

func (s *SessionScheduler) knownFeature(feature string) bool {
	for _, a := range s.actions {
		if a.Feature == feature {
			return true
		}
	}
	return false
}

// Accounts lists snapshots of every account.
func (s *SessionScheduler) Accounts(ctx context.Context) []AccountSnapshot {
	now := s.now()
	list := s.accounts.List(ctx)
	out := make([]AccountSnapshot, 0, len(list))
	for _, acct := range list {
		out = append(out, acct.Snapshot(now))
	}
	return out
}

// Account returns the snapshot of one account.
func (s *SessionScheduler) Account(ctx context.Context, id string) (*AccountSnapshot, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := acct.Snapshot(s.now())
	return &snap, nil
}

func (s *SessionScheduler) alert(ctx context.Context, acct *Account, kind EventKind, message string) {
	s.record(ctx, acct, kind, message)
	if err := s.notifier.Notify(ctx, message); err != nil {
		s.log.Warnf("notify failed: account=%s err=%v", acct.ID, err)
	}
}

func (s *SessionScheduler) record(ctx context.Context, acct *Account, kind EventKind, detail string) {
	ev := &AccountEvent{AccountID: acct.ID, Kind: kind, Detail: detail, At: s.now()}
	if err := s.events.Record(ctx, ev); err != nil {
		s.log.Warnf("record event failed: account=%s kind=%s err=%v", acct.ID, kind, err)
	}
}

func (s *SessionScheduler) publish(ctx context.Context, acct *Account) {
	if err := s.observer.AccountChanged(ctx, acct.Snapshot(s.now())); err != nil {
		s.log.Debugf("publish snapshot failed: account=%s err=%v", acct.ID, err)
	}
}
