package biz

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAccounts struct {
	list []*Account
}

func (r *memAccounts) List(context.Context) []*Account { return r.list }

func (r *memAccounts) Get(_ context.Context, id string) (*Account, error) {
	for _, a := range r.list {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, ErrAccountNotFound
}

type fakeLogin struct {
	calls atomic.Int32
	err   error
	hold  chan struct{} // blocks SignIn until closed
}

func (f *fakeLogin) SignIn(ctx context.Context, id, _ string) (string, error) {
	f.calls.Add(1)
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return "id-" + id, nil
}

type fakeGame struct {
	authorizes atomic.Int32
	list       func(ctx context.Context, token string) (*FriendList, error)
	approved   atomic.Int32
	deleted    []string
}

func (g *fakeGame) Authorize(_ context.Context, idToken string) (*Session, error) {
	n := g.authorizes.Add(1)
	return &Session{Token: fmt.Sprintf("%s-s%d", idToken, n), CacheHash: "hash"}, nil
}

func (g *fakeGame) MyProfile(_ context.Context, headers map[string]string) (*Profile, error) {
	return &Profile{Nickname: "nick-" + headers[HeaderSessionToken]}, nil
}

func (g *fakeGame) ListFriends(ctx context.Context, headers map[string]string) (*FriendList, error) {
	if g.list != nil {
		return g.list(ctx, headers[HeaderSessionToken])
	}
	return &FriendList{Friends: []string{"f1", "f2"}, Received: []string{"r1"}}, nil
}

func (g *fakeGame) ApproveFriend(context.Context, map[string]string, string) error {
	g.approved.Add(1)
	return nil
}

func (g *fakeGame) DeleteFriends(_ context.Context, _ map[string]string, ids []string) error {
	g.deleted = append(g.deleted, ids...)
	return nil
}

type recorder struct {
	mu        sync.Mutex
	messages  []string
	snapshots []AccountSnapshot
	events    []EventKind
}

func (r *recorder) Notify(_ context.Context, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return fmt.Errorf("webhook down")
}

func (r *recorder) AccountChanged(_ context.Context, s AccountSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *recorder) Record(_ context.Context, ev *AccountEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Kind)
	return nil
}

func (r *recorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.messages, "\n")
}

func fastOptions() SchedulerOptions {
	return SchedulerOptions{
		LoginPoll:         5 * time.Millisecond,
		ActionPoll:        5 * time.Millisecond,
		DiscoveryInterval: 5 * time.Millisecond,
		SessionTTL:        50 * time.Minute,
		LoginCooldown:     time.Minute,
		TakeoverCooldown:  10 * time.Minute,
	}
}

func newTestScheduler(accounts []*Account, login *fakeLogin, game *fakeGame, rec *recorder) *SessionScheduler {
	logger := log.NewStdLogger(io.Discard)
	return NewSessionScheduler(&memAccounts{list: accounts}, login, game, rec, rec, rec, fastOptions(), logger)
}

func runScheduler(t *testing.T, s *SessionScheduler) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Start(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
		require.NoError(t, <-errc)
	})
}

func TestSchedulerSkipsParkedAccounts(t *testing.T) {
	login := &fakeLogin{}
	acct := NewAccount("parked", "", "", false, nil, time.Now())
	s := newTestScheduler([]*Account{acct}, login, &fakeGame{}, &recorder{})
	runScheduler(t, s)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, login.calls.Load())
	assert.Equal(t, StateLoggedOut, acct.State(time.Now()))
}

func TestSchedulerLogsInEligibleAccount(t *testing.T) {
	acct := NewAccount("a1", "", "", true, nil, time.Now())
	rec := &recorder{}
	s := newTestScheduler([]*Account{acct}, &fakeLogin{}, &fakeGame{}, rec)
	runScheduler(t, s)

	require.Eventually(t, func() bool { return acct.State(time.Now()) == StateLoggedIn }, time.Second, 5*time.Millisecond)
	snap := acct.Snapshot(time.Now())
	assert.True(t, snap.IsLogin)
	assert.Greater(t, snap.NextLoginAt, time.Now().UnixMilli())
	assert.Equal(t, "nick-id-a1-s1", snap.Nickname)
	_, token, ok := acct.session()
	assert.True(t, ok)
	assert.Equal(t, "id-a1-s1", token)
}

func TestSchedulerLoginFailureAppliesShortCooldown(t *testing.T) {
	acct := NewAccount("a1", "main", "", true, nil, epoch)
	rec := &recorder{}
	login := &fakeLogin{err: fmt.Errorf("bad credentials")}
	s := newTestScheduler([]*Account{acct}, login, &fakeGame{}, rec)
	s.now = func() time.Time { return epoch }

	err := s.refresh(context.Background(), acct, false)
	assert.True(t, errors.Is(err, ErrLoginFailed))

	snap := acct.Snapshot(epoch)
	assert.False(t, snap.IsLogin)
	assert.Equal(t, epoch.Add(time.Minute).UnixMilli(), snap.NextLoginAt)
	assert.Contains(t, rec.joined(), "[main] 登入失敗")
	assert.Contains(t, rec.events, EventLoginFailed)
}

func TestSchedulerActionFailureAppliesTakeoverCooldown(t *testing.T) {
	acct := NewAccount("a1", "main", "", true, []string{FeatureApprove}, epoch)
	rec := &recorder{}
	game := &fakeGame{list: func(context.Context, string) (*FriendList, error) {
		return nil, fmt.Errorf("unauthenticated")
	}}
	s := newTestScheduler([]*Account{acct}, &fakeLogin{}, game, rec)
	s.now = func() time.Time { return epoch }
	require.NoError(t, s.refresh(context.Background(), acct, false))
	runScheduler(t, s)

	require.Eventually(t, func() bool { return acct.State(epoch) == StateCooldown }, time.Second, 5*time.Millisecond)
	assert.Equal(t, epoch.Add(10*time.Minute).UnixMilli(), acct.Snapshot(epoch).NextLoginAt)
	assert.Contains(t, rec.joined(), "疑似搶登")
	assert.Equal(t, int32(1), game.authorizes.Load(), "no relogin before the cooldown elapses")
}

func TestSchedulerCodecFailureAlertsSeparately(t *testing.T) {
	acct := NewAccount("a1", "main", "", true, []string{FeatureApprove}, epoch)
	rec := &recorder{}
	game := &fakeGame{list: func(context.Context, string) (*FriendList, error) {
		return nil, ErrDecryption
	}}
	s := newTestScheduler([]*Account{acct}, &fakeLogin{}, game, rec)
	s.now = func() time.Time { return epoch }
	require.NoError(t, s.refresh(context.Background(), acct, false))

	_, token, _ := acct.session()
	s.takeover(context.Background(), acct, FeatureApprove, token, ErrDecryption)
	assert.Contains(t, rec.joined(), "envelope failure")
	assert.Contains(t, rec.events, EventCodecFailure)
	assert.Contains(t, rec.events, EventTakeover)
}

func TestSchedulerAccountsAreIndependent(t *testing.T) {
	a := NewAccount("a", "", "", true, []string{FeatureApprove}, time.Now())
	b := NewAccount("b", "", "", true, []string{FeatureApprove}, time.Now())
	var bCalls atomic.Int32
	game := &fakeGame{list: func(ctx context.Context, token string) (*FriendList, error) {
		if strings.HasPrefix(token, "id-a") {
			// a stays inside a long restricted cooldown
			<-ctx.Done()
			return nil, ctx.Err()
		}
		bCalls.Add(1)
		return &FriendList{}, nil
	}}
	s := newTestScheduler([]*Account{a, b}, &fakeLogin{}, game, &recorder{})
	runScheduler(t, s)

	require.Eventually(t, func() bool { return bCalls.Load() >= 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateLoggedIn, a.State(time.Now()))
}

func TestSchedulerManualLogin(t *testing.T) {
	acct := NewAccount("a1", "", "", false, nil, time.Now())
	s := newTestScheduler([]*Account{acct}, &fakeLogin{}, &fakeGame{}, &recorder{})

	snap, err := s.Login(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, snap.IsLogin)

	acct.beginLogin(time.Now(), true)
	_, err = s.Login(context.Background(), "a1")
	assert.True(t, errors.Is(err, ErrLoginInProgress))

	_, err = s.Login(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrAccountNotFound))
}

func TestSchedulerLogoutParksAccount(t *testing.T) {
	acct := NewAccount("a1", "", "", true, nil, epoch)
	rec := &recorder{}
	s := newTestScheduler([]*Account{acct}, &fakeLogin{}, &fakeGame{}, rec)
	s.now = func() time.Time { return epoch }
	require.NoError(t, s.refresh(context.Background(), acct, false))

	snap, err := s.Logout(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, snap.IsLogin)
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.False(t, acct.Eligible(epoch.Add(24*time.Hour)))
	assert.Contains(t, rec.events, EventLogout)
}

func TestSchedulerLogoutDuringLogin(t *testing.T) {
	acct := NewAccount("a1", "", "", true, nil, epoch)
	rec := &recorder{}
	login := &fakeLogin{hold: make(chan struct{})}
	s := newTestScheduler([]*Account{acct}, login, &fakeGame{}, rec)
	s.now = func() time.Time { return epoch }

	errc := make(chan error, 1)
	go func() { errc <- s.refresh(context.Background(), acct, false) }()
	require.Eventually(t, func() bool { return login.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := s.Logout(context.Background(), "a1")
	require.NoError(t, err)
	close(login.hold)
	assert.True(t, errors.Is(<-errc, ErrLoginFailed))

	snap := acct.Snapshot(epoch)
	assert.False(t, snap.IsLogin)
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.False(t, acct.Eligible(epoch.Add(time.Hour)))
	_, _, ok := acct.session()
	assert.False(t, ok, "late session is not installed")
	assert.NotContains(t, rec.events, EventLoginSucceeded)
}

func TestSchedulerLoginCancelledIsNotAFailure(t *testing.T) {
	acct := NewAccount("a1", "main", "", true, nil, epoch)
	rec := &recorder{}
	login := &fakeLogin{hold: make(chan struct{})}
	s := newTestScheduler([]*Account{acct}, login, &fakeGame{}, rec)
	s.now = func() time.Time { return epoch }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.refresh(ctx, acct, false)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateLoggedOut, acct.State(epoch))
	assert.True(t, acct.Eligible(epoch), "no cooldown after shutdown")
	assert.NotContains(t, rec.joined(), "登入失敗")
	assert.NotContains(t, rec.events, EventLoginFailed)
}

func TestSchedulerSetFeature(t *testing.T) {
	acct := NewAccount("a1", "", "", true, nil, epoch)
	s := newTestScheduler([]*Account{acct}, &fakeLogin{}, &fakeGame{}, &recorder{})

	snap, err := s.SetFeature(context.Background(), "a1", FeatureApprove, true)
	require.NoError(t, err)
	assert.True(t, snap.Features[FeatureApprove])

	_, err = s.SetFeature(context.Background(), "a1", "battle", true)
	assert.True(t, errors.Is(err, ErrUnknownFeature))
}

func TestSchedulerFriendOperations(t *testing.T) {
	acct := NewAccount("a1", "", "", true, nil, epoch)
	game := &fakeGame{}
	s := newTestScheduler([]*Account{acct}, &fakeLogin{}, game, &recorder{})

	_, err := s.Friends(context.Background(), "a1")
	assert.True(t, errors.Is(err, ErrNotLoggedIn))

	require.NoError(t, s.refresh(context.Background(), acct, false))
	list, err := s.Friends(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, FriendSummary{Friends: 2, Received: 1}, list.Summary())

	_, err = s.DeleteAllFriends(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, game.deleted)
}

func TestSchedulerApprovesPendingRequests(t *testing.T) {
	acct := NewAccount("a1", "", "", true, []string{FeatureApprove}, epoch)
	game := &fakeGame{}
	s := newTestScheduler([]*Account{acct}, &fakeLogin{}, game, &recorder{})
	require.NoError(t, s.refresh(context.Background(), acct, false))

	headers, _, _ := acct.session()
	require.NoError(t, s.approveFriendRequests(context.Background(), acct, headers))
	assert.Equal(t, int32(1), game.approved.Load())
	assert.Equal(t, FriendSummary{Friends: 2, Received: 1}, acct.Snapshot(epoch).FriendList)
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := newTestScheduler(nil, &fakeLogin{}, &fakeGame{}, &recorder{})
	assert.NoError(t, s.Stop(context.Background()))
}

func TestSchedulerPanicReachesSupervisor(t *testing.T) {
	s := newTestScheduler(nil, &fakeLogin{}, &fakeGame{}, &recorder{})
	err := s.supervise("boom", func() error { panic("bad state") })()
	assert.ErrorContains(t, err, "bad state")
}
