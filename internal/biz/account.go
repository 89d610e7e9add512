package biz

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

const (
	// HeaderSessionToken carries the session issued by System/AuthorizeV1.
	HeaderSessionToken = "x-takasho-session-token"
	// HeaderCacheHash is the master data hash the server expects back on every call.
	HeaderCacheHash = "x-takasho-request-master-memory-aladdin-hash"

	// FeatureApprove accepts every pending friend request.
	FeatureApprove = "approve"
)

var (
	// ErrAccountNotFound 账号不存在
	ErrAccountNotFound = errors.NotFound("ACCOUNT_NOT_FOUND", "account not found")
	// ErrLoginInProgress 登录进行中
	ErrLoginInProgress = errors.Conflict("LOGIN_IN_PROGRESS", "login already in progress")
	// ErrNotLoggedIn 账号未登录
	ErrNotLoggedIn = errors.New(412, "NOT_LOGGED_IN", "account is not logged in")
	// ErrLoginFailed 登录失败
	ErrLoginFailed = errors.Unauthorized("LOGIN_FAILED", "login failed")
	// ErrUnknownFeature 未知功能
	ErrUnknownFeature = errors.BadRequest("UNKNOWN_FEATURE", "unknown feature")
	// ErrInvalidParameter 参数无效
	ErrInvalidParameter = errors.BadRequest("INVALID_PARAMETER", "invalid parameter")
)

// AccountState is derived from the session fields of an Account.
type AccountState string

const (
	StateLoggedOut AccountState = "logged_out"
	StateLoggingIn AccountState = "logging_in"
	StateLoggedIn  AccountState = "logged_in"
	StateCooldown  AccountState = "cooldown"
)

// FriendSummary holds the last observed friend list sizes.
type FriendSummary struct {
	Friends  int `json:"friends"`
	Sent     int `json:"sent"`
	Received int `json:"received"`
}

// Account is one device account under management. Session fields are only
// changed by the login routine and by the conflict path of the action loops.
type Account struct {
	ID       string
	Name     string
	Password string

	mu          sync.Mutex
	headers     map[string]string
	nickname    string
	nextLoginAt time.Time
	isLogin     bool
	loggingIn   bool
	features    map[string]bool
	friends     FriendSummary

	parked bool   // skipped by the login scan until a manual login
	gen    uint64 // bumped by each login start and by logout
}

// AccountSnapshot is the observable view of an Account.
type AccountSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Nickname    string          `json:"nickname"`
	State       AccountState    `json:"state"`
	IsLogin     bool            `json:"isLogin"`
	Features    map[string]bool `json:"features"`
	NextLoginAt int64           `json:"nextLoginAt"`
	FriendList  FriendSummary   `json:"friendList"`
}

// NewAccount creates an account. Without autoLogin it stays parked until a
// manual login.
func NewAccount(id, name, password string, autoLogin bool, features []string, now time.Time) *Account {
	a := &Account{
		ID:       id,
		Name:     name,
		Password: password,
		headers:  map[string]string{},
		features: map[string]bool{},
	}
	a.parked = !autoLogin
	for _, f := range features {
		a.features[f] = true
	}
	return a
}

// Label is the name used in notifications.
func (a *Account) Label() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nickname != "" {
		return a.nickname
	}
	if a.Name != "" {
		return a.Name
	}
	if len(a.ID) > 4 {
		return a.ID[:4]
	}
	return a.ID
}

// Snapshot copies the observable fields.
func (a *Account) Snapshot(now time.Time) AccountSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	features := make(map[string]bool, len(a.features))
	for k, v := range a.features {
		features[k] = v
	}
	var next int64
	if !a.nextLoginAt.IsZero() {
		next = a.nextLoginAt.UnixMilli()
	}
	return AccountSnapshot{
		ID:          a.ID,
		Name:        a.Name,
		Nickname:    a.nickname,
		State:       a.stateLocked(now),
		IsLogin:     a.isLogin,
		Features:    features,
		NextLoginAt: next,
		FriendList:  a.friends,
	}
}

// State reports where the account is in its login lifecycle.
func (a *Account) State(now time.Time) AccountState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked(now)
}

func (a *Account) stateLocked(now time.Time) AccountState {
	switch {
	case a.loggingIn:
		return StateLoggingIn
	case a.isLogin:
		return StateLoggedIn
	case a.parked:
		return StateLoggedOut
	case a.nextLoginAt.After(now):
		return StateCooldown
	default:
		return StateLoggedOut
	}
}

// Eligible reports whether the login scan may pick the account. A logged in
// account becomes eligible again once its session window has elapsed.
func (a *Account) Eligible(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.loggingIn && !a.parked && !a.nextLoginAt.After(now)
}

// beginLogin marks a login as in flight and returns its generation. The
// current session stops being usable by the action loops from this point.
// A forced login also unparks the account.
func (a *Account) beginLogin(now time.Time, force bool) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loggingIn {
		return 0, false
	}
	if !force && (a.parked || a.nextLoginAt.After(now)) {
		return 0, false
	}
	a.gen++
	a.parked = false
	a.loggingIn = true
	a.isLogin = false
	return a.gen, true
}

// completeLogin installs the session unless the login was superseded.
func (a *Account) completeLogin(gen uint64, s *Session, nickname string, expiresAt time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return false
	}
	a.headers = s.Headers()
	if nickname != "" {
		a.nickname = nickname
	}
	a.nextLoginAt = expiresAt
	a.isLogin = true
	a.loggingIn = false
	return true
}

func (a *Account) failLogin(gen uint64, until time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return false
	}
	a.headers = map[string]string{}
	a.nextLoginAt = until
	a.isLogin = false
	a.loggingIn = false
	return true
}

// abortLogin clears the in-flight mark without a cooldown.
func (a *Account) abortLogin(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen == a.gen {
		a.loggingIn = false
	}
}

// conflict demotes the account if token is still its live session. A stale
// failure from before a newer login is ignored.
func (a *Account) conflict(token string, until time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isLogin || a.headers[HeaderSessionToken] != token {
		return false
	}
	a.nextLoginAt = until
	a.isLogin = false
	return true
}

// logout parks the account and invalidates any login still in flight.
func (a *Account) logout() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.headers = map[string]string{}
	a.nextLoginAt = time.Time{}
	a.isLogin = false
	a.loggingIn = false
	a.parked = true
}

// session returns a copy of the call headers and the token they carry.
func (a *Account) session() (map[string]string, string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isLogin || a.loggingIn {
		return nil, "", false
	}
	headers := make(map[string]string, len(a.headers))
	for k, v := range a.headers {
		headers[k] = v
	}
	return headers, a.headers[HeaderSessionToken], true
}

// actionSession is session gated by a feature flag.
func (a *Account) actionSession(feature string) (map[string]string, string, bool) {
	if !a.Feature(feature) {
		return nil, "", false
	}
	return a.session()
}

// Feature reports whether feature is enabled.
func (a *Account) Feature(feature string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.features[feature]
}

func (a *Account) setFeature(feature string, enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.features[feature] = enabled
}

// Nickname is the cached profile nickname.
func (a *Account) Nickname() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nickname
}

func (a *Account) setFriends(s FriendSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.friends = s
}

// AccountRepo holds the roster. Accounts live for the whole process.
type AccountRepo interface {
	List(context.Context) []*Account
	Get(context.Context, string) (*Account, error)
}
