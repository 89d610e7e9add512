package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

var (
	// ErrEncryption 请求加密失败, 本地状态损坏, 不重试
	ErrEncryption = errors.InternalServer("ENCRYPTION_ERROR", "envelope seal failed")
	// ErrDecryption 响应解密失败, 不重试
	ErrDecryption = errors.InternalServer("DECRYPTION_ERROR", "envelope open failed")
)

// IsCodecError reports a local envelope failure. These point at the process,
// not at one account.
func IsCodecError(err error) bool {
	return errors.Is(err, ErrEncryption) || errors.Is(err, ErrDecryption)
}

// Session is what System/AuthorizeV1 hands back.
type Session struct {
	Token     string
	CacheHash string
}

// Headers builds the per-account call headers for the session.
func (s *Session) Headers() map[string]string {
	h := map[string]string{HeaderSessionToken: s.Token}
	if s.CacheHash != "" {
		h[HeaderCacheHash] = s.CacheHash
	}
	return h
}

// Profile is the part of PlayerProfile/MyProfileV1 the scheduler keeps.
type Profile struct {
	Nickname string
}

// FriendList holds player ids from Friend/ListV1.
type FriendList struct {
	Friends  []string `json:"friends"`
	Sent     []string `json:"sent"`
	Received []string `json:"received"`
}

// Summary counts the list.
func (l *FriendList) Summary() FriendSummary {
	return FriendSummary{Friends: len(l.Friends), Sent: len(l.Sent), Received: len(l.Received)}
}

// LoginRepo exchanges device credentials for an id token.
type LoginRepo interface {
	SignIn(ctx context.Context, id, password string) (string, error)
}

// GameRepo is the set of player api calls the scheduler drives. Every call
// goes through the retry policy; errors that reach the caller are final.
type GameRepo interface {
	Authorize(ctx context.Context, idToken string) (*Session, error)
	MyProfile(ctx context.Context, headers map[string]string) (*Profile, error)
	ListFriends(ctx context.Context, headers map[string]string) (*FriendList, error)
	ApproveFriend(ctx context.Context, headers map[string]string, playerID string) error
	DeleteFriends(ctx context.Context, headers map[string]string, playerIDs []string) error
}

// Notifier delivers human readable alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// AccountObserver is pushed a snapshot after every account mutation.
type AccountObserver interface {
	AccountChanged(ctx context.Context, snapshot AccountSnapshot) error
}

// EventKind names an account lifecycle event.
type EventKind string

const (
	EventLoginSucceeded EventKind = "login_succeeded"
	EventLoginFailed    EventKind = "login_failed"
	EventTakeover       EventKind = "takeover"
	EventLogout         EventKind = "logout"
	EventCodecFailure   EventKind = "codec_failure"
)

// AccountEvent is one lifecycle record.
type AccountEvent struct {
	AccountID string
	Kind      EventKind
	Detail    string
	At        time.Time
}

// EventRepo stores lifecycle records.
type EventRepo interface {
	Record(context.Context, *AccountEvent) error
}

// ProxyInfo describes the connection pool for diagnostics.
type ProxyInfo interface {
	CurrentProxy() string
	Size() int
}
