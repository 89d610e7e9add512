package biz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestNewAccountAutoLogin(t *testing.T) {
	auto := NewAccount("a1", "main", "pw", true, []string{FeatureApprove}, epoch)
	assert.True(t, auto.Eligible(epoch))
	assert.Equal(t, StateLoggedOut, auto.State(epoch))
	assert.True(t, auto.Feature(FeatureApprove))

	parked := NewAccount("a2", "alt", "pw", false, nil, epoch)
	assert.False(t, parked.Eligible(epoch))
	assert.Equal(t, StateLoggedOut, parked.State(epoch))
	assert.Zero(t, parked.Snapshot(epoch).NextLoginAt)
	assert.False(t, parked.Eligible(epoch.Add(365*24*time.Hour)), "parked until a manual login")
	assert.False(t, parked.Feature(FeatureApprove))

	_, ok := parked.beginLogin(epoch, false)
	assert.False(t, ok, "the login scan does not unpark")
	_, ok = parked.beginLogin(epoch, true)
	assert.True(t, ok)
	assert.Equal(t, StateLoggingIn, parked.State(epoch))
}

func TestAccountLoginLifecycle(t *testing.T) {
	a := NewAccount("a1", "", "", true, nil, epoch)
	_, _, ok := a.session()
	assert.False(t, ok)

	gen, ok := a.beginLogin(epoch, false)
	assert.True(t, ok)
	assert.Equal(t, StateLoggingIn, a.State(epoch))
	_, ok = a.beginLogin(epoch, true)
	assert.False(t, ok, "one login in flight at a time")
	assert.False(t, a.Eligible(epoch))

	assert.True(t, a.completeLogin(gen, &Session{Token: "tok", CacheHash: "hash"}, "Red", epoch.Add(50*time.Minute)))
	headers, token, ok := a.session()
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
	assert.Equal(t, "hash", headers[HeaderCacheHash])
	assert.Equal(t, "Red", a.Nickname())
	assert.Equal(t, StateLoggedIn, a.State(epoch))
	assert.False(t, a.Eligible(epoch.Add(49*time.Minute)))
	assert.True(t, a.Eligible(epoch.Add(50*time.Minute)))

	headers["x-extra"] = "1"
	again, _, _ := a.session()
	assert.NotContains(t, again, "x-extra", "session hands out copies")
}

func TestAccountRefreshInvalidatesSession(t *testing.T) {
	a := NewAccount("a1", "", "", true, []string{FeatureApprove}, epoch)
	gen, _ := a.beginLogin(epoch, false)
	a.completeLogin(gen, &Session{Token: "old"}, "", epoch.Add(time.Minute))

	later := epoch.Add(2 * time.Minute)
	_, ok := a.beginLogin(later, false)
	assert.True(t, ok)
	_, _, ok = a.actionSession(FeatureApprove)
	assert.False(t, ok, "actions wait while a new login is in flight")
}

func TestAccountFailLogin(t *testing.T) {
	a := NewAccount("a1", "", "", true, nil, epoch)
	gen, _ := a.beginLogin(epoch, false)
	assert.True(t, a.failLogin(gen, epoch.Add(time.Minute)))

	snap := a.Snapshot(epoch)
	assert.False(t, snap.IsLogin)
	assert.Equal(t, epoch.Add(time.Minute).UnixMilli(), snap.NextLoginAt)
	assert.Equal(t, StateCooldown, snap.State)
	assert.True(t, a.Eligible(epoch.Add(time.Minute)))
}

func TestAccountConflictOnlyForLiveToken(t *testing.T) {
	a := NewAccount("a1", "", "", true, nil, epoch)
	gen, _ := a.beginLogin(epoch, false)
	a.completeLogin(gen, &Session{Token: "new"}, "", epoch.Add(time.Hour))

	assert.False(t, a.conflict("old", epoch.Add(10*time.Minute)))
	assert.Equal(t, StateLoggedIn, a.State(epoch))

	assert.True(t, a.conflict("new", epoch.Add(10*time.Minute)))
	assert.Equal(t, StateCooldown, a.State(epoch))
	assert.False(t, a.conflict("new", epoch.Add(20*time.Minute)), "already demoted")
}

func TestAccountLabel(t *testing.T) {
	assert.Equal(t, "abcd", NewAccount("abcdef", "", "", false, nil, epoch).Label())
	assert.Equal(t, "alt", NewAccount("abcdef", "alt", "", false, nil, epoch).Label())

	a := NewAccount("abcdef", "alt", "", true, nil, epoch)
	gen, _ := a.beginLogin(epoch, false)
	a.completeLogin(gen, &Session{Token: "t"}, "Blue", epoch.Add(time.Hour))
	assert.Equal(t, "Blue", a.Label())
}

func TestAccountLogoutDropsInflightLogin(t *testing.T) {
	a := NewAccount("a1", "", "", true, nil, epoch)
	gen, ok := a.beginLogin(epoch, false)
	require.True(t, ok)

	a.logout()
	assert.Equal(t, StateLoggedOut, a.State(epoch))

	assert.False(t, a.completeLogin(gen, &Session{Token: "late"}, "Late", epoch.Add(time.Hour)))
	assert.False(t, a.failLogin(gen, epoch.Add(time.Minute)))
	a.abortLogin(gen)

	snap := a.Snapshot(epoch)
	assert.False(t, snap.IsLogin)
	assert.Equal(t, StateLoggedOut, snap.State)
	assert.Empty(t, snap.Nickname)
	assert.False(t, a.Eligible(epoch.Add(2*time.Hour)))
	_, _, ok = a.session()
	assert.False(t, ok)
}

func TestAccountAbortLoginSkipsCooldown(t *testing.T) {
	a := NewAccount("a1", "", "", true, nil, epoch)
	gen, _ := a.beginLogin(epoch, false)
	a.abortLogin(gen)

	assert.Equal(t, StateLoggedOut, a.State(epoch))
	assert.True(t, a.Eligible(epoch))
}
