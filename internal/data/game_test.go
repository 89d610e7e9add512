package data

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"Approve/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func newTestGameRepo(t *testing.T) (biz.GameRepo, *fakeBackend) {
	t.Helper()
	exec, backend, pool := newTestExecutor(t, nil)
	policy := newRetryPolicy(exec, pool, 1, time.Millisecond, time.Millisecond, log.NewStdLogger(io.Discard))
	return NewGameRepo(policy, log.NewStdLogger(io.Discard)), backend
}

func TestGameAuthorize(t *testing.T) {
	repo, backend := newTestGameRepo(t)
	backend.handler = func(method string, body []byte) ([]byte, error) {
		assert.True(t, strings.HasSuffix(method, "System/AuthorizeV1"))
		var idToken string
		assert.NoError(t, eachField(body, func(num protowire.Number, v []byte) error {
			idToken = string(v)
			return nil
		}))
		assert.Equal(t, "id-token", idToken)
		reply := protowire.AppendTag(nil, 9, protowire.VarintType)
		reply = protowire.AppendVarint(reply, 42)
		return appendString(reply, 1, "session-1"), nil
	}

	s, err := repo.Authorize(context.Background(), "id-token")
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.Token)
	assert.Equal(t, "hash-1", s.CacheHash)
	assert.Equal(t, "hash-1", s.Headers()[biz.HeaderCacheHash])
}

func TestGameAuthorizeEmptyToken(t *testing.T) {
	repo, _ := newTestGameRepo(t)
	_, err := repo.Authorize(context.Background(), "id-token")
	assert.Error(t, err)
}

func TestGameProfileAndFriends(t *testing.T) {
	repo, backend := newTestGameRepo(t)
	backend.handler = func(method string, _ []byte) ([]byte, error) {
		switch {
		case strings.HasSuffix(method, "PlayerProfile/MyProfileV1"):
			spine := appendString(appendString(nil, 1, "p-1"), 2, "Lettuce")
			return appendMessage(nil, 1, appendMessage(nil, 1, spine)), nil
		case strings.HasSuffix(method, "Friend/ListV1"):
			var b []byte
			b = appendMessage(b, 1, appendString(nil, 1, "f1"))
			b = appendMessage(b, 1, appendString(nil, 1, "f2"))
			b = appendMessage(b, 2, appendString(nil, 1, "s1"))
			b = appendMessage(b, 3, appendString(nil, 1, "r1"))
			return b, nil
		}
		return nil, nil
	}
	headers := map[string]string{biz.HeaderSessionToken: "tok"}

	p, err := repo.MyProfile(context.Background(), headers)
	require.NoError(t, err)
	assert.Equal(t, "Lettuce", p.Nickname)

	list, err := repo.ListFriends(context.Background(), headers)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, list.Friends)
	assert.Equal(t, []string{"s1"}, list.Sent)
	assert.Equal(t, []string{"r1"}, list.Received)
	assert.Equal(t, biz.FriendSummary{Friends: 2, Sent: 1, Received: 1}, list.Summary())
}

func TestGameFireAndForgetCalls(t *testing.T) {
	repo, backend := newTestGameRepo(t)
	backend.rawReply = []byte{}
	headers := map[string]string{biz.HeaderSessionToken: "tok"}

	require.NoError(t, repo.ApproveFriend(context.Background(), headers, "r1"))
	require.NoError(t, repo.DeleteFriends(context.Background(), headers, []string{"f1", "f2"}))
	require.NoError(t, repo.DeleteFriends(context.Background(), headers, nil))

	calls := backend.recorded()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasSuffix(calls[0].Method, "Friend/ApproveRequestV1"))
	assert.Equal(t, []string{"tok"}, calls[0].MD.Get(biz.HeaderSessionToken))

	var ids []string
	require.NoError(t, eachField(calls[1].Body, func(_ protowire.Number, v []byte) error {
		ids = append(ids, string(v))
		return nil
	}))
	assert.Equal(t, []string{"f1", "f2"}, ids)
}

func TestEachFieldRejectsTruncated(t *testing.T) {
	b := appendString(nil, 1, "hello")
	assert.Error(t, eachField(b[:len(b)-2], func(protowire.Number, []byte) error { return nil }))
}
