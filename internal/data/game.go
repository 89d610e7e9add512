package data

import (
	"context"
	"fmt"

	"Approve/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	methodAuthorize = "System/AuthorizeV1"
	methodProfile   = "PlayerProfile/MyProfileV1"
	methodFriends   = "Friend/ListV1"
	methodApprove   = "Friend/ApproveRequestV1"
	methodDelete    = "Friend/DeleteV1"

	// HeaderResponseCacheHash is echoed back as biz.HeaderCacheHash.
	HeaderResponseCacheHash = "x-takasho-response-master-memory-aladdin-hash"
)

type gameRepo struct {
	policy *RetryPolicy
	log    *log.Helper
}

// NewGameRepo 创建玩家接口仓库
func NewGameRepo(policy *RetryPolicy, logger log.Logger) biz.GameRepo {
	return &gameRepo{
		policy: policy,
		log:    log.NewHelper(log.With(logger, "module", "data/game")),
	}
}

// Authorize 用 id token 换取会话
func (r *gameRepo) Authorize(ctx context.Context, idToken string) (*biz.Session, error) {
	body := appendString(nil, 1, idToken)
	reply, err := r.policy.Call(ctx, methodAuthorize, nil, body, true)
	if err != nil {
		return nil, err
	}
	var token string
	err = eachField(reply.Body, func(num protowire.Number, v []byte) error {
		if num == 1 {
			token = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", methodAuthorize, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%s: empty session token", methodAuthorize)
	}
	s := &biz.Session{Token: token}
	if hash := reply.Headers.Get(HeaderResponseCacheHash); len(hash) > 0 {
		s.CacheHash = hash[0]
	}
	return s, nil
}

// MyProfile 获取自己的玩家资料
func (r *gameRepo) MyProfile(ctx context.Context, headers map[string]string) (*biz.Profile, error) {
	reply, err := r.policy.Call(ctx, methodProfile, headers, nil, true)
	if err != nil {
		return nil, err
	}
	p := &biz.Profile{}
	// profile(1) -> spine(1) -> nickname(2)
	err = eachField(reply.Body, func(num protowire.Number, profile []byte) error {
		if num != 1 {
			return nil
		}
		return eachField(profile, func(num protowire.Number, spine []byte) error {
			if num != 1 {
				return nil
			}
			return eachField(spine, func(num protowire.Number, v []byte) error {
				if num == 2 {
					p.Nickname = string(v)
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", methodProfile, err)
	}
	return p, nil
}

// ListFriends 获取好友, 已发送和待处理的申请
func (r *gameRepo) ListFriends(ctx context.Context, headers map[string]string) (*biz.FriendList, error) {
	reply, err := r.policy.Call(ctx, methodFriends, headers, nil, true)
	if err != nil {
		return nil, err
	}
	list := &biz.FriendList{Friends: []string{}, Sent: []string{}, Received: []string{}}
	err = eachField(reply.Body, func(num protowire.Number, entry []byte) error {
		var target *[]string
		switch num {
		case 1:
			target = &list.Friends
		case 2:
			target = &list.Sent
		case 3:
			target = &list.Received
		default:
			return nil
		}
		return eachField(entry, func(num protowire.Number, v []byte) error {
			if num == 1 {
				*target = append(*target, string(v))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", methodFriends, err)
	}
	return list, nil
}

// ApproveFriend 同意好友申请
func (r *gameRepo) ApproveFriend(ctx context.Context, headers map[string]string, playerID string) error {
	_, err := r.policy.Call(ctx, methodApprove, headers, appendString(nil, 1, playerID), false)
	return err
}

// DeleteFriends 删除好友
func (r *gameRepo) DeleteFriends(ctx context.Context, headers map[string]string, playerIDs []string) error {
	if len(playerIDs) == 0 {
		return nil
	}
	var body []byte
	for _, id := range playerIDs {
		body = appendString(body, 1, id)
	}
	_, err := r.policy.Call(ctx, methodDelete, headers, body, false)
	return err
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// eachField calls fn for every length-delimited field of b and skips the rest.
func eachField(b []byte, fn func(num protowire.Number, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, v); err != nil {
			return err
		}
	}
	return nil
}
