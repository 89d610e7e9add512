package biz

import (
	"context"
)

// approveFriendRequests accepts every pending request. A single failed
// approve is skipped, only the list call decides the outcome.
func (s *SessionScheduler) approveFriendRequests(ctx context.Context, acct *Account, headers map[string]string) error {
	list, err := s.listFriends(ctx, acct, headers)
	if err != nil {
		return err
	}
	if len(list.Received) == 0 {
		s.log.Debugf("no pending friend requests: account=%s", acct.ID)
		return nil
	}
	approved := 0
	for _, playerID := range list.Received {
		if err := s.game.ApproveFriend(ctx, headers, playerID); err != nil {
			s.log.Debugf("approve skipped: account=%s player=%s err=%v", acct.ID, playerID, err)
			continue
		}
		approved++
	}
	s.log.Infof("friend requests approved: account=%s approved=%d pending=%d", acct.ID, approved, len(list.Received))
	return nil
}

func (s *SessionScheduler) listFriends(ctx context.Context, acct *Account, headers map[string]string) (*FriendList, error) {
	list, err := s.game.ListFriends(ctx, headers)
	if err != nil {
		return nil, err
	}
	summary := list.Summary()
	acct.setFriends(summary)
	s.log.Infof("friend list: account=%s friends=%d sent=%d received=%d", acct.ID, summary.Friends, summary.Sent, summary.Received)
	s.publish(ctx, acct)
	return list, nil
}

// Friends fetches the friend list of a logged in account.
func (s *SessionScheduler) Friends(ctx context.Context, id string) (*FriendList, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	headers, _, ok := acct.session()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return s.listFriends(ctx, acct, headers)
}

// DeleteAllFriends removes every friend in one call and refreshes the list.
func (s *SessionScheduler) DeleteAllFriends(ctx context.Context, id string) (*AccountSnapshot, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	headers, _, ok := acct.session()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	list, err := s.listFriends(ctx, acct, headers)
	if err != nil {
		return nil, err
	}
	if len(list.Friends) > 0 {
		if err := s.game.DeleteFriends(ctx, headers, list.Friends); err != nil {
			return nil, err
		}
		s.log.Infof("friends deleted: account=%s count=%d", acct.ID, len(list.Friends))
	}
	if _, err := s.listFriends(ctx, acct, headers); err != nil {
		return nil, err
	}
	snap := acct.Snapshot(s.now())
	return &snap, nil
}
