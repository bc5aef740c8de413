package friends

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/store"
)

// Outcome describes what SendRequest did.
type Outcome int

const (
	// OutcomeIgnored covers self requests, duplicates and existing friendships.
	OutcomeIgnored Outcome = iota
	// OutcomeCreated means a new pending request was stored.
	OutcomeCreated
	// OutcomeMutualAccepted means the reverse request was pending and the pair became friends.
	OutcomeMutualAccepted
)

type pairInput struct {
	FromUserID string `json:"fromUserId" validate:"notblank,max=320"`
	ToUserID   string `json:"toUserId" validate:"notblank,max=320"`
}

type userInput struct {
	UserID string `json:"userId" validate:"notblank,max=320"`
}

// Service provides friend management business logic.
type Service struct {
	store store.FriendStore
	now   func() time.Time
}

// New creates a new friend Service.
func New(st store.FriendStore) *Service {
	return &Service{
		store: st,
		now:   time.Now,
	}
}

// SendRequest records a pending request from -> to. Self requests, duplicates
// and requests between friends are silent no-ops. When the reverse request is
// already pending the pair becomes friends instead.
func (s *Service) SendRequest(ctx context.Context, from, to domain.UserIdentity) (Outcome, *store.FriendRequest, error) {
	if err := domain.Validate(pairInput{FromUserID: from.UserID, ToUserID: to.UserID}); err != nil {
		return OutcomeIgnored, nil, err
	}
	if from.UserID == to.UserID {
		return OutcomeIgnored, nil, nil
	}

	req := &store.FriendRequest{
		FromUserID:   from.UserID,
		FromUserName: from.UserName,
		ToUserID:     to.UserID,
		ToUserName:   to.UserName,
		CreatedAt:    s.now().UTC(),
	}
	result, err := s.store.CreateFriendRequest(ctx, req)
	if err != nil {
		return OutcomeIgnored, nil, domain.Persistence("create friend request", err)
	}

	switch result {
	case store.RequestCreated:
		return OutcomeCreated, req, nil
	case store.RequestMutualAccepted:
		return OutcomeMutualAccepted, req, nil
	default:
		return OutcomeIgnored, nil, nil
	}
}

// AcceptRequest consumes the pending request from -> to and makes the pair
// friends. It reports false when no request was pending.
func (s *Service) AcceptRequest(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	if err := domain.Validate(pairInput{FromUserID: fromUserID, ToUserID: toUserID}); err != nil {
		return false, err
	}
	if fromUserID == toUserID {
		return false, nil
	}

	ok, err := s.store.AcceptFriendRequest(ctx, fromUserID, toUserID, s.now().UTC())
	if err != nil {
		return false, domain.Persistence("accept friend request", err)
	}
	return ok, nil
}

// RejectRequest deletes the pending request from -> to if present.
func (s *Service) RejectRequest(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	if err := domain.Validate(pairInput{FromUserID: fromUserID, ToUserID: toUserID}); err != nil {
		return false, err
	}

	ok, err := s.store.DeleteFriendRequest(ctx, fromUserID, toUserID)
	if err != nil {
		return false, domain.Persistence("reject friend request", err)
	}
	return ok, nil
}

// ListFriends returns the friends of userID.
func (s *Service) ListFriends(ctx context.Context, userID string) ([]domain.Contact, error) {
	if err := domain.Validate(userInput{UserID: userID}); err != nil {
		return nil, err
	}

	friends, err := s.store.ListFriends(ctx, userID)
	if err != nil {
		return nil, domain.Persistence("list friends", err)
	}
	return lo.Map(friends, func(f *store.Friend, _ int) domain.Contact {
		return domain.Contact{UserID: f.UserID, UserName: f.UserName}
	}), nil
}

// ListRequests returns the pending requests addressed to userID.
func (s *Service) ListRequests(ctx context.Context, userID string) ([]domain.Contact, error) {
	if err := domain.Validate(userInput{UserID: userID}); err != nil {
		return nil, err
	}

	requests, err := s.store.ListIncomingRequests(ctx, userID)
	if err != nil {
		return nil, domain.Persistence("list friend requests", err)
	}
	return lo.Map(requests, func(r *store.FriendRequest, _ int) domain.Contact {
		return domain.Contact{UserID: r.FromUserID, UserName: r.FromUserName, CreatedAt: r.CreatedAt}
	}), nil
}

// KnownUsers returns the union of the online users and everyone in the
// requester's friend graph (friends, incoming and outgoing requests),
// excluding the requester. Online users come first in the order given.
func (s *Service) KnownUsers(ctx context.Context, requesterID string, online []domain.Contact) ([]domain.Contact, error) {
	if err := domain.Validate(userInput{UserID: requesterID}); err != nil {
		return nil, err
	}

	friends, err := s.store.ListFriends(ctx, requesterID)
	if err != nil {
		return nil, domain.Persistence("list friends", err)
	}
	incoming, err := s.store.ListIncomingRequests(ctx, requesterID)
	if err != nil {
		return nil, domain.Persistence("list incoming requests", err)
	}
	outgoing, err := s.store.ListOutgoingRequests(ctx, requesterID)
	if err != nil {
		return nil, domain.Persistence("list outgoing requests", err)
	}

	known := make([]domain.Contact, 0, len(online)+len(friends)+len(incoming)+len(outgoing))
	for _, c := range online {
		known = append(known, domain.Contact{UserID: c.UserID, UserName: c.UserName})
	}
	for _, f := range friends {
		known = append(known, domain.Contact{UserID: f.UserID, UserName: f.UserName})
	}
	for _, r := range incoming {
		known = append(known, domain.Contact{UserID: r.FromUserID, UserName: r.FromUserName})
	}
	for _, r := range outgoing {
		known = append(known, domain.Contact{UserID: r.ToUserID, UserName: r.ToUserName})
	}

	known = lo.Filter(known, func(c domain.Contact, _ int) bool {
		return c.UserID != requesterID
	})
	return lo.UniqBy(known, func(c domain.Contact) string { return c.UserID }), nil
}
