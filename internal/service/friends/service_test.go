package friends

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/store"
	"github.com/vovakirdan/chatlink/internal/store/sqlite"
)

var (
	alice = domain.UserIdentity{UserID: "alice@x.com", UserName: "Alice"}
	bob   = domain.UserIdentity{UserID: "bob@y.com", UserName: "Bob"}
	carol = domain.UserIdentity{UserID: "carol@z.com", UserName: "Carol"}
)

func newService(t *testing.T) *Service {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func contactIDs(cs []domain.Contact) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.UserID)
	}
	return ids
}

func TestAcceptMakesFriendshipSymmetric(t *testing.T) {
	// Given a pending request from alice to bob
	svc := newService(t)
	ctx := context.Background()
	outcome, req, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
	require.Equal(t, "Alice", req.FromUserName)

	// When bob accepts
	ok, err := svc.AcceptRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	require.True(t, ok)

	// Then both see each other and no request is left
	aliceFriends, err := svc.ListFriends(ctx, alice.UserID)
	require.NoError(t, err)
	require.Equal(t, []string{bob.UserID}, contactIDs(aliceFriends))

	bobFriends, err := svc.ListFriends(ctx, bob.UserID)
	require.NoError(t, err)
	require.Equal(t, []string{alice.UserID}, contactIDs(bobFriends))

	for _, id := range []string{alice.UserID, bob.UserID} {
		reqs, err := svc.ListRequests(ctx, id)
		require.NoError(t, err)
		require.Empty(t, reqs)
	}
}

func TestSendRequestTwiceKeepsOnePending(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)
	outcome, req, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)
	require.Nil(t, req)

	reqs, err := svc.ListRequests(ctx, bob.UserID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
}

func TestSendRequestToSelfIsNoop(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	outcome, _, err := svc.SendRequest(ctx, alice, alice)
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)

	reqs, err := svc.ListRequests(ctx, alice.UserID)
	require.NoError(t, err)
	require.Empty(t, reqs)
}

func TestSendRequestBetweenFriendsIsNoop(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)
	_, err = svc.AcceptRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)

	outcome, _, err := svc.SendRequest(ctx, bob, alice)
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, outcome)

	reqs, err := svc.ListRequests(ctx, alice.UserID)
	require.NoError(t, err)
	require.Empty(t, reqs)
}

func TestOfflineRequestVisibleLater(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)

	reqs, err := svc.ListRequests(ctx, "bob@y.com")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "alice@x.com", reqs[0].UserID)
	require.Equal(t, "Alice", reqs[0].UserName)
	require.False(t, reqs[0].CreatedAt.IsZero())
}

func TestRejectThenResend(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)

	ok, err := svc.RejectRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	require.True(t, ok)

	// Rejecting again is idempotent.
	ok, err = svc.RejectRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	require.False(t, ok)

	outcome, _, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	reqs, err := svc.ListRequests(ctx, bob.UserID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
}

func TestAcceptWithoutRequestIsNoop(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	ok, err := svc.AcceptRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	require.False(t, ok)

	friends, err := svc.ListFriends(ctx, bob.UserID)
	require.NoError(t, err)
	require.Empty(t, friends)
}

func TestAcceptAfterRejectIsNoop(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)

	rejected, err := svc.RejectRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	require.True(t, rejected)

	accepted, err := svc.AcceptRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestMutualRequestAccepts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)

	outcome, req, err := svc.SendRequest(ctx, bob, alice)
	require.NoError(t, err)
	require.Equal(t, OutcomeMutualAccepted, outcome)
	require.Equal(t, bob.UserID, req.FromUserID)

	friends, err := svc.ListFriends(ctx, alice.UserID)
	require.NoError(t, err)
	require.Equal(t, []string{bob.UserID}, contactIDs(friends))

	for _, id := range []string{alice.UserID, bob.UserID} {
		reqs, err := svc.ListRequests(ctx, id)
		require.NoError(t, err)
		require.Empty(t, reqs)
	}
}

func TestKnownUsersUnion(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	dave := domain.UserIdentity{UserID: "dave@w.com", UserName: "Dave"}

	// bob is a friend, carol sent a request, alice asked dave.
	_, _, err := svc.SendRequest(ctx, alice, bob)
	require.NoError(t, err)
	_, err = svc.AcceptRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	_, _, err = svc.SendRequest(ctx, carol, alice)
	require.NoError(t, err)
	_, _, err = svc.SendRequest(ctx, alice, dave)
	require.NoError(t, err)

	online := []domain.Contact{
		{UserID: alice.UserID, UserName: alice.UserName},
		{UserID: "erin@v.com", UserName: "Erin"},
		{UserID: bob.UserID, UserName: bob.UserName},
	}

	known, err := svc.KnownUsers(ctx, alice.UserID, online)
	require.NoError(t, err)
	require.Equal(t, []string{"erin@v.com", bob.UserID, carol.UserID, dave.UserID}, contactIDs(known))
}

func TestValidationRejectsBlankIDs(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.SendRequest(ctx, alice, domain.UserIdentity{})
	require.ErrorIs(t, err, domain.ErrValidation)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "toUserId")

	_, err = svc.ListFriends(ctx, " ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

type failingStore struct {
	store.FriendStore
}

func (failingStore) CreateFriendRequest(context.Context, *store.FriendRequest) (store.RequestResult, error) {
	return 0, errors.New("database is locked")
}

func TestSendRequestPersistenceFailure(t *testing.T) {
	svc := New(failingStore{})

	_, _, err := svc.SendRequest(context.Background(), alice, bob)
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestConcurrentAcceptAndRejectResolveOnce(t *testing.T) {
	st, err := sqlite.New(filepath.Join(t.TempDir(), "friends.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	svc := New(st)
	ctx := context.Background()

	for round := range 50 {
		from := domain.UserIdentity{UserID: fmt.Sprintf("from%d@x.com", round), UserName: "From"}
		to := domain.UserIdentity{UserID: fmt.Sprintf("to%d@y.com", round), UserName: "To"}

		outcome, _, err := svc.SendRequest(ctx, from, to)
		require.NoError(t, err)
		require.Equal(t, OutcomeCreated, outcome)

		var (
			wg       sync.WaitGroup
			accepted bool
			rejected bool
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			var err error
			accepted, err = svc.AcceptRequest(ctx, from.UserID, to.UserID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			<-start
			var err error
			rejected, err = svc.RejectRequest(ctx, from.UserID, to.UserID)
			assert.NoError(t, err)
		}()
		close(start)
		wg.Wait()

		require.NotEqual(t, accepted, rejected, "round %d: exactly one side must win", round)

		requests, err := svc.ListRequests(ctx, to.UserID)
		require.NoError(t, err)
		require.Empty(t, requests, "round %d", round)

		friendsOfTo, err := svc.ListFriends(ctx, to.UserID)
		require.NoError(t, err)
		friendsOfFrom, err := svc.ListFriends(ctx, from.UserID)
		require.NoError(t, err)
		if accepted {
			require.Equal(t, []string{from.UserID}, contactIDs(friendsOfTo), "round %d", round)
			require.Equal(t, []string{to.UserID}, contactIDs(friendsOfFrom), "round %d", round)
		} else {
			require.Empty(t, friendsOfTo, "round %d", round)
			require.Empty(t, friendsOfFrom, "round %d", round)
		}
	}
}
