package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// OnlineUser is the durable presence record of a user.
type OnlineUser struct {
	UserID       string
	UserName     string
	ConnectionID string // latest connection that admitted the user
	IsOnline     bool
	LastSeen     time.Time
}

// Message represents a persisted direct message.
type Message struct {
	ID         string // assigned by the store
	SenderID   string
	SenderName string
	ReceiverID string
	Text       string
	Timestamp  time.Time
	Read       bool
}

// FriendRequest is a pending, directed proposal to become friends.
type FriendRequest struct {
	FromUserID   string
	FromUserName string
	ToUserID     string
	ToUserName   string
	CreatedAt    time.Time
}

// Friend is the other side of a friendship as seen by one user.
type Friend struct {
	UserID   string
	UserName string
	Since    time.Time
}

// RequestResult describes what CreateFriendRequest did.
type RequestResult int

const (
	// RequestCreated means a new pending request was stored.
	RequestCreated RequestResult = iota
	// RequestDuplicate means the same request was already pending.
	RequestDuplicate
	// RequestAlreadyFriends means the users are friends already.
	RequestAlreadyFriends
	// RequestMutualAccepted means the reverse request was pending and both became friends.
	RequestMutualAccepted
)

func (r RequestResult) String() string {
	switch r {
	case RequestCreated:
		return "created"
	case RequestDuplicate:
		return "duplicate"
	case RequestAlreadyFriends:
		return "already_friends"
	case RequestMutualAccepted:
		return "mutual_accepted"
	default:
		return fmt.Sprintf("RequestResult(%d)", int(r))
	}
}

// PresenceStore handles durable online status.
type PresenceStore interface {
	// UpsertOnline marks the user online and records the admitting connection.
	UpsertOnline(ctx context.Context, userID, userName, connectionID string, at time.Time) error

	// MarkOffline marks the user offline and updates last seen.
	MarkOffline(ctx context.Context, userID string, at time.Time) error

	// ResetPresence marks every user offline. Used at startup.
	ResetPresence(ctx context.Context, at time.Time) error

	// GetOnlineUser returns the presence record of a user.
	GetOnlineUser(ctx context.Context, userID string) (*OnlineUser, error)

	// ListOnlineUsers returns users whose durable status is online.
	ListOnlineUsers(ctx context.Context) ([]*OnlineUser, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and assigns its ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListConversation returns the most recent limit messages between two users, oldest first.
	ListConversation(ctx context.Context, userA, userB string, limit int) ([]*Message, error)

	// MarkConversationRead flags unread messages from senderID to receiverID as read.
	MarkConversationRead(ctx context.Context, receiverID, senderID string) (int64, error)

	// DeleteConversation removes every message between two users.
	DeleteConversation(ctx context.Context, userA, userB string) (int64, error)
}

// FriendStore handles the friend graph.
type FriendStore interface {
	// CreateFriendRequest stores a pending request unless the pair is already
	// friends, the request exists, or the reverse request is pending (mutual accept).
	CreateFriendRequest(ctx context.Context, req *FriendRequest) (RequestResult, error)

	// GetFriendRequest retrieves a pending request fromUserID -> toUserID.
	GetFriendRequest(ctx context.Context, fromUserID, toUserID string) (*FriendRequest, error)

	// AcceptFriendRequest consumes a pending request and creates the friendship.
	// Returns false when no such request was pending.
	AcceptFriendRequest(ctx context.Context, fromUserID, toUserID string, at time.Time) (bool, error)

	// DeleteFriendRequest removes a pending request. Returns false if none existed.
	DeleteFriendRequest(ctx context.Context, fromUserID, toUserID string) (bool, error)

	// ListIncomingRequests lists requests addressed to userID, oldest first.
	ListIncomingRequests(ctx context.Context, userID string) ([]*FriendRequest, error)

	// ListOutgoingRequests lists requests sent by userID, oldest first.
	ListOutgoingRequests(ctx context.Context, userID string) ([]*FriendRequest, error)

	// AreFriends checks if two users are friends.
	AreFriends(ctx context.Context, userA, userB string) (bool, error)

	// ListFriends lists the friends of userID in the order the friendships were made.
	ListFriends(ctx context.Context, userID string) ([]*Friend, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	PresenceStore
	MessageStore
	FriendStore

	// Close closes the underlying database connection.
	Close() error
}
