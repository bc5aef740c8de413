package core

import (
	"context"
	"time"
)

// Topics published for outward consumers.
const (
	TopicPresenceChanged     = "presence.changed"
	TopicMessageSent         = "message.sent"
	TopicFriendRequested     = "friend.requested"
	TopicFriendAccepted      = "friend.accepted"
	TopicFriendRejected      = "friend.rejected"
	TopicConversationCleared = "conversation.cleared"
)

// Publisher forwards domain notifications outside the process.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// PresenceNotice is published when a user comes online or goes offline.
type PresenceNotice struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Online   bool      `json:"online"`
	At       time.Time `json:"at"`
}

// MessageNotice is published after a message is persisted.
type MessageNotice struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Timestamp  time.Time `json:"timestamp"`
}

// FriendNotice is published on friend request transitions.
type FriendNotice struct {
	FromUserID string    `json:"fromUserId"`
	ToUserID   string    `json:"toUserId"`
	At         time.Time `json:"at"`
}

// ClearNotice is published after a conversation is deleted.
type ClearNotice struct {
	UserID1 string `json:"userId1"`
	UserID2 string `json:"userId2"`
	Removed int64  `json:"removed"`
}
