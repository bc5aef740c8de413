package messages

import (
	"context"
	"math"
	"time"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/store"
)

// DefaultHistoryLimit bounds LoadHistory to the most recent messages.
const DefaultHistoryLimit = 100

// SendInput is a message about to be persisted.
type SendInput struct {
	SenderID   string `json:"senderId" validate:"notblank,max=320"`
	SenderName string `json:"senderName" validate:"notblank,max=200"`
	ReceiverID string `json:"receiverId" validate:"notblank,max=320"`
	Text       string `json:"text" validate:"notblank,max=4096"`
	// Timestamp is the client-supplied send time; zero means now.
	Timestamp time.Time `json:"timestamp"`
}

type historyInput struct {
	SenderID   string `json:"senderId" validate:"notblank,max=320"`
	ReceiverID string `json:"receiverId" validate:"notblank,max=320"`
}

type clearInput struct {
	UserID1 string `json:"userId1" validate:"notblank,max=320"`
	UserID2 string `json:"userId2" validate:"notblank,max=320"`
}

// Service persists direct messages and serves conversation history.
type Service struct {
	store store.MessageStore
	limit int
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHistoryLimit sets how many recent messages a history read returns.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a message Service.
func New(st store.MessageStore, opts ...Option) *Service {
	s := &Service{
		store: st,
		limit: DefaultHistoryLimit,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send validates and persists a message as unread. The returned message
// carries the id assigned by the store.
func (s *Service) Send(ctx context.Context, in SendInput) (*store.Message, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	// Stored as unix nanoseconds.
	if ts.Before(time.Unix(0, math.MinInt64)) || ts.After(time.Unix(0, math.MaxInt64)) {
		return nil, domain.NewValidationError(map[string]string{"timestamp": "out of range"})
	}
	msg := &store.Message{
		SenderID:   in.SenderID,
		SenderName: in.SenderName,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		Timestamp:  ts.UTC(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, domain.Persistence("save message", err)
	}
	return msg, nil
}

// History returns the most recent messages between two users, oldest first.
func (s *Service) History(ctx context.Context, userA, userB string) ([]*store.Message, error) {
	if err := domain.Validate(historyInput{SenderID: userA, ReceiverID: userB}); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListConversation(ctx, userA, userB, s.limit)
	if err != nil {
		return nil, domain.Persistence("load history", err)
	}
	return msgs, nil
}

// LoadHistory returns the conversation as History does, then marks every
// message from peer to reader as read. The returned rows keep their state
// from before the update.
func (s *Service) LoadHistory(ctx context.Context, readerID, peerID string) ([]*store.Message, error) {
	msgs, err := s.History(ctx, readerID, peerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.MarkConversationRead(ctx, readerID, peerID); err != nil {
		return nil, domain.Persistence("mark messages read", err)
	}
	return msgs, nil
}

// Clear deletes every message between two users and reports how many were removed.
func (s *Service) Clear(ctx context.Context, userID1, userID2 string) (int64, error) {
	if err := domain.Validate(clearInput{UserID1: userID1, UserID2: userID2}); err != nil {
		return 0, err
	}

	n, err := s.store.DeleteConversation(ctx, userID1, userID2)
	if err != nil {
		return 0, domain.Persistence("clear messages", err)
	}
	return n, nil
}
