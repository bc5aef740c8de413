package core

import (
	"time"

	"github.com/vovakirdan/chatlink/internal/store"
)

// Message is the domain model for a direct message.
type Message struct {
	ID         string
	SenderID   string
	SenderName string
	ReceiverID string
	Text       string
	Timestamp  time.Time
	Read       bool
}

func messageFromStore(m *store.Message) Message {
	return Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
		Read:       m.Read,
	}
}

func messagesFromStore(ms []*store.Message) []Message {
	out := make([]Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, messageFromStore(m))
	}
	return out
}
