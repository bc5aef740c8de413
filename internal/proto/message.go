package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	InboundGetAllUsers         = "getAllUsers"
	InboundGetFriends          = "getFriends"
	InboundGetFriendRequests   = "getFriendRequests"
	InboundSendFriendRequest   = "sendFriendRequest"
	InboundAcceptFriendRequest = "acceptFriendRequest"
	InboundRejectFriendRequest = "rejectFriendRequest"
	InboundLoadChatHistory     = "loadChatHistory"
	InboundSendMessage         = "sendMessage"
	InboundClearMessages       = "clearMessages"
)

// Outbound event names.
const (
	OutboundOnlineUsers           = "onlineUsers"
	OutboundAllUsers              = "allUsers"
	OutboundFriendsList           = "friendsList"
	OutboundFriendRequests        = "friendRequests"
	OutboundNewFriendRequest      = "newFriendRequest"
	OutboundFriendRequestAccepted = "friendRequestAccepted"
	OutboundReceiveMessage        = "receiveMessage"
	OutboundMessageHistory        = "messageHistory"
	OutboundMessagesCleared       = "messagesCleared"
	OutboundMessageError          = "messageError"
	OutboundHistoryError          = "historyError"
	OutboundError                 = "error"
)

// FriendRequestData is the payload of send/accept/reject friend request events.
type FriendRequestData struct {
	FromUserID   string `json:"fromUserId"`
	FromUserName string `json:"fromUserName,omitempty"`
	ToUserID     string `json:"toUserId"`
	ToUserName   string `json:"toUserName,omitempty"`
}

// HistoryData asks for the conversation between senderId and receiverId.
type HistoryData struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// SendMessageData is a direct message from the client.
type SendMessageData struct {
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Timestamp  Timestamp `json:"timestamp"`
}

// ClearData names the two participants of a conversation.
type ClearData struct {
	UserID1 string `json:"userId1"`
	UserID2 string `json:"userId2"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// User is an entry of the online, all-users, friends and request lists.
type User struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Message is a persisted direct message.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
	Read       bool   `json:"read"`
}

// MessagesCleared tells a client which conversation was deleted.
type MessagesCleared struct {
	UserID1 string `json:"userId1"`
	UserID2 string `json:"userId2"`
}

// Error describes a failed operation.
type Error struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// FormatTime renders timestamps on the wire.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Timestamp accepts an RFC 3339 string or a whole number of unix
// milliseconds. Null, empty or missing values decode to the zero time. Values
// outside the range of int64 unix nanoseconds are rejected.
type Timestamp struct {
	time.Time
}

const (
	minMillis = math.MinInt64 / int64(time.Millisecond)
	maxMillis = math.MaxInt64 / int64(time.Millisecond)
)

var (
	minTime = time.Unix(0, math.MinInt64)
	maxTime = time.Unix(0, math.MaxInt64)
)

var errTimestampRange = fmt.Errorf("timestamp: out of range, must be between %s and %s",
	minTime.UTC().Format(time.RFC3339), maxTime.UTC().Format(time.RFC3339))

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		if parsed.Before(minTime) || parsed.After(maxTime) {
			return errTimestampRange
		}
		t.Time = parsed
		return nil
	}

	ms, err := parseMillis(string(data))
	if err != nil {
		return err
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

// parseMillis accepts integers and integral floats such as 1.7e12.
func parseMillis(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < minMillis || ms > maxMillis {
			return 0, errTimestampRange
		}
		return ms, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp: %w", err)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("timestamp: %s is not a whole number of milliseconds", s)
	}
	if f < float64(minMillis) || f > float64(maxMillis) {
		return 0, errTimestampRange
	}
	return int64(f), nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(FormatTime(t.Time))
}
