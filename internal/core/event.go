package core

import "github.com/vovakirdan/chatlink/internal/domain"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventOnlineUsers carries the deduplicated online list; sent to everyone on presence change.
	EventOnlineUsers EventKind = iota
	// EventAllUsers answers getAllUsers.
	EventAllUsers
	// EventFriendsList carries the recipient's friends.
	EventFriendsList
	// EventFriendRequests carries requests addressed to the recipient.
	EventFriendRequests
	// EventNewFriendRequest notifies the target of a new request.
	EventNewFriendRequest
	// EventFriendRequestAccepted tells the requester who accepted.
	EventFriendRequestAccepted
	// EventReceiveMessage delivers a persisted message to the receiver.
	EventReceiveMessage
	// EventMessageHistory answers loadChatHistory.
	EventMessageHistory
	// EventMessagesCleared tells both participants a conversation was deleted.
	EventMessagesCleared
	// EventMessageError reports a failed send or clear.
	EventMessageError
	// EventHistoryError reports a failed history load.
	EventHistoryError
	// EventError notifies clients about a rejected command.
	EventError
)

var eventNames = map[EventKind]string{
	EventOnlineUsers:           "onlineUsers",
	EventAllUsers:              "allUsers",
	EventFriendsList:           "friendsList",
	EventFriendRequests:        "friendRequests",
	EventNewFriendRequest:      "newFriendRequest",
	EventFriendRequestAccepted: "friendRequestAccepted",
	EventReceiveMessage:        "receiveMessage",
	EventMessageHistory:        "messageHistory",
	EventMessagesCleared:       "messagesCleared",
	EventMessageError:          "messageError",
	EventHistoryError:          "historyError",
	EventError:                 "error",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Users    []domain.Contact // list events
	Contact  domain.Contact   // newFriendRequest, friendRequestAccepted
	Message  Message          // receiveMessage
	Messages []Message        // messageHistory
	Pair     [2]string        // messagesCleared
	Error    *CoreError
}

func usersEvent(kind EventKind, users []domain.Contact) *Event {
	if users == nil {
		users = []domain.Contact{}
	}
	return &Event{Kind: kind, Users: users}
}
