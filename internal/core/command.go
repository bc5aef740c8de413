package core

import (
	"time"

	"github.com/vovakirdan/chatlink/internal/domain"
)

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandGetAllUsers asks for online users plus the caller's friend graph.
	CommandGetAllUsers CommandKind = iota
	// CommandGetFriends asks for the caller's friends.
	CommandGetFriends
	// CommandGetFriendRequests asks for requests addressed to the caller.
	CommandGetFriendRequests
	// CommandSendFriendRequest proposes a friendship From -> To.
	CommandSendFriendRequest
	// CommandAcceptFriendRequest accepts the request From -> To; To is the caller.
	CommandAcceptFriendRequest
	// CommandRejectFriendRequest rejects the request From -> To; To is the caller.
	CommandRejectFriendRequest
	// CommandLoadHistory loads the conversation between From (the caller) and To.
	CommandLoadHistory
	// CommandSendMessage sends Text from From (the caller) to To.
	CommandSendMessage
	// CommandClearMessages deletes the conversation between From and To.
	CommandClearMessages
)

var commandNames = map[CommandKind]string{
	CommandGetAllUsers:         "getAllUsers",
	CommandGetFriends:          "getFriends",
	CommandGetFriendRequests:   "getFriendRequests",
	CommandSendFriendRequest:   "sendFriendRequest",
	CommandAcceptFriendRequest: "acceptFriendRequest",
	CommandRejectFriendRequest: "rejectFriendRequest",
	CommandLoadHistory:         "loadChatHistory",
	CommandSendMessage:         "sendMessage",
	CommandClearMessages:       "clearMessages",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// Command represents an action requested by a client. Empty identity fields
// default to the connection's identity where the caller is the acting party.
type Command struct {
	Kind      CommandKind
	From      domain.UserIdentity
	To        domain.UserIdentity
	Text      string
	Timestamp time.Time // zero means server time
}
