package http

import (
	"bytes"
	"encoding/json"

	"github.com/vovakirdan/chatlink/internal/core"
	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *core.CoreError) {
	switch inbound.Event {
	case proto.InboundGetAllUsers:
		return &core.Command{Kind: core.CommandGetAllUsers}, nil
	case proto.InboundGetFriends:
		return &core.Command{Kind: core.CommandGetFriends}, nil
	case proto.InboundGetFriendRequests:
		return &core.Command{Kind: core.CommandGetFriendRequests}, nil
	case proto.InboundSendFriendRequest, proto.InboundAcceptFriendRequest, proto.InboundRejectFriendRequest:
		var req proto.FriendRequestData
		if err := decodeData(inbound.Data, &req); err != nil {
			return nil, badRequest(err)
		}
		kind := core.CommandSendFriendRequest
		switch inbound.Event {
		case proto.InboundAcceptFriendRequest:
			kind = core.CommandAcceptFriendRequest
		case proto.InboundRejectFriendRequest:
			kind = core.CommandRejectFriendRequest
		}
		return &core.Command{
			Kind: kind,
			From: domain.UserIdentity{UserID: req.FromUserID, UserName: req.FromUserName},
			To:   domain.UserIdentity{UserID: req.ToUserID, UserName: req.ToUserName},
		}, nil
	case proto.InboundLoadChatHistory:
		var req proto.HistoryData
		if err := decodeData(inbound.Data, &req); err != nil {
			return nil, badRequest(err)
		}
		return &core.Command{
			Kind: core.CommandLoadHistory,
			From: domain.UserIdentity{UserID: req.SenderID},
			To:   domain.UserIdentity{UserID: req.ReceiverID},
		}, nil
	case proto.InboundSendMessage:
		var msg proto.SendMessageData
		if err := decodeData(inbound.Data, &msg); err != nil {
			return nil, badRequest(err)
		}
		return &core.Command{
			Kind:      core.CommandSendMessage,
			From:      domain.UserIdentity{UserID: msg.SenderID, UserName: msg.SenderName},
			To:        domain.UserIdentity{UserID: msg.ReceiverID},
			Text:      msg.Text,
			Timestamp: msg.Timestamp.Time,
		}, nil
	case proto.InboundClearMessages:
		var req proto.ClearData
		if err := decodeData(inbound.Data, &req); err != nil {
			return nil, badRequest(err)
		}
		return &core.Command{
			Kind: core.CommandClearMessages,
			From: domain.UserIdentity{UserID: req.UserID1},
			To:   domain.UserIdentity{UserID: req.UserID2},
		}, nil
	default:
		return nil, &core.CoreError{Code: core.ErrCodeBadRequest, Message: "unknown event " + inbound.Event}
	}
}

// decodeData leaves v untouched for an absent or null payload.
func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}

func badRequest(err error) *core.CoreError {
	return &core.CoreError{Code: core.ErrCodeBadRequest, Message: "invalid payload: " + err.Error()}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventOnlineUsers, core.EventAllUsers, core.EventFriendsList, core.EventFriendRequests:
		return proto.Outbound{Event: event.Kind.String(), Data: usersToProto(event.Users)}
	case core.EventNewFriendRequest, core.EventFriendRequestAccepted:
		return proto.Outbound{Event: event.Kind.String(), Data: userToProto(event.Contact)}
	case core.EventReceiveMessage:
		return proto.Outbound{Event: proto.OutboundReceiveMessage, Data: messageToProto(event.Message)}
	case core.EventMessageHistory:
		messages := make([]proto.Message, 0, len(event.Messages))
		for _, m := range event.Messages {
			messages = append(messages, messageToProto(m))
		}
		return proto.Outbound{Event: proto.OutboundMessageHistory, Data: messages}
	case core.EventMessagesCleared:
		return proto.Outbound{
			Event: proto.OutboundMessagesCleared,
			Data:  proto.MessagesCleared{UserID1: event.Pair[0], UserID2: event.Pair[1]},
		}
	case core.EventMessageError, core.EventHistoryError, core.EventError:
		return errorOutbound(event.Kind.String(), event.Error)
	default:
		return errorOutbound(proto.OutboundError, nil)
	}
}

func errorOutbound(name string, ce *core.CoreError) proto.Outbound {
	if ce == nil {
		return proto.Outbound{Event: name, Data: proto.Error{Error: "unknown error", Code: "unknown"}}
	}
	return proto.Outbound{Event: name, Data: proto.Error{Error: ce.Message, Code: ce.Code}}
}

func userToProto(c domain.Contact) proto.User {
	return proto.User{UserID: c.UserID, UserName: c.UserName, CreatedAt: proto.FormatTime(c.CreatedAt)}
}

func usersToProto(cs []domain.Contact) []proto.User {
	users := make([]proto.User, 0, len(cs))
	for _, c := range cs {
		users = append(users, userToProto(c))
	}
	return users
}

func messageToProto(m core.Message) proto.Message {
	return proto.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Timestamp:  proto.FormatTime(m.Timestamp),
		Read:       m.Read,
	}
}
