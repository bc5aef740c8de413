package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/proto"
	"github.com/vovakirdan/chatlink/internal/service/messages"
	"github.com/vovakirdan/chatlink/internal/store"
)

// ChatHandlers serves presence and conversation reads, and message sends.
type ChatHandlers struct {
	hub      ChatHub
	presence store.PresenceStore
	history  HistoryReader
	log      *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(hub ChatHub, presence store.PresenceStore, history HistoryReader, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		hub:      hub,
		presence: presence,
		history:  history,
		log:      logger,
	}
}

// OnlineUserResponse is a durable presence record.
type OnlineUserResponse struct {
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	ConnectionID string `json:"connectionId"`
	IsOnline     bool   `json:"isOnline"`
	LastSeen     string `json:"lastSeen"`
}

// SendMessageRequest is the body of POST /api/chat/messages.
type SendMessageRequest struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
}

// ListOnline returns users whose durable status is online.
// GET /api/chat/online
func (h *ChatHandlers) ListOnline(c *gin.Context) {
	users, err := h.presence.ListOnlineUsers(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list online users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to fetch online users"})
		return
	}

	response := make([]OnlineUserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, OnlineUserResponse{
			UserID:       u.UserID,
			UserName:     u.UserName,
			ConnectionID: u.ConnectionID,
			IsOnline:     u.IsOnline,
			LastSeen:     proto.FormatTime(u.LastSeen),
		})
	}
	c.JSON(http.StatusOK, response)
}

// History returns the conversation between senderId and receiverId, oldest
// first. It does not mark anything read.
// GET /api/chat/messages?senderId=&receiverId=
func (h *ChatHandlers) History(c *gin.Context) {
	senderID := c.Query("senderId")
	receiverID := c.Query("receiverId")
	if senderID == "" || receiverID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "senderId and receiverId are required"})
		return
	}
	if identity, ok := tokenIdentity(c); ok && identity.UserID != senderID && identity.UserID != receiverID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		return
	}

	msgs, err := h.history.History(c.Request.Context(), senderID, receiverID)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Str("sender_id", senderID).Str("receiver_id", receiverID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to fetch messages"})
		return
	}

	response := make([]proto.Message, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, proto.Message{
			ID:         m.ID,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			ReceiverID: m.ReceiverID,
			Text:       m.Text,
			Timestamp:  proto.FormatTime(m.Timestamp),
			Read:       m.Read,
		})
	}
	c.JSON(http.StatusOK, response)
}

// Send persists a message with the server's timestamp and delivers it to the
// receiver's live connections.
// POST /api/chat/messages
func (h *ChatHandlers) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if identity, ok := tokenIdentity(c); ok {
		if req.SenderID != "" && req.SenderID != identity.UserID {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
			return
		}
		req.SenderID = identity.UserID
		if req.SenderName == "" {
			req.SenderName = identity.UserName
		}
	}

	msg, err := h.hub.SendMessage(c.Request.Context(), messages.SendInput{
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error()})
			return
		}
		h.log.Error().Err(err).Str("sender_id", req.SenderID).Str("receiver_id", req.ReceiverID).Msg("failed to send message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to send message"})
		return
	}

	h.log.Debug().Str("message_id", msg.ID).Str("sender_id", msg.SenderID).Msg("message sent over rest")
	c.JSON(http.StatusCreated, messageToProto(msg))
}
