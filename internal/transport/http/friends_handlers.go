package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatlink/internal/domain"
)

// FriendsHandlers provides HTTP handlers for friend graph reads.
type FriendsHandlers struct {
	friends FriendReader
	log     *zerolog.Logger
}

// NewFriendsHandlers creates a new friends handlers instance.
func NewFriendsHandlers(friends FriendReader, logger *zerolog.Logger) *FriendsHandlers {
	return &FriendsHandlers{
		friends: friends,
		log:     logger,
	}
}

// ListFriends handles listing a user's friends.
// GET /api/friends?userId=
func (h *FriendsHandlers) ListFriends(c *gin.Context) {
	userID, ok := resolveUser(c, c.Query("userId"))
	if !ok {
		return
	}

	friendsList, err := h.friends.ListFriends(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err, userID, "failed to list friends")
		return
	}

	h.log.Debug().Str("user_id", userID).Int("friend_count", len(friendsList)).Msg("friends listed")
	c.JSON(http.StatusOK, usersToProto(friendsList))
}

// ListRequests handles listing incoming pending friend requests.
// GET /api/friends/requests?userId=
func (h *FriendsHandlers) ListRequests(c *gin.Context) {
	userID, ok := resolveUser(c, c.Query("userId"))
	if !ok {
		return
	}

	requests, err := h.friends.ListRequests(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err, userID, "failed to list friend requests")
		return
	}

	h.log.Debug().Str("user_id", userID).Int("request_count", len(requests)).Msg("friend requests listed")
	c.JSON(http.StatusOK, usersToProto(requests))
}

func (h *FriendsHandlers) fail(c *gin.Context, err error, userID, msg string) {
	if errors.Is(err, domain.ErrValidation) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	h.log.Error().Err(err).Str("user_id", userID).Msg(msg)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
