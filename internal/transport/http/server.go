package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatlink/internal/auth"
	"github.com/vovakirdan/chatlink/internal/config"
	"github.com/vovakirdan/chatlink/internal/core"
	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/service/messages"
	"github.com/vovakirdan/chatlink/internal/store"
)

// ChatHub is the part of core.Hub the transport drives.
type ChatHub interface {
	RegisterClient(ctx context.Context, c *core.Client) error
	UnregisterClient(c *core.Client)
	SendMessage(ctx context.Context, in messages.SendInput) (core.Message, error)
}

// HistoryReader reads a conversation without marking it read.
type HistoryReader interface {
	History(ctx context.Context, userA, userB string) ([]*store.Message, error)
}

// FriendReader reads a user's side of the friend graph.
type FriendReader interface {
	ListFriends(ctx context.Context, userID string) ([]domain.Contact, error)
	ListRequests(ctx context.Context, userID string) ([]domain.Contact, error)
}

// Readers groups the read paths served over REST.
type Readers struct {
	Presence store.PresenceStore
	History  HistoryReader
	Friends  FriendReader
}

// NewServer builds the HTTP server: health check, WebSocket gateway and REST API.
func NewServer(hub ChatHub, readers Readers, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	jwtConfig := JWTConfigFrom(cfg)

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg, jwtConfig, logger)))

	api := router.Group("/api")
	if jwtConfig != nil {
		api.Use(AuthMiddleware(jwtConfig, logger))
	}

	chat := NewChatHandlers(hub, readers.Presence, readers.History, logger)
	api.GET("/chat/online", chat.ListOnline)
	api.GET("/chat/messages", chat.History)
	api.POST("/chat/messages", chat.Send)

	friendsHandlers := NewFriendsHandlers(readers.Friends, logger)
	api.GET("/friends", friendsHandlers.ListFriends)
	api.GET("/friends/requests", friendsHandlers.ListRequests)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// JWTConfigFrom returns the token settings, or nil when tokens are disabled.
func JWTConfigFrom(cfg *config.Config) *auth.JWTConfig {
	if !cfg.JWTEnabled() {
		return nil
	}
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
