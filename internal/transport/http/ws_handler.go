package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatlink/internal/auth"
	"github.com/vovakirdan/chatlink/internal/config"
	"github.com/vovakirdan/chatlink/internal/core"
	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub ChatHub
	cfg *config.Config
	jwt *auth.JWTConfig // nil when tokens are not required
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub ChatHub, cfg *config.Config, jwtConfig *auth.JWTConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, cfg: cfg, jwt: jwtConfig, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	opts := &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns}
	if len(h.cfg.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	identity, err := h.identify(r)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws connection rejected")
		h.reject(ctx, conn, err)
		return
	}

	client := core.NewClient(uuid.NewString(), identity, h.cfg.ClientBuffer)
	if err := h.hub.RegisterClient(ctx, client); err != nil {
		h.log.Warn().Err(err).Str("user_id", identity.UserID).Msg("ws admission failed")
		h.reject(ctx, conn, err)
		return
	}
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("connection_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// identify returns the connection's identity: from the token when tokens are
// required, otherwise from the userId and userName query parameters.
func (h *WSHandler) identify(r *stdhttp.Request) (domain.UserIdentity, error) {
	if h.jwt != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			token, _ = bearerToken(r.Header.Get("Authorization"))
		}
		if token == "" {
			return domain.UserIdentity{}, domain.ErrMissingIdentity
		}
		claims, err := auth.ValidateToken(h.jwt, token)
		if err != nil {
			return domain.UserIdentity{}, err
		}
		return claims.Identity(), nil
	}

	identity := domain.UserIdentity{
		UserID:   strings.TrimSpace(r.URL.Query().Get("userId")),
		UserName: strings.TrimSpace(r.URL.Query().Get("userName")),
	}
	if identity.Empty() {
		return domain.UserIdentity{}, domain.ErrMissingIdentity
	}
	return identity, nil
}

// reject tells the client why it was not admitted and closes the connection.
func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, err error) {
	ce := &core.CoreError{Code: core.ErrCodeMissingIdentity, Message: "userId and userName are required"}
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		ce = &core.CoreError{Code: core.ErrCodeUnauthorized, Message: "invalid token"}
	case errors.Is(err, domain.ErrPersistence):
		ce = &core.CoreError{Code: core.ErrCodePersistenceFailure, Message: "failed to register connection"}
	case errors.Is(err, domain.ErrDuplicateConn):
		ce = &core.CoreError{Code: core.ErrCodeBadRequest, Message: "duplicate connection"}
	case errors.Is(err, domain.ErrShuttingDown):
		ce = &core.CoreError{Code: core.ErrCodeUnavailable, Message: "server is shutting down"}
	}

	if writeErr := wsjson.Write(ctx, conn, errorOutbound(proto.OutboundError, ce)); writeErr != nil {
		h.log.Debug().Err(writeErr).Msg("write rejection")
	}
	status := websocket.StatusPolicyViolation
	if ce.Code == core.ErrCodeUnavailable {
		status = websocket.StatusGoingAway
	}
	conn.Close(status, ce.Code)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("connection_id", client.ID).Msg("read ws inbound")
			return err
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			h.log.Debug().
				Str("connection_id", client.ID).
				Str("event", inbound.Event).
				Msg(protoErr.Message)
			client.Send(&core.Event{Kind: core.EventError, Error: protoErr})
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("connection_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
