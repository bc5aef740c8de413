package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/service/friends"
	"github.com/vovakirdan/chatlink/internal/service/messages"
	"github.com/vovakirdan/chatlink/internal/store"
)

// FriendService is the friend graph the hub drives.
type FriendService interface {
	SendRequest(ctx context.Context, from, to domain.UserIdentity) (friends.Outcome, *store.FriendRequest, error)
	AcceptRequest(ctx context.Context, fromUserID, toUserID string) (bool, error)
	RejectRequest(ctx context.Context, fromUserID, toUserID string) (bool, error)
	ListFriends(ctx context.Context, userID string) ([]domain.Contact, error)
	ListRequests(ctx context.Context, userID string) ([]domain.Contact, error)
	KnownUsers(ctx context.Context, requesterID string, online []domain.Contact) ([]domain.Contact, error)
}

// MessageService persists direct messages.
type MessageService interface {
	Send(ctx context.Context, in messages.SendInput) (*store.Message, error)
	LoadHistory(ctx context.Context, readerID, peerID string) ([]*store.Message, error)
	Clear(ctx context.Context, userID1, userID2 string) (int64, error)
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.log = logger
		}
	}
}

// WithPublisher forwards domain notifications to p.
func WithPublisher(p Publisher) Option {
	return func(h *Hub) {
		h.publisher = p
	}
}

// Hub coordinates connected clients. Each client's commands are handled in
// order on that client's own goroutine; different clients run concurrently.
type Hub struct {
	presence  *Registry
	friends   FriendService
	messages  MessageService
	publisher Publisher
	log       *zerolog.Logger
	now       func() time.Time

	// mu guards stopping and every wg.Add against the final wg.Wait.
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// NewHub creates a new chat hub instance.
func NewHub(presence store.PresenceStore, friendSvc FriendService, messageSvc MessageService, opts ...Option) *Hub {
	nop := zerolog.Nop()
	h := &Hub{
		friends:  friendSvc,
		messages: messageSvc,
		log:      &nop,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.presence = NewRegistry(presence, h.log)
	h.presence.OnChange(h.broadcastOnline)
	return h
}

// Presence exposes the registry of live connections.
func (h *Hub) Presence() *Registry {
	return h.presence
}

// RegisterClient admits c, sends c its initial snapshot and starts processing
// its commands. The registry broadcasts the new online list as part of the
// admission. Once Run is shutting down it returns domain.ErrShuttingDown.
func (h *Hub) RegisterClient(ctx context.Context, c *Client) error {
	if !h.reserve() {
		return domain.ErrShuttingDown
	}
	if err := h.presence.Admit(ctx, c); err != nil {
		h.wg.Done()
		return err
	}
	// Run may have taken its client snapshot before this admission landed.
	if h.isStopping() {
		h.UnregisterClient(c)
		h.wg.Done()
		return domain.ErrShuttingDown
	}
	h.log.Info().
		Str("user_id", c.UserID()).
		Str("connection_id", c.ID).
		Msg("client connected")

	// Work issued for this client must outlive the request that admitted it.
	work := context.WithoutCancel(ctx)

	h.publish(work, TopicPresenceChanged, PresenceNotice{
		UserID:   c.UserID(),
		UserName: c.Identity.UserName,
		Online:   true,
		At:       h.now().UTC(),
	})

	h.handle(work, c, &Command{Kind: CommandGetAllUsers})
	h.handle(work, c, &Command{Kind: CommandGetFriends})
	h.handle(work, c, &Command{Kind: CommandGetFriendRequests})

	go h.serve(work, c)
	return nil
}

// reserve counts a serve goroutine in wg unless the hub is stopping.
func (h *Hub) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *Hub) isStopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// UnregisterClient removes c and stops its command loop. Safe to call twice.
func (h *Hub) UnregisterClient(c *Client) {
	removal, ok := h.presence.Remove(context.Background(), c.ID)
	c.close()
	if !ok {
		return
	}
	h.log.Info().
		Str("user_id", c.UserID()).
		Str("connection_id", c.ID).
		Bool("last_connection", removal.LastConnection).
		Msg("client disconnected")

	if removal.LastConnection {
		h.publish(context.Background(), TopicPresenceChanged, PresenceNotice{
			UserID:   c.UserID(),
			UserName: c.Identity.UserName,
			Online:   false,
			At:       h.now().UTC(),
		})
	}
}

// Run blocks until ctx is done, then refuses new clients and disconnects
// every live one.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()

	for _, c := range h.presence.Clients() {
		h.UnregisterClient(c)
	}
	h.wg.Wait()
}

// SendMessage persists a message and delivers it to the receiver's live
// connections.
func (h *Hub) SendMessage(ctx context.Context, in messages.SendInput) (Message, error) {
	stored, err := h.messages.Send(ctx, in)
	if err != nil {
		return Message{}, err
	}
	msg := messageFromStore(stored)

	h.deliver(msg.ReceiverID, &Event{Kind: EventReceiveMessage, Message: msg})
	h.publish(ctx, TopicMessageSent, MessageNotice{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Timestamp:  msg.Timestamp,
	})
	return msg, nil
}

func (h *Hub) serve(ctx context.Context, c *Client) {
	defer h.wg.Done()
	for {
		select {
		case <-c.Done():
			return
		case cmd := <-c.Commands:
			if cmd != nil {
				h.handle(ctx, c, cmd)
			}
		}
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, cmd *Command) {
	h.log.Debug().
		Str("user_id", c.UserID()).
		Str("connection_id", c.ID).
		Str("event", cmd.Kind.String()).
		Msg("handle command")

	switch cmd.Kind {
	case CommandGetAllUsers:
		users, err := h.friends.KnownUsers(ctx, c.UserID(), h.presence.ListOnline())
		if err != nil {
			h.fail(c, cmd.Kind, err, EventError, "failed to load users")
			return
		}
		h.sendTo(c, usersEvent(EventAllUsers, users))
	case CommandGetFriends:
		ev, err := h.friendsEvent(ctx, c.UserID())
		if err != nil {
			h.fail(c, cmd.Kind, err, EventError, "failed to load friends")
			return
		}
		h.sendTo(c, ev)
	case CommandGetFriendRequests:
		ev, err := h.requestsEvent(ctx, c.UserID())
		if err != nil {
			h.fail(c, cmd.Kind, err, EventError, "failed to load friend requests")
			return
		}
		h.sendTo(c, ev)
	case CommandSendFriendRequest:
		h.sendFriendRequest(ctx, c, cmd)
	case CommandAcceptFriendRequest:
		h.acceptFriendRequest(ctx, c, cmd)
	case CommandRejectFriendRequest:
		h.rejectFriendRequest(ctx, c, cmd)
	case CommandLoadHistory:
		h.loadHistory(ctx, c, cmd)
	case CommandSendMessage:
		h.sendMessage(ctx, c, cmd)
	case CommandClearMessages:
		h.clearMessages(ctx, c, cmd)
	default:
		h.sendTo(c, &Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "unknown command")})
	}
}

func (h *Hub) sendFriendRequest(ctx context.Context, c *Client, cmd *Command) {
	from, err := actingAs(c, cmd.From)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventError, "")
		return
	}

	outcome, req, err := h.friends.SendRequest(ctx, from, cmd.To)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventError, "failed to send friend request")
		return
	}

	switch outcome {
	case friends.OutcomeCreated:
		h.deliver(req.ToUserID, &Event{
			Kind: EventNewFriendRequest,
			Contact: domain.Contact{
				UserID:    req.FromUserID,
				UserName:  req.FromUserName,
				CreatedAt: req.CreatedAt,
			},
		})
		h.publish(ctx, TopicFriendRequested, FriendNotice{
			FromUserID: req.FromUserID,
			ToUserID:   req.ToUserID,
			At:         req.CreatedAt,
		})
	case friends.OutcomeMutualAccepted:
		// The caller answered a pending request from the target.
		h.friendshipMade(ctx, from, req.ToUserID)
	}
}

func (h *Hub) acceptFriendRequest(ctx context.Context, c *Client, cmd *Command) {
	acceptor, err := actingAs(c, cmd.To)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventError, "")
		return
	}

	accepted, err := h.friends.AcceptRequest(ctx, cmd.From.UserID, acceptor.UserID)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventError, "failed to accept friend request")
		return
	}
	if !accepted {
		// Nothing was pending, so the graph is unchanged.
		return
	}
	h.friendshipMade(ctx, acceptor, cmd.From.UserID)
}

// friendshipMade refreshes the acceptor's lists and tells the requester.
func (h *Hub) friendshipMade(ctx context.Context, acceptor domain.UserIdentity, requesterID string) {
	h.pushFriendGraph(ctx, acceptor.UserID)

	if h.presence.IsOnline(requesterID) {
		h.deliver(requesterID, &Event{
			Kind:    EventFriendRequestAccepted,
			Contact: domain.Contact{UserID: acceptor.UserID, UserName: acceptor.UserName},
		})
		if ev, err := h.friendsEvent(ctx, requesterID); err != nil {
			h.log.Warn().Err(err).Str("user_id", requesterID).Msg("refresh friends list")
		} else {
			h.deliver(requesterID, ev)
		}
	}

	h.publish(ctx, TopicFriendAccepted, FriendNotice{
		FromUserID: requesterID,
		ToUserID:   acceptor.UserID,
		At:         h.now().UTC(),
	})
}

func (h *Hub) rejectFriendRequest(ctx context.Context, c *Client, cmd *Command) {
	rejecter, err := actingAs(c, cmd.To)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventError, "")
		return
	}

	rejected, err := h.friends.RejectRequest(ctx, cmd.From.UserID, rejecter.UserID)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventError, "failed to reject friend request")
		return
	}

	if ev, err := h.requestsEvent(ctx, rejecter.UserID); err != nil {
		h.fail(c, cmd.Kind, err, EventError, "failed to load friend requests")
	} else {
		h.deliver(rejecter.UserID, ev)
	}

	if rejected {
		h.publish(ctx, TopicFriendRejected, FriendNotice{
			FromUserID: cmd.From.UserID,
			ToUserID:   rejecter.UserID,
			At:         h.now().UTC(),
		})
	}
}

func (h *Hub) loadHistory(ctx context.Context, c *Client, cmd *Command) {
	reader, err := actingAs(c, cmd.From)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventHistoryError, "")
		return
	}

	msgs, err := h.messages.LoadHistory(ctx, reader.UserID, cmd.To.UserID)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventHistoryError, "failed to load chat history")
		return
	}
	h.sendTo(c, &Event{Kind: EventMessageHistory, Messages: messagesFromStore(msgs)})
}

func (h *Hub) sendMessage(ctx context.Context, c *Client, cmd *Command) {
	sender, err := actingAs(c, cmd.From)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventMessageError, "")
		return
	}

	_, err = h.SendMessage(ctx, messages.SendInput{
		SenderID:   sender.UserID,
		SenderName: sender.UserName,
		ReceiverID: cmd.To.UserID,
		Text:       cmd.Text,
		Timestamp:  cmd.Timestamp,
	})
	if err != nil {
		h.fail(c, cmd.Kind, err, EventMessageError, "failed to send message")
	}
}

func (h *Hub) clearMessages(ctx context.Context, c *Client, cmd *Command) {
	userID1, userID2 := cmd.From.UserID, cmd.To.UserID
	if strings.TrimSpace(userID1) == "" {
		userID1 = c.UserID()
	}
	if userID1 != c.UserID() && userID2 != c.UserID() {
		err := fmt.Errorf("%w: %s is not part of this conversation", domain.ErrIdentityMismatch, c.UserID())
		h.fail(c, cmd.Kind, err, EventMessageError, "")
		return
	}

	removed, err := h.messages.Clear(ctx, userID1, userID2)
	if err != nil {
		h.fail(c, cmd.Kind, err, EventMessageError, "failed to clear messages")
		return
	}

	ev := &Event{Kind: EventMessagesCleared, Pair: [2]string{userID1, userID2}}
	h.deliver(userID1, ev)
	if userID2 != userID1 {
		h.deliver(userID2, ev)
	}
	h.publish(ctx, TopicConversationCleared, ClearNotice{UserID1: userID1, UserID2: userID2, Removed: removed})
}

func (h *Hub) friendsEvent(ctx context.Context, userID string) (*Event, error) {
	list, err := h.friends.ListFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	return usersEvent(EventFriendsList, list), nil
}

func (h *Hub) requestsEvent(ctx context.Context, userID string) (*Event, error) {
	list, err := h.friends.ListRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	return usersEvent(EventFriendRequests, list), nil
}

// pushFriendGraph sends fresh friend and request lists to every connection of userID.
func (h *Hub) pushFriendGraph(ctx context.Context, userID string) {
	if ev, err := h.friendsEvent(ctx, userID); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("refresh friends list")
	} else {
		h.deliver(userID, ev)
	}
	if ev, err := h.requestsEvent(ctx, userID); err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("refresh friend requests")
	} else {
		h.deliver(userID, ev)
	}
}

// actingAs resolves the identity a payload acts for. An empty id means the
// caller; any other id must be the caller's.
func actingAs(c *Client, claimed domain.UserIdentity) (domain.UserIdentity, error) {
	if strings.TrimSpace(claimed.UserID) == "" || claimed.UserID == c.UserID() {
		return c.Identity, nil
	}
	return domain.UserIdentity{}, fmt.Errorf("%w: connection of %s cannot act as %s",
		domain.ErrIdentityMismatch, c.UserID(), claimed.UserID)
}

// fail reports err to c. Persistence and identity failures use opKind
// (messageError, historyError); validation failures always use EventError.
func (h *Hub) fail(c *Client, cmd CommandKind, err error, opKind EventKind, msg string) {
	ce := classify(err, msg)
	kind := EventError
	if ce.Code == ErrCodePersistenceFailure || ce.Code == ErrCodeIdentityMismatch {
		kind = opKind
	}

	h.log.Warn().Err(err).
		Str("user_id", c.UserID()).
		Str("connection_id", c.ID).
		Str("event", cmd.String()).
		Str("code", ce.Code).
		Msg("command failed")

	h.sendTo(c, &Event{Kind: kind, Error: ce})
}

func (h *Hub) deliver(userID string, ev *Event) {
	for _, c := range h.presence.Connections(userID) {
		h.sendTo(c, ev)
	}
}

// broadcastOnline runs inside the registry's change section, so online lists
// reach every client in the order the changes happened.
func (h *Hub) broadcastOnline(online []domain.Contact, clients []*Client) {
	ev := usersEvent(EventOnlineUsers, online)
	for _, c := range clients {
		h.sendTo(c, ev)
	}
}

func (h *Hub) sendTo(c *Client, ev *Event) {
	if !c.Send(ev) {
		h.log.Warn().
			Str("user_id", c.UserID()).
			Str("connection_id", c.ID).
			Str("event", ev.Kind.String()).
			Msg("dropping event for slow or closed client")
	}
}

func (h *Hub) publish(ctx context.Context, topic string, payload any) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, topic, payload); err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("publish notification")
	}
}
