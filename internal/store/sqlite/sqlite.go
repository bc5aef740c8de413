package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/chatlink/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the SQLite database at dbPath and applies the schema.
// Use ":memory:" for an ephemeral database.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:"
	// databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// withTx runs fn inside a transaction. Only tx may be used inside fn: the
// pool holds a single connection.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ==== PresenceStore implementation ====

// UpsertOnline marks the user online and records the admitting connection.
func (s *SQLiteStore) UpsertOnline(ctx context.Context, userID, userName, connectionID string, at time.Time) error {
	query := `
		INSERT INTO online_users (user_id, user_name, connection_id, is_online, last_seen)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			user_name = excluded.user_name,
			connection_id = excluded.connection_id,
			is_online = 1,
			last_seen = excluded.last_seen
	`
	if _, err := s.db.ExecContext(ctx, query, userID, userName, connectionID, toNanos(at)); err != nil {
		return fmt.Errorf("upsert online user: %w", err)
	}
	return nil
}

// MarkOffline marks the user offline and updates last seen.
func (s *SQLiteStore) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE online_users
		SET is_online = 0, last_seen = ?
		WHERE user_id = ?
	`
	result, err := s.db.ExecContext(ctx, query, toNanos(at), userID)
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("online user %q: %w", userID, store.ErrNotFound)
	}
	return nil
}

// ResetPresence marks every user offline.
func (s *SQLiteStore) ResetPresence(ctx context.Context, at time.Time) error {
	query := `UPDATE online_users SET is_online = 0, last_seen = ? WHERE is_online = 1`
	if _, err := s.db.ExecContext(ctx, query, toNanos(at)); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

// GetOnlineUser returns the presence record of a user.
func (s *SQLiteStore) GetOnlineUser(ctx context.Context, userID string) (*store.OnlineUser, error) {
	query := `
		SELECT user_id, user_name, connection_id, is_online, last_seen
		FROM online_users
		WHERE user_id = ?
	`
	var (
		u        store.OnlineUser
		lastSeen int64
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&u.UserID, &u.UserName, &u.ConnectionID, &u.IsOnline, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("online user %q: %w", userID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query online user: %w", err)
	}
	u.LastSeen = fromNanos(lastSeen)
	return &u, nil
}

// ListOnlineUsers returns users whose durable status is online, least recently seen first.
func (s *SQLiteStore) ListOnlineUsers(ctx context.Context) ([]*store.OnlineUser, error) {
	query := `
		SELECT user_id, user_name, connection_id, is_online, last_seen
		FROM online_users
		WHERE is_online = 1
		ORDER BY last_seen ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query online users: %w", err)
	}
	defer rows.Close()

	users := make([]*store.OnlineUser, 0)
	for rows.Next() {
		var (
			u        store.OnlineUser
			lastSeen int64
		)
		if err := rows.Scan(&u.UserID, &u.UserName, &u.ConnectionID, &u.IsOnline, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan online user: %w", err)
		}
		u.LastSeen = fromNanos(lastSeen)
		users = append(users, &u)
	}

	return users, rows.Err()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message. The ID is always assigned here.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	id := uuid.NewString()

	query := `
		INSERT INTO messages (id, conversation_key, sender_id, sender_name, receiver_id, body, sent_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		id,
		store.ConversationKey(msg.SenderID, msg.ReceiverID),
		msg.SenderID,
		msg.SenderName,
		msg.ReceiverID,
		msg.Text,
		toNanos(msg.Timestamp),
		msg.Read,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	msg.ID = id
	msg.Timestamp = msg.Timestamp.UTC()
	return nil
}

// ListConversation returns the most recent limit messages between two users, oldest first.
// A non-positive limit returns the whole conversation.
func (s *SQLiteStore) ListConversation(ctx context.Context, userA, userB string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, sender_id, sender_name, receiver_id, body, sent_at, is_read
		FROM messages
		WHERE conversation_key = ?
		ORDER BY sent_at DESC, seq DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, store.ConversationKey(userA, userB), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		var (
			msg    store.Message
			sentAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.ReceiverID, &msg.Text, &sentAt, &msg.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = fromNanos(sentAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, nil
}

// MarkConversationRead flags unread messages from senderID to receiverID as read.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	query := `
		UPDATE messages
		SET is_read = 1
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0
	`
	result, err := s.db.ExecContext(ctx, query, receiverID, senderID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// DeleteConversation removes every message between two users.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, userA, userB string) (int64, error) {
	query := `DELETE FROM messages WHERE conversation_key = ?`
	result, err := s.db.ExecContext(ctx, query, store.ConversationKey(userA, userB))
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// ==== FriendStore implementation ====

// CreateFriendRequest stores a pending request. The friendship check, the
// reverse-request check and the insert run in one transaction so concurrent
// requests between the same pair resolve deterministically.
func (s *SQLiteStore) CreateFriendRequest(ctx context.Context, req *store.FriendRequest) (store.RequestResult, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}

	result := store.RequestCreated
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		friends, err := areFriends(ctx, tx, req.FromUserID, req.ToUserID)
		if err != nil {
			return err
		}
		if friends {
			result = store.RequestAlreadyFriends
			return nil
		}

		reverse, err := getFriendRequest(ctx, tx, req.ToUserID, req.FromUserID)
		switch {
		case err == nil:
			if err := createFriendship(ctx, tx, req.FromUserID, req.FromUserName, reverse.FromUserID, reverse.FromUserName, req.CreatedAt); err != nil {
				return err
			}
			result = store.RequestMutualAccepted
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		query := `
			INSERT OR IGNORE INTO friend_requests (from_user_id, from_user_name, to_user_id, to_user_name, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		res, err := tx.ExecContext(ctx, query, req.FromUserID, req.FromUserName, req.ToUserID, req.ToUserName, toNanos(req.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert friend request: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			result = store.RequestDuplicate
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// GetFriendRequest retrieves a pending request fromUserID -> toUserID.
func (s *SQLiteStore) GetFriendRequest(ctx context.Context, fromUserID, toUserID string) (*store.FriendRequest, error) {
	var req *store.FriendRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		req, err = getFriendRequest(ctx, tx, fromUserID, toUserID)
		return err
	})
	return req, err
}

// AcceptFriendRequest consumes the pending request and creates the friendship.
func (s *SQLiteStore) AcceptFriendRequest(ctx context.Context, fromUserID, toUserID string, at time.Time) (bool, error) {
	accepted := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		req, err := getFriendRequest(ctx, tx, fromUserID, toUserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := createFriendship(ctx, tx, req.FromUserID, req.FromUserName, req.ToUserID, req.ToUserName, at); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return accepted, nil
}

// DeleteFriendRequest removes a pending request.
func (s *SQLiteStore) DeleteFriendRequest(ctx context.Context, fromUserID, toUserID string) (bool, error) {
	query := `DELETE FROM friend_requests WHERE from_user_id = ? AND to_user_id = ?`
	result, err := s.db.ExecContext(ctx, query, fromUserID, toUserID)
	if err != nil {
		return false, fmt.Errorf("delete friend request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListIncomingRequests lists requests addressed to userID, oldest first.
func (s *SQLiteStore) ListIncomingRequests(ctx context.Context, userID string) ([]*store.FriendRequest, error) {
	return s.listRequests(ctx, `
		SELECT from_user_id, from_user_name, to_user_id, to_user_name, created_at
		FROM friend_requests
		WHERE to_user_id = ?
		ORDER BY created_at ASC, seq ASC
	`, userID)
}

// ListOutgoingRequests lists requests sent by userID, oldest first.
func (s *SQLiteStore) ListOutgoingRequests(ctx context.Context, userID string) ([]*store.FriendRequest, error) {
	return s.listRequests(ctx, `
		SELECT from_user_id, from_user_name, to_user_id, to_user_name, created_at
		FROM friend_requests
		WHERE from_user_id = ?
		ORDER BY created_at ASC, seq ASC
	`, userID)
}

func (s *SQLiteStore) listRequests(ctx context.Context, query, userID string) ([]*store.FriendRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*store.FriendRequest, 0)
	for rows.Next() {
		var (
			req       store.FriendRequest
			createdAt int64
		)
		if err := rows.Scan(&req.FromUserID, &req.FromUserName, &req.ToUserID, &req.ToUserName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		req.CreatedAt = fromNanos(createdAt)
		requests = append(requests, &req)
	}

	return requests, rows.Err()
}

// AreFriends checks if two users are friends.
func (s *SQLiteStore) AreFriends(ctx context.Context, userA, userB string) (bool, error) {
	var friends bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		friends, err = areFriends(ctx, tx, userA, userB)
		return err
	})
	return friends, err
}

// ListFriends lists the friends of userID in the order the friendships were made.
func (s *SQLiteStore) ListFriends(ctx context.Context, userID string) ([]*store.Friend, error) {
	query := `
		SELECT
			CASE WHEN user_a = ? THEN user_b ELSE user_a END,
			CASE WHEN user_a = ? THEN user_b_name ELSE user_a_name END,
			created_at
		FROM friendships
		WHERE user_a = ? OR user_b = ?
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	friends := make([]*store.Friend, 0)
	for rows.Next() {
		var (
			f     store.Friend
			since int64
		)
		if err := rows.Scan(&f.UserID, &f.UserName, &since); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		f.Since = fromNanos(since)
		friends = append(friends, &f)
	}

	return friends, rows.Err()
}

// ==== transaction helpers ====

func getFriendRequest(ctx context.Context, tx *sql.Tx, fromUserID, toUserID string) (*store.FriendRequest, error) {
	query := `
		SELECT from_user_id, from_user_name, to_user_id, to_user_name, created_at
		FROM friend_requests
		WHERE from_user_id = ? AND to_user_id = ?
	`
	var (
		req       store.FriendRequest
		createdAt int64
	)
	err := tx.QueryRowContext(ctx, query, fromUserID, toUserID).Scan(
		&req.FromUserID,
		&req.FromUserName,
		&req.ToUserID,
		&req.ToUserName,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("friend request %s -> %s: %w", fromUserID, toUserID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query friend request: %w", err)
	}
	req.CreatedAt = fromNanos(createdAt)
	return &req, nil
}

func areFriends(ctx context.Context, tx *sql.Tx, userA, userB string) (bool, error) {
	a, b := store.FriendPair(userA, userB)
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM friendships WHERE user_a = ? AND user_b = ?`, a, b).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query friendship: %w", err)
	}
	return true, nil
}

// createFriendship inserts the canonical friendship row and removes pending
// requests in both directions for the pair.
func createFriendship(ctx context.Context, tx *sql.Tx, userA, nameA, userB, nameB string, at time.Time) error {
	if userB < userA {
		userA, nameA, userB, nameB = userB, nameB, userA, nameA
	}

	_, err := tx.ExecContext(ctx, `
		DELETE FROM friend_requests
		WHERE (from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)
	`, userA, userB, userB, userA)
	if err != nil {
		return fmt.Errorf("consume friend requests: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO friendships (user_a, user_a_name, user_b, user_b_name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userA, nameA, userB, nameB, toNanos(at))
	if err != nil {
		return fmt.Errorf("insert friendship: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
