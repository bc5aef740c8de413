package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatlink/internal/domain"
	"github.com/vovakirdan/chatlink/internal/proto"
)

func serve(srv *testServer, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	srv.ts.Config.Handler.ServeHTTP(resp, req)
	return resp
}

func TestRESTSendAndHistory(t *testing.T) {
	srv := startTestServer(t, testConfig())

	body := bytes.NewBufferString(`{"senderId":"alice@x.com","senderName":"Alice","receiverId":"bob@y.com","text":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat/messages", body)
	req.Header.Set("Content-Type", "application/json")
	resp := serve(srv, req)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var sent proto.Message
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sent))
	require.NotEmpty(t, sent.ID)
	require.NotEmpty(t, sent.Timestamp)

	// either order of participants reads the same conversation
	for _, query := range []string{
		"senderId=alice@x.com&receiverId=bob@y.com",
		"senderId=bob@y.com&receiverId=alice@x.com",
	} {
		resp = serve(srv, httptest.NewRequest(http.MethodGet, "/api/chat/messages?"+query, nil))
		require.Equal(t, http.StatusOK, resp.Code)

		var history []proto.Message
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &history))
		require.Len(t, history, 1)
		require.Equal(t, sent.ID, history[0].ID)
		require.False(t, history[0].Read)
	}
}

func TestRESTSendDeliversLive(t *testing.T) {
	srv := startTestServer(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob := srv.connect(ctx, t, "bob@y.com", "Bob")

	body := bytes.NewBufferString(`{"senderId":"alice@x.com","senderName":"Alice","receiverId":"bob@y.com","text":"over rest"}`)
	resp := serve(srv, httptest.NewRequest(http.MethodPost, "/api/chat/messages", body))
	require.Equal(t, http.StatusCreated, resp.Code)

	frame := readUntil(ctx, t, bob, "receiveMessage")
	var msg proto.Message
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	require.Equal(t, "over rest", msg.Text)
}

func TestRESTSendRejectsMissingFields(t *testing.T) {
	srv := startTestServer(t, testConfig())

	body := bytes.NewBufferString(`{"senderId":"alice@x.com","receiverId":"bob@y.com"}`)
	resp := serve(srv, httptest.NewRequest(http.MethodPost, "/api/chat/messages", body))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = serve(srv, httptest.NewRequest(http.MethodPost, "/api/chat/messages", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRESTHistoryRequiresBothParticipants(t *testing.T) {
	srv := startTestServer(t, testConfig())

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chat/messages?senderId=alice@x.com", nil))
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.Error)
}

func TestRESTOnlineUsers(t *testing.T) {
	srv := startTestServer(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.connect(ctx, t, "alice@x.com", "Alice")

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/chat/online", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var users []OnlineUserResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &users))
	require.Len(t, users, 1)
	require.Equal(t, "alice@x.com", users[0].UserID)
	require.True(t, users[0].IsOnline)
	require.NotEmpty(t, users[0].ConnectionID)
}

func TestRESTFriendReads(t *testing.T) {
	srv := startTestServer(t, testConfig())
	ctx := context.Background()

	alice := domain.UserIdentity{UserID: "alice@x.com", UserName: "Alice"}
	bob := domain.UserIdentity{UserID: "bob@y.com", UserName: "Bob"}
	carol := domain.UserIdentity{UserID: "carol@z.com", UserName: "Carol"}

	_, _, err := srv.friends.SendRequest(ctx, alice, bob)
	require.NoError(t, err)
	_, err = srv.friends.AcceptRequest(ctx, alice.UserID, bob.UserID)
	require.NoError(t, err)
	_, _, err = srv.friends.SendRequest(ctx, carol, bob)
	require.NoError(t, err)

	resp := serve(srv, httptest.NewRequest(http.MethodGet, "/api/friends?userId=bob@y.com", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var friendsList []proto.User
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &friendsList))
	require.Len(t, friendsList, 1)
	require.Equal(t, "alice@x.com", friendsList[0].UserID)

	resp = serve(srv, httptest.NewRequest(http.MethodGet, "/api/friends/requests?userId=bob@y.com", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var requests []proto.User
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &requests))
	require.Len(t, requests, 1)
	require.Equal(t, "carol@z.com", requests[0].UserID)
	require.Equal(t, "Carol", requests[0].UserName)
	require.NotEmpty(t, requests[0].CreatedAt)

	resp = serve(srv, httptest.NewRequest(http.MethodGet, "/api/friends", nil))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
