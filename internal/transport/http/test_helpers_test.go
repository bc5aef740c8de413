package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatlink/internal/config"
	"github.com/vovakirdan/chatlink/internal/core"
	"github.com/vovakirdan/chatlink/internal/service/friends"
	"github.com/vovakirdan/chatlink/internal/service/messages"
	"github.com/vovakirdan/chatlink/internal/store/sqlite"
)

type testServer struct {
	ts       *httptest.Server
	hub      *core.Hub
	store    *sqlite.SQLiteStore
	friends  *friends.Service
	messages *messages.Service
	stopHub  func()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func startTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	friendSvc := friends.New(st)
	messageSvc := messages.New(st, messages.WithHistoryLimit(cfg.HistoryLimit))
	hub := core.NewHub(st, friendSvc, messageSvc, core.WithLogger(&logger))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	stopHub := sync.OnceFunc(func() {
		cancel()
		<-done
	})
	t.Cleanup(stopHub)

	server := NewServer(hub, Readers{Presence: st, History: messageSvc, Friends: friendSvc}, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, hub: hub, store: st, friends: friendSvc, messages: messageSvc, stopHub: stopHub}
}

// wsURL builds the gateway URL with the given query parameters.
func (s *testServer) wsURL(params url.Values) string {
	u := strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// connect dials the gateway as a user and waits for the initial snapshot.
func (s *testServer) connect(ctx context.Context, t *testing.T, userID, userName string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, s.wsURL(url.Values{"userId": {userID}, "userName": {userName}}), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })

	readUntil(ctx, t, conn, "friendRequests")
	return conn
}

type outboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readUntil skips frames until one named event arrives.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) outboundFrame {
	t.Helper()
	return readUntilWhere(ctx, t, conn, event, func(outboundFrame) bool { return true })
}

func readUntilWhere(ctx context.Context, t *testing.T, conn *websocket.Conn, event string, match func(outboundFrame) bool) outboundFrame {
	t.Helper()

	for {
		var frame outboundFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if frame.Event == event && match(frame) {
			return frame
		}
	}
}

func writeEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"event": event, "data": json.RawMessage(payload)}))
}
