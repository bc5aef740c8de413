package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatlink/internal/proto"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	userID := flag.String("user", "tester@example.com", "user id to connect as")
	userName := flag.String("name", "Tester", "display name")
	token := flag.String("token", "", "identity token, when the server requires one")
	to := flag.String("to", "", "receiver id (defaults to the sender)")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *to == "" {
		*to = *userID
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, dialURL(*addr, *userID, *userName, *token), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(event string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", event, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Event: event, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", event, err)
		}
		return nil
	}

	if err := send(proto.InboundSendMessage, proto.SendMessageData{
		SenderID:   *userID,
		SenderName: *userName,
		ReceiverID: *to,
		Text:       *text,
		Timestamp:  proto.Timestamp{Time: time.Now()},
	}); err != nil {
		return err
	}
	if err := send(proto.InboundLoadChatHistory, proto.HistoryData{SenderID: *userID, ReceiverID: *to}); err != nil {
		return err
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("event=%s data=%s\n", f.Event, string(f.Data))

		switch f.Event {
		case proto.OutboundMessageHistory:
			var history []proto.Message
			if err := json.Unmarshal(f.Data, &history); err != nil {
				return fmt.Errorf("unmarshal history: %w", err)
			}
			fmt.Printf("history with %s: %d message(s)\n", *to, len(history))
			return nil
		case proto.OutboundError, proto.OutboundMessageError, proto.OutboundHistoryError:
			return fmt.Errorf("server reported %s: %s", f.Event, string(f.Data))
		}
	}
}

func dialURL(addr, userID, userName, token string) string {
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	} else {
		q.Set("userId", userID)
		q.Set("userName", userName)
	}
	return addr + "?" + q.Encode()
}
