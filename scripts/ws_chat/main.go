package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
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
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	userID := flag.String("user", "cli-user@example.com", "user id")
	userName := flag.String("name", "CLI User", "display name")
	peer := flag.String("to", "", "user id to chat with")
	flag.Parse()

	if *peer == "" {
		return errors.New("-to is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	q := url.Values{"userId": {*userID}, "userName": {*userName}}
	conn, _, err := websocket.Dial(ctx, *addr+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	payload, err := json.Marshal(proto.HistoryData{SenderID: *userID, ReceiverID: *peer})
	if err != nil {
		return fmt.Errorf("marshal history request: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Event: proto.InboundLoadChatHistory, Data: payload}); err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	fmt.Printf("Connected to %s as %s, chatting with %s\n", *addr, *userID, *peer)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *userID, *userName, *peer)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch f.Event {
		case proto.OutboundReceiveMessage:
			var msg proto.Message
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Printf("%s: %s\n", msg.SenderName, msg.Text)
		case proto.OutboundMessageHistory:
			var history []proto.Message
			if err := json.Unmarshal(f.Data, &history); err != nil {
				log.Printf("unmarshal history: %v", err)
				continue
			}
			for _, msg := range history {
				fmt.Printf("[%s] %s: %s\n", msg.Timestamp, msg.SenderName, msg.Text)
			}
		case proto.OutboundOnlineUsers:
			var users []proto.User
			if err := json.Unmarshal(f.Data, &users); err == nil {
				names := make([]string, 0, len(users))
				for _, u := range users {
					names = append(names, u.UserName)
				}
				fmt.Printf("online: %s\n", strings.Join(names, ", "))
			}
		default:
			fmt.Printf("event=%s data=%s\n", f.Event, string(f.Data))
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, userID, userName, peer string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			payload, err := json.Marshal(proto.SendMessageData{
				SenderID:   userID,
				SenderName: userName,
				ReceiverID: peer,
				Text:       text,
				Timestamp:  proto.Timestamp{Time: time.Now()},
			})
			if err != nil {
				log.Printf("marshal message: %v", err)
				return
			}
			if err := wsjson.Write(ctx, conn, proto.Inbound{Event: proto.InboundSendMessage, Data: payload}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
