package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/rtchat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "cli-user", "username")
	password := flag.String("password", "", "password")
	register := flag.Bool("register", false, "register the user before connecting")
	room := flag.String("room", "public-chat", "room to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	endpoint := "/api/login"
	if *register {
		endpoint = "/api/register"
	}
	token, err := authenticate(ctx, *server+endpoint, *user, *password)
	if err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(*server, "http") + "/ws/rooms/" + url.PathEscape(*room) + "?token=" + url.QueryEscape(token)
	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s in room %s\n", *server, *user, *room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn, *user)
	}()

	writeLoop(ctx, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func authenticate(ctx context.Context, endpoint, user, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": password})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("authenticate: %s (status %d)", out.Error, resp.StatusCode)
	}
	return out.Token, nil
}

type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func readLoop(ctx context.Context, conn *websocket.Conn, me string) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure:
				return
			case websocket.StatusPolicyViolation:
				fmt.Println("you were banned from this room")
				return
			case websocket.StatusGoingAway:
				fmt.Println("the room was closed")
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch f.Type {
		case proto.OutboundTypeMessage:
			var m proto.Message
			if err := json.Unmarshal(f.Data, &m); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			if m.File != nil {
				fmt.Printf("[%s] %s shared %s (%s)\n", m.Room, m.Author.Name, m.File.Name, m.File.URL)
				continue
			}
			fmt.Printf("[%s] %s: %s\n", m.Room, m.Author.Name, m.Body)
		case proto.OutboundTypePresence:
			var p proto.Presence
			if err := json.Unmarshal(f.Data, &p); err != nil {
				log.Printf("unmarshal presence: %v", err)
				continue
			}
			names := make([]string, 0, len(p.Online))
			for _, u := range p.Online {
				names = append(names, u.Name)
			}
			fmt.Printf("[%s] online besides %s: %d %v\n", p.Room, me, p.Count, names)
		case proto.OutboundTypeMemberBanned, proto.OutboundTypeMemberUnbanned:
			var m proto.Moderation
			if err := json.Unmarshal(f.Data, &m); err != nil {
				log.Printf("unmarshal moderation: %v", err)
				continue
			}
			fmt.Printf("[%s] %s: %s\n", m.Room, f.Type, m.User.Name)
		case proto.OutboundTypeError:
			if f.Error != nil {
				fmt.Printf("error %s: %s\n", f.Error.Code, f.Error.Msg)
			}
		default:
			fmt.Printf("%s %s\n", f.Type, f.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
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
			if err := wsjson.Write(ctx, conn, proto.Inbound{Body: text}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
