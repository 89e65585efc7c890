// Command ws_smoke drives one full exchange against a running server: log in,
// open the push channel, create a thread, send a message, and print every
// event streamed back until the assistant finishes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"

	"github.com/avoronin/threadcast-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	providerID := flag.String("provider", "openai", "provider to log in with")
	apiKey := flag.String("api-key", os.Getenv("PROVIDER_API_KEY"), "provider API key")
	text := flag.String("text", "Hello! What can you do?", "message text to send")
	timeout := flag.Duration("timeout", 2*time.Minute, "total timeout for the run")
	flag.Parse()

	if *apiKey == "" {
		return fmt.Errorf("an API key is required (flag -api-key or env PROVIDER_API_KEY)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	login, err := postJSON(ctx, *addr+"/api/login", "", map[string]string{
		"fullName": "Smoke Tester",
		"provider": *providerID,
		"apiKey":   *apiKey,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	token := login["token"].(string)
	user := login["user"].(map[string]any)
	userID := user["id"].(string)
	fmt.Printf("logged in as %s\n", userID)

	wsURL := "ws" + (*addr)[len("http"):] + "/ws"
	header := http.Header{}
	header.Set("X-User-ID", userID)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial ws: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	thread, err := postJSON(ctx, *addr+"/api/createThread", token, map[string]string{})
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	threadID := thread["data"].(map[string]any)["id"].(string)
	fmt.Printf("created thread %s\n", threadID)

	if _, err := postJSON(ctx, *addr+"/api/sendMessage", token, map[string]string{
		"threadID": threadID,
		"text":     *text,
	}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	// Print events until the assistant clears its activity indicator.
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		var ev proto.ServerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fmt.Printf("event: %s\n", raw)

		if ev.Type == proto.EventUserActivity && ev.ActivityType == proto.ActivityNone {
			fmt.Println("assistant finished")
			return nil
		}
	}
}

func postJSON(ctx context.Context, url, token string, body any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %v", resp.StatusCode, out)
	}
	return out, nil
}
