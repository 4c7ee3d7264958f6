package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/star08-web/noughtchat/internal/client"
)

var (
	serverURL   string
	roomId      string
	password    string
	name        string
	sessionMode bool
	createRoom  bool
)

func main() {
	flag.StringVar(&serverURL, "server", "http://localhost:8000", "relay base URL")
	flag.StringVar(&roomId, "room", "", "room id to join")
	flag.StringVar(&password, "password", "", "shared room password")
	flag.StringVar(&name, "name", "", "display name (random if empty)")
	flag.BoolVar(&sessionMode, "session", false, "use the cached session key instead of per-message derivation")
	flag.BoolVar(&createRoom, "create", false, "create a new room and print its id")
	flag.Parse()

	logger := log.New(os.Stderr, "[noughtchat] ", log.LstdFlags)

	if name == "" {
		name = randomName()
		fmt.Printf("chatting as %s\n", name)
	}

	if createRoom {
		id, err := requestRoom(serverURL)
		if err != nil {
			logger.Fatal("create room:", err)
		}
		fmt.Println(id)
		if roomId == "" {
			roomId = id
		}
	}

	if roomId == "" || password == "" {
		logger.Fatal("both -room (or -create) and -password are required")
	}

	wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, client.Options{
		URL:         wsURL,
		Password:    password,
		Name:        name,
		SessionMode: sessionMode,
		Logger:      logger,
	})
	cancel()
	if err != nil {
		logger.Fatal("dial:", err)
	}
	defer c.Close()

	if err := c.Join(context.Background(), roomId); err != nil {
		logger.Fatal("join:", err)
	}
	fmt.Printf("joined room %s\n", roomId)

	history, err := c.History(context.Background())
	if err != nil {
		logger.Println("history:", err)
	}
	for _, ev := range history {
		printEvent(ev)
	}

	go func() {
		for ev := range c.Events() {
			printEvent(ev)
			if ev.Type == client.EventRoomDeleted {
				fmt.Println("room was deleted, exiting")
				os.Exit(0)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" {
			break
		}
		if err := c.Send(context.Background(), text); err != nil {
			logger.Println("send:", err)
		}
	}
}

func printEvent(ev client.Event) {
	switch ev.Type {
	case client.EventMessage:
		who := ev.Name
		if who == "" {
			who = "anonymous"
		}
		fmt.Printf("%s: %s\n", who, ev.Text)
	case client.EventRejected:
		fmt.Printf("** dropped a message: %v\n", ev.Err)
	case client.EventPresence:
		if ev.Present {
			fmt.Println("** someone joined")
		} else {
			fmt.Println("** someone left")
		}
	case client.EventRoomDeleted:
		fmt.Println("** room deleted")
	}
}

func requestRoom(baseURL string) (string, error) {
	resp, err := http.Post(baseURL+"/api/rooms", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var room struct {
		Id string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return "", err
	}
	return room.Id, nil
}
