// Package client is the Go client for the relay: it dials the websocket
// endpoint, runs the protocol, and keeps every cryptographic operation on
// this side of the wire. The relay only ever sees sealed payloads.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/star08-web/noughtchat/internal/crypto"
	"github.com/star08-web/noughtchat/internal/replay"
	"github.com/star08-web/noughtchat/internal/server"
	"github.com/star08-web/noughtchat/internal/session"
	"github.com/star08-web/noughtchat/internal/types"
	"github.com/teris-io/shortid"
)

const defaultRequestTimeout = 10 * time.Second

var (
	ErrNotJoined      = errors.New("not joined to a room")
	ErrRequestTimeout = errors.New("timed out waiting for a response")
)

// chatLine is the plaintext framing: the display name travels inside the
// encrypted payload, never in the clear.
type chatLine struct {
	Name string `json:"name,omitempty"`
	Text string `json:"text"`
}

type EventType int

const (
	EventMessage EventType = iota
	EventPresence
	EventRoomDeleted
	// EventRejected is a received payload that failed authentication,
	// decryption, freshness or replay checks. The text is never delivered.
	EventRejected
)

type Event struct {
	Type   EventType
	RoomId string
	SeqId  int
	Name   string
	Text   string
	// Present is set for presence events: true on join, false on leave.
	Present    bool
	ReceivedAt time.Time
	Err        error
}

type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8000/ws.
	URL      string
	Password string
	// Name is the display name sealed into outgoing payloads.
	Name string
	// SessionMode selects the cached-session-key encryption path instead of
	// per-message key derivation.
	SessionMode bool
	// Iterations overrides the PBKDF2 iteration count; zero means the
	// production default.
	Iterations int
	Logger     *log.Logger
}

// Client is one connection to the relay. It is safe for one goroutine to
// send while another consumes Events.
type Client struct {
	conn     *websocket.Conn
	codec    *crypto.Codec
	sessions *session.Cache
	window   *replay.Window

	password    string
	name        string
	sessionMode bool
	log         *log.Logger

	roomMu sync.RWMutex
	roomId string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *server.ServerMessage

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// Dial validates the password, connects to the relay and starts the read
// loop. The caller must Close the client when done.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if err := crypto.ValidatePassword(opts.Password); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	iterations := opts.Iterations
	if iterations == 0 {
		iterations = crypto.DefaultIterations
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}

	c := &Client{
		conn:        conn,
		codec:       crypto.NewCodecWithIterations(iterations, nil),
		sessions:    session.NewCacheWithOptions(session.DefaultTTL, iterations, nil),
		window:      replay.NewWindow(nil),
		password:    opts.Password,
		name:        opts.Name,
		sessionMode: opts.SessionMode,
		log:         logger,
		pending:     make(map[string]chan *server.ServerMessage),
		events:      make(chan Event, 64),
		done:        make(chan struct{}),
	}

	c.sessions.Run()
	go c.readLoop()
	return c, nil
}

// Events delivers decoded messages and room notifications. The channel is
// closed when the connection drops or Close is called.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Join subscribes to a room. The room identifier is the only thing the relay
// ever checks.
func (c *Client) Join(ctx context.Context, roomId string) error {
	resp, err := c.request(ctx, &server.ClientMessage{
		Join: &server.Join{RoomId: roomId},
	})
	if err != nil {
		return err
	}
	if err := responseError(resp); err != nil {
		return fmt.Errorf("join room %q: %w", roomId, err)
	}

	c.roomMu.Lock()
	c.roomId = roomId
	c.roomMu.Unlock()
	return nil
}

// Leave unsubscribes from the current room.
func (c *Client) Leave(ctx context.Context) error {
	roomId := c.currentRoom()
	if roomId == "" {
		return ErrNotJoined
	}

	resp, err := c.request(ctx, &server.ClientMessage{
		Leave: &server.Leave{RoomId: roomId},
	})
	if err != nil {
		return err
	}
	if err := responseError(resp); err != nil {
		return fmt.Errorf("leave room %q: %w", roomId, err)
	}

	c.roomMu.Lock()
	c.roomId = ""
	c.roomMu.Unlock()
	return nil
}

// Send seals text into an authenticated payload and publishes it, waiting
// for the relay's acceptance.
func (c *Client) Send(ctx context.Context, text string) error {
	roomId := c.currentRoom()
	if roomId == "" {
		return ErrNotJoined
	}

	payload, err := c.seal(roomId, text)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := c.request(ctx, &server.ClientMessage{
		Publish: &server.Publish{RoomId: roomId, Payload: raw},
	})
	if err != nil {
		return err
	}
	if err := responseError(resp); err != nil {
		return fmt.Errorf("publish to room %q: %w", roomId, err)
	}
	return nil
}

// History fetches and decodes the room's stored log in acceptance order.
// Payloads that fail to decode come back as EventRejected entries; stored
// history is normally past the freshness window, so rejection there is the
// expected steady state, not an attack signal.
func (c *Client) History(ctx context.Context) ([]Event, error) {
	roomId := c.currentRoom()
	if roomId == "" {
		return nil, ErrNotJoined
	}

	resp, err := c.request(ctx, &server.ClientMessage{
		History: &server.History{RoomId: roomId},
	})
	if err != nil {
		return nil, err
	}
	if err := responseError(resp); err != nil {
		return nil, fmt.Errorf("history for room %q: %w", roomId, err)
	}
	if resp.History == nil {
		return nil, fmt.Errorf("history for room %q: empty reply", roomId)
	}

	events := make([]Event, 0, len(resp.History.Payloads))
	for i, raw := range resp.History.Payloads {
		ev := c.openPayload(roomId, i+1, raw, false)
		events = append(events, ev)
	}
	return events, nil
}

// Close tears down the connection and releases the session cache.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
		c.sessions.Close()
	})
	return c.conn.Close()
}

func (c *Client) currentRoom() string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()
	return c.roomId
}

// seal encrypts a chat line for the room, choosing the per-message or
// session-keyed path.
func (c *Client) seal(roomId, text string) (types.Payload, error) {
	plaintext, err := json.Marshal(chatLine{Name: c.name, Text: text})
	if err != nil {
		return types.Payload{}, err
	}

	if c.sessionMode {
		key, err := c.sessions.GetOrDerive(roomId, c.password)
		if err != nil {
			return types.Payload{}, err
		}
		return c.codec.EncodeSession(plaintext, key)
	}

	return c.codec.Encode(plaintext, c.password)
}

// openPayload authenticates, replay-checks and decrypts one received
// payload. checkReplay is off for history replay: stored messages were
// already accepted once and carry old timestamps.
func (c *Client) openPayload(roomId string, seqId int, raw json.RawMessage, checkReplay bool) Event {
	ev := Event{Type: EventMessage, RoomId: roomId, SeqId: seqId}

	var payload types.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		ev.Type = EventRejected
		ev.Err = fmt.Errorf("unmarshal payload: %w", err)
		return ev
	}

	if checkReplay {
		if err := c.window.Check(roomId, messageId(payload), time.UnixMilli(payload.Timestamp)); err != nil {
			ev.Type = EventRejected
			ev.Err = err
			return ev
		}
	}

	var plaintext []byte
	var err error
	if payload.Session {
		var key []byte
		key, err = c.sessions.GetOrDerive(roomId, c.password)
		if err == nil {
			plaintext, err = c.codec.DecodeSession(payload, key)
		}
	} else {
		plaintext, err = c.codec.Decode(payload, c.password)
	}
	if err != nil {
		ev.Type = EventRejected
		ev.Err = err
		return ev
	}

	var line chatLine
	if err := json.Unmarshal(plaintext, &line); err != nil {
		// A peer speaking bare text instead of a chat line.
		ev.Text = string(plaintext)
		return ev
	}

	ev.Name = line.Name
	ev.Text = line.Text
	return ev
}

// messageId is the replay identifier for a payload. The signature is unique
// per message thanks to the random per-message salt; session payloads carry
// no signature, so the nonce stands in.
func messageId(p types.Payload) string {
	if len(p.Signature) > 0 {
		return base64.StdEncoding.EncodeToString(p.Signature)
	}
	return base64.StdEncoding.EncodeToString(p.IV)
}

// request sends a correlated message and waits for the matching response.
func (c *Client) request(ctx context.Context, msg *server.ClientMessage) (*server.ServerMessage, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate correlation id: %w", err)
	}
	msg.Id = id
	msg.Timestamp = server.Now()

	ch := make(chan *server.ServerMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeMessage(msg); err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRequestTimeout, ctx.Err())
	}
}

func (c *Client) writeMessage(msg *server.ClientMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg server.ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *server.ServerMessage) {
	// Correlated replies go to the waiting request.
	if msg.Id != "" && (msg.Response != nil || msg.History != nil) {
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.Id]
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}

	switch {
	case msg.Message != nil:
		ev := c.openPayload(msg.Message.RoomId, msg.Message.SeqId, msg.Message.Payload, true)
		ev.ReceivedAt = msg.Message.ReceivedAt
		c.deliver(ev)
	case msg.Notification != nil && msg.Notification.RoomDeleted != nil:
		roomId := msg.Notification.RoomDeleted.RoomId
		c.sessions.Invalidate(roomId)
		c.window.Forget(roomId)
		c.roomMu.Lock()
		if c.roomId == roomId {
			c.roomId = ""
		}
		c.roomMu.Unlock()
		c.deliver(Event{Type: EventRoomDeleted, RoomId: roomId, ReceivedAt: msg.Timestamp})
	case msg.Notification != nil && msg.Notification.Presence != nil:
		c.deliver(Event{
			Type:       EventPresence,
			RoomId:     msg.Notification.Presence.RoomId,
			Present:    msg.Notification.Presence.Present,
			ReceivedAt: msg.Timestamp,
		})
	}
}

func (c *Client) deliver(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Println("event channel full, dropping event")
	}
}

func responseError(msg *server.ServerMessage) error {
	if msg.Response == nil {
		return nil
	}
	if msg.Response.ResponseCode >= 400 {
		return fmt.Errorf("%s (%d)", msg.Response.Error, msg.Response.ResponseCode)
	}
	return nil
}
