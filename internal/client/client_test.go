package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/star08-web/noughtchat/internal/api"
	"github.com/star08-web/noughtchat/internal/config"
	"github.com/star08-web/noughtchat/internal/crypto"
	"github.com/star08-web/noughtchat/internal/database"
	"github.com/star08-web/noughtchat/internal/replay"
	"github.com/star08-web/noughtchat/internal/server"
	"github.com/star08-web/noughtchat/internal/session"
	"github.com/star08-web/noughtchat/internal/stats"
	"github.com/star08-web/noughtchat/internal/testutil"
	"github.com/star08-web/noughtchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testPassword   = "Tr0ub4dor&3xtra!"
	testIterations = 1000
)

// newTestRelay spins up a full relay on a test listener and returns its ws
// endpoint plus the backing store.
func newTestRelay(t *testing.T) (string, *database.MemNoughtRepository) {
	t.Helper()

	db := database.NewMemNoughtRepository()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, su)
	require.NoError(t, err)
	go cs.Run()
	t.Cleanup(func() { cs.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	api.NewNoughtApp(mux, logger, cs, db, &config.Config{ServerAddr: "localhost:0"})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", db
}

func dialTestClient(t *testing.T, url, name string, sessionMode bool) *Client {
	t.Helper()

	c, err := Dial(context.Background(), Options{
		URL:         url,
		Password:    testPassword,
		Name:        name,
		SessionMode: sessionMode,
		Iterations:  testIterations,
		Logger:      testutil.TestLogger(t),
	})
	require.NoError(t, err, "expected dial to succeed")
	t.Cleanup(func() { c.Close() })
	return c
}

// waitForEvent drains the event channel until an event of the wanted type
// arrives.
func waitForEvent(t *testing.T, c *Client, want EventType) Event {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatal("event channel closed while waiting")
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event type %d", want)
		}
	}
}

func TestDial_RejectsWeakPassword(t *testing.T) {
	_, err := Dial(context.Background(), Options{
		URL:      "ws://localhost:0/ws",
		Password: "short",
	})
	assert.Error(t, err, "expected weak password to be rejected before dialing")
}

func TestClient_JoinUnknownRoom(t *testing.T) {
	url, _ := newTestRelay(t)
	c := dialTestClient(t, url, "alice", false)

	err := c.Join(context.Background(), "does-not-exist")
	assert.Error(t, err, "expected join of unknown room to fail")
	assert.Contains(t, err.Error(), "room not found")
}

func TestClient_SendAndReceive(t *testing.T) {
	url, db := newTestRelay(t)

	room, err := db.CreateRoom("sendreceiveroom", time.Now().UTC())
	require.NoError(t, err)

	alice := dialTestClient(t, url, "alice", false)
	bob := dialTestClient(t, url, "bob", false)

	require.NoError(t, alice.Join(context.Background(), room.Id))
	require.NoError(t, bob.Join(context.Background(), room.Id))

	// alice sees bob arrive
	waitForEvent(t, alice, EventPresence)

	require.NoError(t, alice.Send(context.Background(), "hello"))

	ev := waitForEvent(t, bob, EventMessage)
	assert.Equal(t, "alice", ev.Name, "expected sender name to travel inside the payload")
	assert.Equal(t, "hello", ev.Text, "expected plaintext to round trip")
	assert.Equal(t, room.Id, ev.RoomId)
	assert.NoError(t, ev.Err)

	// the sender does not receive its own message back
	select {
	case got := <-alice.Events():
		assert.NotEqual(t, EventMessage, got.Type, "expected no message event for the sender, got %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClient_History(t *testing.T) {
	url, db := newTestRelay(t)

	room, err := db.CreateRoom("historyroom", time.Now().UTC())
	require.NoError(t, err)

	alice := dialTestClient(t, url, "alice", false)
	require.NoError(t, alice.Join(context.Background(), room.Id))
	require.NoError(t, alice.Send(context.Background(), "first"))
	require.NoError(t, alice.Send(context.Background(), "second"))

	bob := dialTestClient(t, url, "bob", false)
	require.NoError(t, bob.Join(context.Background(), room.Id))

	events, err := bob.History(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2, "expected both stored messages")
	assert.Equal(t, "first", events[0].Text, "expected history in acceptance order")
	assert.Equal(t, "second", events[1].Text)
	assert.Equal(t, 1, events[0].SeqId)
	assert.Equal(t, 2, events[1].SeqId)
}

func TestClient_SessionMode(t *testing.T) {
	url, db := newTestRelay(t)

	room, err := db.CreateRoom("sessionroom", time.Now().UTC())
	require.NoError(t, err)

	alice := dialTestClient(t, url, "alice", true)
	bob := dialTestClient(t, url, "bob", true)

	require.NoError(t, alice.Join(context.Background(), room.Id))
	require.NoError(t, bob.Join(context.Background(), room.Id))
	waitForEvent(t, alice, EventPresence)

	require.NoError(t, alice.Send(context.Background(), "fast lane"))

	// The sender can decode its own session payloads from history: the
	// cached key is still live.
	events, err := alice.History(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventMessage, events[0].Type)
	assert.Equal(t, "fast lane", events[0].Text)

	// A different client derived a different session key, so the payload is
	// rejected rather than silently misdecrypted.
	ev := waitForEvent(t, bob, EventRejected)
	assert.Error(t, ev.Err)
	assert.Empty(t, ev.Text, "expected no plaintext on rejection")
}

func TestClient_PublishToDeletedRoom(t *testing.T) {
	url, db := newTestRelay(t)

	room, err := db.CreateRoom("doomedroom", time.Now().UTC())
	require.NoError(t, err)

	alice := dialTestClient(t, url, "alice", false)
	require.NoError(t, alice.Join(context.Background(), room.Id))

	// the room row vanishes underneath the loaded room
	require.NoError(t, db.DeleteRoom(room.Id))

	err = alice.Send(context.Background(), "into the void")
	assert.Error(t, err, "expected publish to a deleted room to fail")
	assert.Contains(t, err.Error(), "room not found")
}

func newLocalClient(t *testing.T) *Client {
	t.Helper()
	c := &Client{
		codec:    crypto.NewCodecWithIterations(testIterations, nil),
		sessions: session.NewCacheWithOptions(session.DefaultTTL, testIterations, nil),
		window:   replay.NewWindow(nil),
		password: testPassword,
		name:     "local",
		log:      testutil.TestLogger(t),
	}
	return c
}

func Test_openPayload_ReplayRejected(t *testing.T) {
	c := newLocalClient(t)

	payload, err := c.seal("room1", "once only")
	require.NoError(t, err)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	first := c.openPayload("room1", 1, raw, true)
	assert.Equal(t, EventMessage, first.Type, "expected first delivery to be accepted")
	assert.Equal(t, "once only", first.Text)

	second := c.openPayload("room1", 1, raw, true)
	assert.Equal(t, EventRejected, second.Type, "expected duplicate to be rejected")
	assert.ErrorIs(t, second.Err, replay.ErrReplayed)

	// same payload is fine in a different room's window
	third := c.openPayload("room2", 1, raw, true)
	assert.Equal(t, EventMessage, third.Type, "expected replay scope to be per room")
}

func Test_openPayload_WrongPassword(t *testing.T) {
	sender := newLocalClient(t)
	payload, err := sender.seal("room1", "secret")
	require.NoError(t, err)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	receiver := newLocalClient(t)
	receiver.password = "Completely-D1fferent-pw"

	ev := receiver.openPayload("room1", 1, raw, true)
	assert.Equal(t, EventRejected, ev.Type)
	assert.ErrorIs(t, ev.Err, crypto.ErrAuthentication, "expected wrong password to fail authentication, not decryption")
}

func Test_openPayload_MalformedSessionNonce(t *testing.T) {
	c := newLocalClient(t)
	c.sessionMode = true

	payload, err := c.seal("room1", "secret")
	require.NoError(t, err)

	// A peer (or the relay) controls every payload field. A truncated nonce
	// must surface as a rejected event, never crash the read loop.
	payload.IV = payload.IV[:5]
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		ev := c.openPayload("room1", 1, raw, true)
		assert.Equal(t, EventRejected, ev.Type)
		assert.ErrorIs(t, ev.Err, crypto.ErrDecryption)
	})
}

func Test_openPayload_BareTextPlaintext(t *testing.T) {
	c := newLocalClient(t)

	// a payload sealed without the chat line framing
	payload, err := c.codec.Encode([]byte("raw text"), testPassword)
	require.NoError(t, err)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	ev := c.openPayload("room1", 1, raw, false)
	assert.Equal(t, EventMessage, ev.Type)
	assert.Equal(t, "raw text", ev.Text, "expected bare plaintext to be delivered as-is")
	assert.Empty(t, ev.Name)
}

func Test_messageId(t *testing.T) {
	signed := types.Payload{Signature: []byte{1, 2, 3}, IV: []byte{9}}
	sessionOnly := types.Payload{IV: []byte{9}, Session: true}

	assert.NotEqual(t, messageId(signed), messageId(sessionOnly), "expected signature to take precedence")
	assert.NotEmpty(t, messageId(sessionOnly), "expected session payloads to fall back to the nonce")
}
