package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/star08-web/noughtchat/internal/database"
)

// idleRoomTimeout is how long a room goroutine lingers with no connected
// clients before unloading itself. Unloading only frees memory; the room and
// its log stay in the store until the inactivity sweep or an explicit delete.
const idleRoomTimeout = time.Minute

type exitReq struct {
	deleted bool
	done    chan string
}

type Room struct {
	id            string
	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	seqId         int
	clients       map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room goroutine once no clients remain.
	killTimer *time.Timer
	// exit signals the room goroutine to clean up and return.
	exit chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			if msg.Publish != nil {
				r.saveAndBroadcast(msg)
			} else if msg.History != nil {
				r.handleHistory(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.id)
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.id}:
	default:
		// The hub is busy; try again after another idle period.
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.id)
	if e.deleted {
		// Deletion is announced to everyone still connected before the
		// clients are detached, so a live subscriber always observes it.
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{
				Timestamp: Now(),
			},
			Notification: &Notification{
				RoomDeleted: &RoomDeleted{RoomId: r.id},
			},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	r.clients = make(map[*Client]struct{})
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.id
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	// A new client cancels any pending unload.
	r.killTimer.Stop()

	c := join.client
	r.addClient(c)

	c.queueMessage(NoErrOK(join.Id, map[string]any{
		"room_id": r.id,
		"seq_id":  r.seqId,
	}))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Presence: &Presence{Present: true, RoomId: r.id},
		},
		SkipClient: c,
	})
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	client := leaveMsg.client
	r.removeClient(client)

	if leaveMsg.Id != "" {
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: &Notification{
			Presence: &Presence{Present: false, RoomId: r.id},
		},
		SkipClient: client,
	})
}

func (r *Room) handleHistory(msg *ClientMessage) {
	messages, err := r.cs.db.GetMessages(r.id)
	if err != nil {
		r.log.Println("GetMessages:", err)
		if errors.Is(err, database.ErrRoomNotFound) {
			msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	event := &HistoryEvent{
		RoomId:   r.id,
		Payloads: make([]json.RawMessage, len(messages)),
	}
	for i, m := range messages {
		event.Payloads[i] = json.RawMessage(m.Payload)
	}

	msg.client.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: Now(),
		},
		History: event,
	})
}

// saveAndBroadcast is the accept path: persist first, then fan out. The fan
// out is fire-and-forget; a disconnected subscriber misses the live event and
// relies on history replay on its next join.
func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	saved, err := r.cs.db.AppendMessage(r.id, msg.Publish.Payload, msg.Timestamp)
	if err != nil {
		r.log.Println("error saving message:", err)
		r.cs.stats.Incr("NumMessagesRejected")
		if errors.Is(err, database.ErrRoomNotFound) {
			msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	r.seqId = saved.SeqId
	r.cs.stats.Incr("NumMessagesAccepted")
	msg.client.queueMessage(NoErrAccepted(msg.Id))

	// Live messages go to everyone in the room except the sender, matching
	// the send-to-room-except-sender transport primitive.
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Message: &MessageEvent{
			RoomId:     r.id,
			SeqId:      saved.SeqId,
			Payload:    json.RawMessage(saved.Payload),
			ReceivedAt: saved.ReceivedAt,
		},
		SkipClient: msg.client,
	})
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		r.log.Printf("client %q not found in room %q", c.remoteAddr, r.id)
		return
	}

	delete(r.clients, c)
	c.delRoom(r.id)

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
