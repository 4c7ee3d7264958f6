package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/star08-web/noughtchat/internal/database"
	"github.com/star08-web/noughtchat/internal/stats"
)

const (
	// inactivityTimeout is how long a room may go without an accepted
	// message before the sweep deletes it.
	inactivityTimeout = time.Hour
	// sweepInterval is how often the expiry sweep runs, independent of
	// message traffic.
	sweepInterval = time.Hour

	// maxCreateAttempts bounds identifier collision retries. With 128-bit
	// identifiers a single retry is already vanishingly unlikely.
	maxCreateAttempts = 5
)

type unloadRoomRequest struct {
	roomId  string
	deleted bool
	done    chan struct{}
}

type stopReq struct {
	done chan struct{}
}

// ChatServer is the relay hub: it owns the room map, loads room goroutines on
// demand, and runs the room lifecycle (creation, inactivity expiry, deletion
// broadcast). All room-map mutations happen on the Run loop, so they never
// interleave with each other.
type ChatServer struct {
	log            *log.Logger
	db             database.NoughtRepository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	registerChan   chan *Client
	deregisterChan chan *Client
	unloadRoomChan chan unloadRoomRequest
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	sweepEvery     time.Duration
	inactiveAfter  time.Duration
	now            func() time.Time
	stop           chan stopReq
}

func NewChatServer(logger *log.Logger, db database.NoughtRepository, su stats.StatsProvider) (*ChatServer, error) {
	for _, metric := range []string{
		"NumActiveRooms",
		"NumActiveClients",
		"NumMessagesAccepted",
		"NumMessagesRejected",
	} {
		su.RegisterMetric(metric)
	}

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		registerChan:   make(chan *Client, 256),
		deregisterChan: make(chan *Client, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		rooms:          make(map[string]*Room),
		sweepEvery:     sweepInterval,
		inactiveAfter:  inactivityTimeout,
		now:            time.Now,
		stop:           make(chan stopReq),
	}, nil
}

func (cs *ChatServer) Run() {
	sweepTicker := time.NewTicker(cs.sweepEvery)
	defer sweepTicker.Stop()

	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case client := <-cs.registerChan:
			cs.addClient(client)
		case client := <-cs.deregisterChan:
			cs.removeClient(client)
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req.roomId, req.deleted)
			if req.done != nil {
				close(req.done)
			}
		case <-sweepTicker.C:
			cs.sweepExpiredRooms()
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.roomList() {
				cs.unloadRoom(r.id, false)
			}
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	if room, ok := cs.getRoom(joinMsg.Join.RoomId); ok {
		select {
		case room.joinChan <- joinMsg:
		default:
			cs.log.Printf("join channel full on room %q", room.id)
			joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
		}
		return
	}

	dbRoom, err := cs.db.GetRoom(joinMsg.Join.RoomId)
	if err != nil {
		if !errors.Is(err, database.ErrRoomNotFound) {
			cs.log.Println("GetRoom:", err)
		}
		joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
		return
	}

	room := &Room{
		id:            dbRoom.Id,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		seqId:         dbRoom.SeqId,
		clients:       make(map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
	}

	cs.addRoom(room.id, room)
	cs.stats.Incr("NumActiveRooms")
	room.joinChan <- joinMsg

	go room.start()
}

// CreateRoom generates a fresh identifier and creates the room, retrying
// transparently on collision. The identifier is the caller's only handle on
// the room.
func (cs *ChatServer) CreateRoom() (database.Room, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := generateRoomId()
		if err != nil {
			return database.Room{}, err
		}

		room, err := cs.db.CreateRoom(id, cs.now())
		if errors.Is(err, database.ErrRoomExists) {
			cs.log.Printf("room id collision on attempt %d", attempt+1)
			continue
		}
		if err != nil {
			return database.Room{}, err
		}
		return room, nil
	}

	return database.Room{}, fmt.Errorf("gave up generating a unique room id after %d attempts", maxCreateAttempts)
}

// DeleteRoom tears a room down: subscribers are notified and detached first,
// then the room and its log are purged from the store. Deleting an absent
// room returns database.ErrRoomNotFound; deletion racing another deletion is
// otherwise a no-op.
func (cs *ChatServer) DeleteRoom(ctx context.Context, roomId string) error {
	if _, err := cs.db.GetRoom(roomId); err != nil {
		return err
	}

	if err := cs.UnloadRoom(ctx, roomId, true); err != nil {
		return err
	}

	if err := cs.db.DeleteRoom(roomId); err != nil && !errors.Is(err, database.ErrRoomNotFound) {
		return err
	}
	return nil
}

// UnloadRoom asks the Run loop to stop a loaded room goroutine, broadcasting
// a deletion notification first when deleted is set. A room that isn't
// loaded is a no-op.
func (cs *ChatServer) UnloadRoom(ctx context.Context, roomId string, deleted bool) error {
	req := unloadRoomRequest{roomId: roomId, deleted: deleted, done: make(chan struct{})}

	select {
	case cs.unloadRoomChan <- req:
	case <-ctx.Done():
		return fmt.Errorf("unload room %q: %w", roomId, ctx.Err())
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("unload room %q: %w", roomId, ctx.Err())
	}
}

// unloadRoom runs on the Run loop. It detaches a loaded room goroutine,
// waiting for it to finish cleaning up.
func (cs *ChatServer) unloadRoom(roomId string, deleted bool) {
	r, ok := cs.getRoom(roomId)
	if !ok {
		return
	}

	cs.removeRoom(roomId)
	cs.stats.Decr("NumActiveRooms")

	done := make(chan string)
	r.exit <- exitReq{deleted: deleted, done: done}
	<-done
}

// sweepExpiredRooms deletes rooms whose last activity is older than the
// inactivity threshold. Runs on the Run loop, so it cannot interleave with a
// concurrent create or delete; appends in flight serialize against the
// store's delete atomically.
func (cs *ChatServer) sweepExpiredRooms() {
	cutoff := cs.now().Add(-cs.inactiveAfter)
	ids, err := cs.db.ExpiredRooms(cutoff)
	if err != nil {
		cs.log.Println("ExpiredRooms:", err)
		return
	}

	for _, id := range ids {
		cs.log.Printf("sweeping inactive room %q", id)
		cs.unloadRoom(id, true)
		if err := cs.db.DeleteRoom(id); err != nil && !errors.Is(err, database.ErrRoomNotFound) {
			cs.log.Println("DeleteRoom:", err)
		}
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.registerChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr("NumActiveClients")
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr("NumActiveClients")
	}
}

func (cs *ChatServer) addRoom(roomId string, r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()
	cs.rooms[roomId] = r
}

func (cs *ChatServer) getRoom(roomId string) (*Room, bool) {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()
	r, ok := cs.rooms[roomId]
	return r, ok
}

func (cs *ChatServer) removeRoom(roomId string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()
	delete(cs.rooms, roomId)
}

func (cs *ChatServer) roomList() []*Room {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	rooms := make([]*Room, 0, len(cs.rooms))
	for _, r := range cs.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
