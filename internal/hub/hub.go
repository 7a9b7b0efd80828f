// Package hub is the per-room broadcast bus: it fans frames out to every
// connected Session in a room and evicts sessions whose outbound queue
// cannot keep up.
package hub

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// HubMessage is the internal event shape passed through the Hub's single
// processing channel; register/unregister are the only events the Hub
// itself needs to serialize -- frame routing happens inside each Session.
type HubMessage struct {
	Type    string // "register" or "unregister"
	RoomID  string
	Session *Session
}

// Hub maintains the live set of sessions per room and serializes
// attach/detach through one channel, the same separation of concerns the
// per-client read/write pumps keep from the shared room map.
type Hub struct {
	messageChan chan HubMessage

	roomsMu  sync.RWMutex
	rooms    map[string]map[*Session]bool
	byClient map[string]map[string]*Session
}

func NewHub() *Hub {
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		rooms:       make(map[string]map[*Session]bool),
		byClient:    make(map[string]map[string]*Session),
	}
}

// Run processes register/unregister events until the channel is closed.
// It must run in its own goroutine.
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("hub is running")
	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			h.registerSession(msg.Session)
		case "unregister":
			h.unregisterSession(msg.Session)
		default:
			log.Warnf("unknown hub message type: %s", msg.Type)
		}
	}
	log.Info("hub is shutting down")
}

func (h *Hub) registerSession(s *Session) {
	h.roomsMu.Lock()
	if _, ok := h.rooms[s.roomID]; !ok {
		h.rooms[s.roomID] = make(map[*Session]bool)
	}
	h.rooms[s.roomID][s] = true
	if _, ok := h.byClient[s.roomID]; !ok {
		h.byClient[s.roomID] = make(map[string]*Session)
	}
	h.byClient[s.roomID][s.clientID] = s
	h.roomsMu.Unlock()
}

func (h *Hub) unregisterSession(s *Session) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	roomSessions, ok := h.rooms[s.roomID]
	if !ok {
		return
	}
	if _, ok := roomSessions[s]; !ok {
		return
	}
	delete(roomSessions, s)
	if len(roomSessions) == 0 {
		delete(h.rooms, s.roomID)
	}
	if clients, ok := h.byClient[s.roomID]; ok {
		if clients[s.clientID] == s {
			delete(clients, s.clientID)
		}
		if len(clients) == 0 {
			delete(h.byClient, s.roomID)
		}
	}
}

// Register enqueues a session for attach on the Hub's buffered channel; it
// returns without waiting for Run to process it, and blocks only while that
// channel is full. Callers should register before entering their read loop.
func (h *Hub) Register(s *Session) {
	h.messageChan <- HubMessage{Type: "register", RoomID: s.roomID, Session: s}
}

// Unregister enqueues a session for detach.
func (h *Hub) Unregister(s *Session) {
	h.messageChan <- HubMessage{Type: "unregister", RoomID: s.roomID, Session: s}
}

// Broadcast fans a frame out to every session in a room. If includeSender
// is false, sender is skipped. Sessions pass true for COMMIT_APPLY and for
// the LOCK_UPDATE frames their own acquire/release produces, so the author
// sees them too; USER_JOINED, USER_LEFT and the disconnect-time LOCK_UPDATEs
// pass false.
func (h *Hub) Broadcast(roomID string, message []byte, sender *Session, includeSender bool) {
	h.roomsMu.RLock()
	roomSessions, ok := h.rooms[roomID]
	recipients := make([]*Session, 0, len(roomSessions))
	if ok {
		for s := range roomSessions {
			if s == sender && !includeSender {
				continue
			}
			recipients = append(recipients, s)
		}
	}
	h.roomsMu.RUnlock()

	if len(recipients) == 0 {
		return
	}
	for _, s := range recipients {
		s.enqueue(message)
	}
}

// RoomSize returns the number of sessions currently attached to a room.
func (h *Hub) RoomSize(roomID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}

// Evict terminates the live session for clientID in roomID, if one is
// currently attached, closing its transport with the given code and
// running the same Closing procedure a client-initiated disconnect would.
// It reports whether a session was found.
func (h *Hub) Evict(roomID, clientID string, code int) bool {
	h.roomsMu.RLock()
	s, ok := h.byClient[roomID][clientID]
	h.roomsMu.RUnlock()
	if !ok {
		return false
	}
	go s.terminate(code)
	return true
}
