package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/domain"
	"github.com/Kaping/blockshare/internal/dto"
	"github.com/Kaping/blockshare/internal/registry"
	"github.com/Kaping/blockshare/internal/service"
)

// Wire-level timing, mirrored from the original per-client read/write pumps.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// State is where a Session sits in the connection lifecycle. Frames other
// than the admission handshake are only accepted once Live.
type State int

const (
	StateOpening State = iota
	StateAdmitted
	StateLive
	StateClosing
	StateClosed
)

// Config holds the tunables a Session needs that come from process
// configuration rather than from the room or the connecting client.
type Config struct {
	LeaseTTL      time.Duration
	OutboundQueue int
}

// Session is one admitted WebSocket connection and the protocol state
// machine driving it: Opening -> Admitted -> Live -> Closing -> Closed.
type Session struct {
	hub      *Hub
	conn     *websocket.Conn
	registry *registry.Registry
	snapshot *service.SnapshotService
	cfg      Config

	roomID   string
	maxUsers int
	room     *registry.RoomCtx

	clientID string
	nickname string
	color    string

	send chan []byte

	mu    sync.Mutex
	state State
}

func NewSession(h *Hub, conn *websocket.Conn, reg *registry.Registry, snap *service.SnapshotService, roomID, clientID, nickname string, cfg Config) *Session {
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = 256
	}
	return &Session{
		hub:      h,
		conn:     conn,
		registry: reg,
		snapshot: snap,
		cfg:      cfg,
		roomID:   roomID,
		clientID: clientID,
		nickname: nickname,
		send:     make(chan []byte, cfg.OutboundQueue),
		state:    StateOpening,
	}
}

func (s *Session) logCtx() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"room_id": s.roomID, "client_id": s.clientID})
}

// Open runs the admission handshake: capacity check, presence registration,
// INIT_STATE to the new session, USER_JOINED to everyone else. It must
// succeed before Run starts readPump/writePump. Returns domain.CloseRoomFull if
// the room was already at capacity.
func (s *Session) Open(ctx context.Context) (closeCode int, err error) {
	room, roomCtx, err := s.registry.Get(ctx, s.roomID)
	if err != nil {
		return domain.CloseInternalError, err
	}
	s.room = roomCtx
	s.maxUsers = room.MaxUsers
	if s.maxUsers <= 0 {
		s.maxUsers = domain.DefaultMaxUsers
	}

	if roomCtx.Presence.Count() >= s.maxUsers {
		return domain.CloseRoomFull, fmt.Errorf("hub: room %q is at capacity", s.roomID)
	}

	// Captured before Add so INIT_STATE's user list excludes the
	// connecting client itself.
	existing := roomCtx.Presence.List()

	participant, added := roomCtx.Presence.Add(s.clientID, s.nickname)
	if !added {
		return domain.CloseProtocolError, fmt.Errorf("hub: client %q already present in room %q", s.clientID, s.roomID)
	}
	s.color = participant.Color
	s.setState(StateAdmitted)

	locks, err := roomCtx.Leases.Snapshot(ctx, s.roomID)
	if err != nil {
		s.logCtx().WithError(err).Warn("failed to load lease snapshot for INIT_STATE, continuing with empty locks")
		locks = map[string]string{}
	}

	payload, err := s.snapshot.Get(ctx, s.roomID)
	if err != nil {
		s.logCtx().WithError(err).Warn("failed to load workspace snapshot for INIT_STATE")
	}

	users := make([]dto.UserInfo, 0, len(existing))
	for _, p := range existing {
		users = append(users, dto.UserInfo{ClientID: p.ClientID, Nickname: p.Nickname, Color: p.Color})
	}

	initFrame, err := dto.Encode(domain.FrameInitState, dto.InitStatePayload{
		ClientID:     s.clientID,
		Color:        s.color,
		Users:        users,
		Locks:        locks,
		WorkspaceXml: string(payload),
	})
	if err != nil {
		return domain.CloseInternalError, fmt.Errorf("hub: encode INIT_STATE: %w", err)
	}

	s.hub.Register(s)
	s.enqueue(initFrame)

	joinedFrame, err := dto.Encode(domain.FrameUserJoined, dto.UserJoinedPayload{
		UserInfo: dto.UserInfo{ClientID: s.clientID, Nickname: s.nickname, Color: s.color},
	})
	if err == nil {
		s.hub.Broadcast(s.roomID, joinedFrame, s, false)
	}

	s.setState(StateLive)
	return 0, nil
}

// Run starts the read/write pumps and blocks until the connection closes.
func (s *Session) Run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writePump() }()
	go func() { defer wg.Done(); s.readPump() }()
	wg.Wait()
	s.close()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enqueue is the non-blocking send used by both the Hub's broadcast and the
// Session's own handlers. On overflow the session is evicted with 1013
// rather than silently dropping the frame.
func (s *Session) enqueue(message []byte) {
	select {
	case s.send <- message:
	default:
		s.logCtx().Warn("outbound queue full, evicting session")
		go s.terminate(domain.CloseQueueOverflow)
	}
}

func (s *Session) terminate(code int) {
	deadline := time.Now().Add(writeWait)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), deadline)
	_ = s.conn.Close()
}

func (s *Session) readPump() {
	defer func() {
		s.setState(StateClosing)
		// Closing the connection here, rather than waiting for the write
		// pump's next ping, is what makes it exit promptly too: the empty
		// wake-up frame makes its next write hit the closed connection.
		_ = s.conn.Close()
		select {
		case s.send <- nil:
		default:
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logCtx().WithError(err).Debug("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleFrame(message)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logCtx().WithError(err).Debug("failed to write message")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handleFrame(raw []byte) {
	if s.currentState() != StateLive {
		return
	}

	var frame dto.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.logCtx().WithError(err).Debug("malformed frame envelope, closing with protocol error")
		s.terminate(domain.CloseProtocolError)
		return
	}
	// Any well-formed frame counts as activity for the reaper.
	s.room.Presence.Touch(s.clientID)

	ctx := context.Background()
	switch frame.T {
	case domain.FrameLockAcquire:
		s.handleLockAcquire(ctx, frame.Payload)
	case domain.FrameCommit:
		s.handleCommit(ctx, frame.Payload)
	case domain.FrameHeartbeat:
		s.handleHeartbeat(ctx)
	default:
		s.logCtx().WithField("tag", frame.T).Debug("dropping unknown frame tag")
	}
}

func (s *Session) handleLockAcquire(ctx context.Context, raw json.RawMessage) {
	var p dto.LockAcquirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logCtx().WithError(err).Debug("malformed LOCK_ACQUIRE payload, closing with protocol error")
		s.terminate(domain.CloseProtocolError)
		return
	}
	if p.BlockID == "" {
		return
	}
	keys := unionBlockIDs(p.BlockID, p.Also)

	result, err := s.room.Leases.AcquireMany(ctx, s.roomID, s.clientID, keys, s.cfg.LeaseTTL)
	if err != nil {
		s.logCtx().WithError(err).Error("lease acquire failed")
		// Transient store failure: surrogate LOCK_DENIED so the caller
		// isn't left waiting forever on a Redis blip.
		deniedFrame, encErr := dto.Encode(domain.FrameLockDenied, dto.LockDeniedPayload{BlockID: p.BlockID, Owner: "", TTLMs: 0})
		if encErr == nil {
			s.enqueue(deniedFrame)
		}
		return
	}

	if !result.Granted {
		owner, blockID, ttlMs := "", p.BlockID, int64(0)
		if result.Conflict != nil {
			owner, blockID, ttlMs = result.Conflict.Owner, result.Conflict.BlockID, result.Conflict.RemainingMs
		}
		deniedFrame, encErr := dto.Encode(domain.FrameLockDenied, dto.LockDeniedPayload{BlockID: blockID, Owner: owner, TTLMs: ttlMs})
		if encErr == nil {
			s.enqueue(deniedFrame)
		}
		return
	}

	for _, blockID := range keys {
		owner := s.clientID
		updateFrame, encErr := dto.Encode(domain.FrameLockUpdate, dto.LockUpdatePayload{BlockID: blockID, Owner: &owner})
		if encErr != nil {
			continue
		}
		s.hub.Broadcast(s.roomID, updateFrame, s, true)
	}
}

// unionBlockIDs returns primary followed by the distinct entries of also,
// used both for a lock-acquire batch and for a commit's release-lock batch.
func unionBlockIDs(primary string, also []string) []string {
	seen := map[string]bool{primary: true}
	out := []string{primary}
	for _, id := range also {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// handleCommit applies an edit to a single block. A foreign lock owner on
// that block rejects the commit instead of silently dropping it. A
// requested release (optionally batched via Also) runs after the apply is
// broadcast.
func (s *Session) handleCommit(ctx context.Context, raw json.RawMessage) {
	var p dto.CommitPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logCtx().WithError(err).Debug("malformed COMMIT payload, closing with protocol error")
		s.terminate(domain.CloseProtocolError)
		return
	}
	if p.BlockID == "" {
		return
	}

	locks, err := s.room.Leases.Snapshot(ctx, s.roomID)
	if err != nil {
		s.logCtx().WithError(err).Error("failed to read lease snapshot for commit validation")
		s.rejectCommit(p.BlockID, "")
		return
	}
	if owner, held := locks[p.BlockID]; held && owner != s.clientID {
		s.rejectCommit(p.BlockID, owner)
		return
	}

	// An oversize workspaceXml only disqualifies the snapshot write --
	// events are independent of snapshot authority, so the edit itself
	// still applies and broadcasts. A genuine store failure still rejects
	// the whole commit.
	if p.WorkspaceXml != "" {
		if err := s.snapshot.Put(ctx, s.roomID, []byte(p.WorkspaceXml)); err != nil {
			if errors.Is(err, service.ErrSnapshotTooLarge) {
				s.logCtx().WithError(err).Warn("workspace snapshot too large, applying edit without it")
				p.WorkspaceXml = ""
			} else {
				s.logCtx().WithError(err).Error("failed to persist workspace snapshot")
				s.rejectCommit(p.BlockID, "")
				return
			}
		}
	}

	applyFrame, err := dto.Encode(domain.FrameCommitApply, dto.CommitApplyPayload{
		BlockID:      p.BlockID,
		Events:       p.Events,
		By:           s.clientID,
		WorkspaceXml: p.WorkspaceXml,
	})
	if err != nil {
		return
	}
	// COMMIT_APPLY always includes the sender: the author's own local
	// state must converge on the same applied frame as everyone else's.
	s.hub.Broadcast(s.roomID, applyFrame, s, true)

	if p.ReleaseLock {
		s.releaseAndBroadcast(ctx, unionBlockIDs(p.BlockID, p.Also))
	}
}

// rejectCommit sends a COMMIT_REJECTED back to the sender only. owner is
// empty for a transient-store failure rather than an ownership conflict.
func (s *Session) rejectCommit(blockID, owner string) {
	rejectedFrame, encErr := dto.Encode(domain.FrameCommitRejected, dto.CommitRejectedPayload{
		BlockID: blockID,
		Owner:   owner,
	})
	if encErr == nil {
		s.enqueue(rejectedFrame)
	}
}

// releaseAndBroadcast releases every block in blockIDs the session still
// owns and broadcasts a LOCK_UPDATE{owner: null} for each one actually
// released.
func (s *Session) releaseAndBroadcast(ctx context.Context, blockIDs []string) {
	for _, blockID := range blockIDs {
		released, err := s.room.Leases.Release(ctx, s.roomID, s.clientID, blockID)
		if err != nil {
			s.logCtx().WithError(err).WithField("block_id", blockID).Warn("failed to release lease after commit")
			continue
		}
		if !released {
			continue
		}
		updateFrame, encErr := dto.Encode(domain.FrameLockUpdate, dto.LockUpdatePayload{BlockID: blockID, Owner: nil})
		if encErr == nil {
			s.hub.Broadcast(s.roomID, updateFrame, s, true)
		}
	}
}

func (s *Session) handleHeartbeat(ctx context.Context) {
	if _, err := s.room.Leases.ExtendByOwner(ctx, s.roomID, s.clientID, s.cfg.LeaseTTL); err != nil {
		s.logCtx().WithError(err).Warn("failed to extend leases on heartbeat")
	}
	s.room.Presence.Touch(s.clientID)
}

// close runs once both pumps have exited: it releases every lease the
// session held, drops presence, and tells the rest of the room.
func (s *Session) close() {
	s.setState(StateClosed)
	_ = s.conn.Close()

	if s.room == nil {
		return
	}

	ctx := context.Background()
	released, err := s.room.Leases.ReleaseAll(ctx, s.roomID, s.clientID)
	if err != nil {
		s.logCtx().WithError(err).Warn("failed to release leases on disconnect")
	}
	for _, blockID := range released {
		updateFrame, encErr := dto.Encode(domain.FrameLockUpdate, dto.LockUpdatePayload{BlockID: blockID, Owner: nil})
		if encErr == nil {
			s.hub.Broadcast(s.roomID, updateFrame, s, false)
		}
	}
	s.room.Presence.Remove(s.clientID)
	s.hub.Unregister(s)

	leftFrame, err := dto.Encode(domain.FrameUserLeft, dto.UserLeftPayload{ClientID: s.clientID})
	if err == nil {
		s.hub.Broadcast(s.roomID, leftFrame, s, false)
	}

	if s.room.Presence.Count() == 0 {
		s.registry.Drop(s.roomID)
	}
}
