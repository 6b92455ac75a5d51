// Package realtime delivers board events to connected clients. Connections
// join board rooms through the access gate; events for a room are delivered
// in the order their tickets were reserved.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"corkboard/internal/access"
	"corkboard/internal/logging"
	"corkboard/internal/metrics"
	"corkboard/internal/util"
)

var (
	ErrClosed            = errors.New("realtime hub closed")
	ErrUnknownConnection = errors.New("unknown connection")
)

// Authorizer is the part of the access gate the hub needs.
type Authorizer interface {
	Authorize(ctx context.Context, boardID string, creds access.Credentials) (access.Grant, error)
}

// Relay fans envelopes out to other hub instances. Publish must not block.
type Relay interface {
	Publish(env Envelope)
}

type Options struct {
	// OutboxSize is the per-connection buffer; a full outbox drops events.
	OutboxSize int
	// SweepInterval controls how often expired share members are evicted from
	// idle rooms. Zero disables the sweeper.
	SweepInterval time.Duration
	Heartbeat     time.Duration
	// InstanceID tags relayed envelopes. It must not be reused by a
	// restarted process, since receivers drop envelopes whose sequence they
	// have already passed. Defaults to a random ID.
	InstanceID string
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 25 * time.Second
	}
	if o.InstanceID == "" {
		o.InstanceID = util.NewID("hub")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Frame is an encoded event ready for the wire.
type Frame struct {
	Name string
	Data json.RawMessage
}

func encode(ev Event) (Frame, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Name: ev.Name(), Data: data}, nil
}

// Conn is one client connection. Frames are read from Frames until Done is
// closed.
type Conn struct {
	ID     string
	UserID string

	out   chan Frame
	done  chan struct{}
	rooms map[string]struct{}
}

func (c *Conn) Frames() <-chan Frame  { return c.out }
func (c *Conn) Done() <-chan struct{} { return c.done }

type member struct {
	conn  *Conn
	grant access.Grant
}

type room struct {
	members map[string]member
	next    uint64
	head    uint64
	pending map[uint64]*Ticket
}

func (r *room) idle() bool {
	return len(r.members) == 0 && len(r.pending) == 0
}

type Hub struct {
	gate   Authorizer
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*Conn
	users  map[string]map[string]*Conn
	rooms  map[string]*room
	relay  Relay
	closed bool

	// relaySeq numbers envelopes this instance publishes; remoteSeq holds
	// the last sequence applied from each other instance.
	relaySeq  uint64
	remoteSeq map[string]uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewHub(gate Authorizer, opts Options) *Hub {
	return &Hub{
		gate:   gate,
		opts:   opts.withDefaults(),
		logger: logging.WithComponent("realtime"),
		conns:  make(map[string]*Conn),
		users:  make(map[string]map[string]*Conn),
		rooms:  make(map[string]*room),
		stop:   make(chan struct{}),

		remoteSeq: make(map[string]uint64),
	}
}

func (h *Hub) InstanceID() string { return h.opts.InstanceID }

// AttachRelay sends every locally published envelope to relay as well.
func (h *Hub) AttachRelay(relay Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = relay
}

func (h *Hub) Start() {
	if h.opts.SweepInterval <= 0 {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.sweepExpired()
			}
		}
	}()
}

// Close disconnects every connection and stops background work. Pending
// tickets are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id := range h.conns {
		h.disconnectLocked(id)
	}
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	close(h.stop)
	h.wg.Wait()
}

func (h *Hub) Connect(userID string) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	conn := &Conn{
		ID:     util.NewID("conn"),
		UserID: userID,
		out:    make(chan Frame, h.opts.OutboxSize),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
	h.conns[conn.ID] = conn
	if userID != "" {
		if h.users[userID] == nil {
			h.users[userID] = make(map[string]*Conn)
		}
		h.users[userID][conn.ID] = conn
	}
	metrics.Connections.Inc()
	h.logger.Debug().Str("conn_id", conn.ID).Str("user_id", userID).Msg("connection opened")
	return conn, nil
}

func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectLocked(connID)
}

func (h *Hub) disconnectLocked(connID string) {
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	for boardID := range conn.rooms {
		if r, ok := h.rooms[boardID]; ok {
			h.removeMember(boardID, r, connID, "")
		}
	}
	delete(h.conns, connID)
	if conn.UserID != "" {
		delete(h.users[conn.UserID], connID)
		if len(h.users[conn.UserID]) == 0 {
			delete(h.users, conn.UserID)
		}
	}
	close(conn.done)
	metrics.Connections.Dec()
}

// JoinBoardRoom admits connID to boardID's room when creds grant at least
// read access. A rejected join leaves the connection open.
func (h *Hub) JoinBoardRoom(ctx context.Context, connID, boardID string, creds access.Credentials) (access.Grant, error) {
	h.mu.Lock()
	closed := h.closed
	_, known := h.conns[connID]
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !known {
		return nil, ErrUnknownConnection
	}

	grant, err := h.gate.Authorize(ctx, boardID, creds)
	if err != nil {
		return nil, err
	}
	if err := access.Require(grant, access.PermRead); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	if userID, _, ok := access.UserOf(grant); ok && conn.UserID != "" && userID != conn.UserID {
		return nil, access.ErrForbidden
	}
	r := h.roomFor(boardID)
	if _, exists := r.members[connID]; !exists {
		metrics.RoomMembers.Inc()
	}
	r.members[connID] = member{conn: conn, grant: grant}
	conn.rooms[boardID] = struct{}{}
	return grant, nil
}

// LeaveBoardRoom removes connID from boardID's room. creds must resolve to
// the same subject that admitted the connection; leaving a room the
// connection is not in is a no-op.
func (h *Hub) LeaveBoardRoom(ctx context.Context, connID, boardID string, creds access.Credentials) error {
	h.mu.Lock()
	_, known := h.conns[connID]
	h.mu.Unlock()
	if !known {
		return ErrUnknownConnection
	}

	grant, err := h.gate.Authorize(ctx, boardID, creds)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[boardID]
	if !ok {
		return nil
	}
	m, ok := r.members[connID]
	if !ok {
		return nil
	}
	if m.grant.Subject() != grant.Subject() {
		return access.ErrForbidden
	}
	h.removeMember(boardID, r, connID, "")
	h.dropIfIdle(boardID, r)
	return nil
}

// RoomSize reports the number of local members in boardID's room.
func (h *Hub) RoomSize(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[boardID]; ok {
		return len(r.members)
	}
	return 0
}

// Broadcast delivers ev to every member of boardID's room except exclude.
func (h *Hub) Broadcast(boardID string, ev Event, exclude string) {
	h.Reserve(boardID).Publish(ev, exclude)
}

// NotifyUser delivers ev to every connection of userID.
func (h *Hub) NotifyUser(userID string, ev Event) {
	frame, err := encode(ev)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", ev.Name()).Msg("encode event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.deliverUser(userID, frame)
	h.publishRelay(Envelope{Kind: envelopeUser, UserID: userID, Name: frame.Name, Data: frame.Data})
}

// EvictShare removes members admitted through shareID from every room.
func (h *Hub) EvictShare(shareID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evictShareLocked(shareID)
	h.publishRelay(Envelope{Kind: envelopeEvictShare, ShareID: shareID})
}

// CloseRoom removes every member of boardID's room.
func (h *Hub) CloseRoom(boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeRoomLocked(boardID)
	h.publishRelay(Envelope{Kind: envelopeCloseRoom, BoardID: boardID})
}

func (h *Hub) roomFor(boardID string) *room {
	r, ok := h.rooms[boardID]
	if !ok {
		r = &room{members: make(map[string]member), pending: make(map[uint64]*Ticket)}
		h.rooms[boardID] = r
	}
	return r
}

func (h *Hub) dropIfIdle(boardID string, r *room) {
	if r.idle() && h.rooms[boardID] == r {
		delete(h.rooms, boardID)
	}
}

// removeMember drops connID from r and, when reason is set, tells the client.
func (h *Hub) removeMember(boardID string, r *room, connID, reason string) {
	m, ok := r.members[connID]
	if !ok {
		return
	}
	delete(r.members, connID)
	delete(m.conn.rooms, boardID)
	metrics.RoomMembers.Dec()
	if reason != "" {
		if frame, err := encode(RoomLeft{BoardID: boardID, Reason: reason}); err == nil {
			h.send(m.conn, frame)
		}
	}
}

func (h *Hub) deliverRoom(boardID string, r *room, frame Frame, exclude string) {
	now := h.opts.Now()
	for connID, m := range r.members {
		if m.grant.Expired(now) {
			metrics.EventsDropped.WithLabelValues("share_expired").Inc()
			h.removeMember(boardID, r, connID, LeaveShareExpired)
			continue
		}
		if connID == exclude {
			continue
		}
		h.send(m.conn, frame)
	}
}

func (h *Hub) deliverUser(userID string, frame Frame) {
	for _, conn := range h.users[userID] {
		h.send(conn, frame)
	}
}

func (h *Hub) send(conn *Conn, frame Frame) {
	select {
	case conn.out <- frame:
		metrics.EventsDelivered.Inc()
	default:
		metrics.EventsDropped.WithLabelValues("outbox_full").Inc()
		h.logger.Debug().Str("conn_id", conn.ID).Str("event", frame.Name).Msg("outbox full, event dropped")
	}
}

func (h *Hub) evictShareLocked(shareID string) {
	for boardID, r := range h.rooms {
		for connID, m := range r.members {
			if id, ok := access.ShareOf(m.grant); ok && id == shareID {
				h.removeMember(boardID, r, connID, LeaveShareRevoked)
			}
		}
		h.dropIfIdle(boardID, r)
	}
}

func (h *Hub) closeRoomLocked(boardID string) {
	r, ok := h.rooms[boardID]
	if !ok {
		return
	}
	for connID := range r.members {
		h.removeMember(boardID, r, connID, LeaveBoardDeleted)
	}
	h.dropIfIdle(boardID, r)
}

func (h *Hub) sweepExpired() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.opts.Now()
	for boardID, r := range h.rooms {
		for connID, m := range r.members {
			if m.grant.Expired(now) {
				h.removeMember(boardID, r, connID, LeaveShareExpired)
			}
		}
		h.dropIfIdle(boardID, r)
	}
}

func (h *Hub) publishRelay(env Envelope) {
	if h.relay == nil {
		return
	}
	h.relaySeq++
	env.Origin = h.opts.InstanceID
	env.Seq = h.relaySeq
	h.relay.Publish(env)
}
