package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/infrastructure/metrics"
)

const defaultHistoryCapacity = 500

type Options struct {
	// HistoryCapacity bounds each room's history; the oldest message is
	// evicted first.
	HistoryCapacity uint
	Metrics         *metrics.Session
	Logger          logging.Logger
}

type Registry struct {
	mu      sync.Mutex
	rooms   map[string]*room   // room code -> room
	members map[string]*member // connection id -> member

	historyCapacity int
	metrics         *metrics.Session
	logger          logging.Logger

	newID func() string
	now   func() time.Time
}

type room struct {
	code      string
	createdAt time.Time
	order     []string // connection ids in join order
	members   map[string]*member
	history   []domain.Message
}

type member struct {
	membership domain.Membership
	outbox     Outbox
}

// JoinResult is what a connection sees right after joining.
type JoinResult struct {
	RoomCode string
	Created  bool
	History  []domain.Message
	Members  []domain.Membership
	// Left is set when the join moved the connection out of another room.
	Left *LeaveResult
}

type LeaveResult struct {
	Member      domain.Membership
	Remaining   []domain.Membership
	RoomDeleted bool
}

func NewRegistry(opts Options) *Registry {
	capacity := int(opts.HistoryCapacity)
	if capacity == 0 {
		capacity = defaultHistoryCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Registry{
		rooms:           make(map[string]*room),
		members:         make(map[string]*member),
		historyCapacity: capacity,
		metrics:         opts.Metrics,
		logger:          logger,
		newID:           uuid.NewString,
		now:             time.Now,
	}
}

// Join adds the connection to the room named by roomCode, creating the room
// if needed. A connection already in another room leaves it first.
func (r *Registry) Join(connID, displayName, roomCode string, out Outbox) (JoinResult, error) {
	user, err := domain.NewUser(displayName, roomCode)
	if err != nil {
		return JoinResult{}, err
	}
	if connID == "" || out == nil {
		return JoinResult{}, fmt.Errorf("join: connection id and outbox are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var result JoinResult

	if existing, ok := r.members[connID]; ok {
		if existing.membership.RoomCode == user.RoomCode {
			// Rejoin of the same room: refresh name and outbox, replay state.
			existing.membership.DisplayName = user.DisplayName
			existing.outbox = out
			rm := r.rooms[user.RoomCode]
			result.RoomCode = rm.code
			result.History = rm.historySnapshot()
			result.Members = rm.memberList()
			out.RoomHistory(rm.code, result.History)
			rm.broadcastUsers(result.Members)
			return result, nil
		}
		left := r.leaveLocked(connID)
		result.Left = &left
	}

	rm, ok := r.rooms[user.RoomCode]
	if !ok {
		rm = &room{
			code:      user.RoomCode,
			createdAt: r.now(),
			members:   make(map[string]*member),
		}
		r.rooms[user.RoomCode] = rm
		result.Created = true
	}

	m := &member{
		membership: domain.Membership{
			ConnectionID: connID,
			DisplayName:  user.DisplayName,
			RoomCode:     user.RoomCode,
		},
		outbox: out,
	}
	rm.members[connID] = m
	rm.order = append(rm.order, connID)
	r.members[connID] = m

	result.RoomCode = rm.code
	result.History = rm.historySnapshot()
	result.Members = rm.memberList()

	out.RoomHistory(rm.code, result.History)
	presence := domain.Presence{
		UserName:  user.DisplayName,
		UserID:    connID,
		Timestamp: domain.FormatTimestamp(r.now()),
	}
	for _, id := range rm.order {
		if id != connID {
			rm.members[id].outbox.UserJoined(rm.code, presence)
		}
	}
	rm.broadcastUsers(result.Members)

	r.observeLocked()
	r.logger.Info(logging.Session, logging.Membership, "member joined", map[logging.ExtraKey]any{
		logging.RoomCode:     rm.code,
		logging.ConnectionID: connID,
		"created":            result.Created,
	})

	return result, nil
}

// RecordMessage stamps and stores a message from connID and fans it out to
// every member of the room, sender included. The connection must currently
// be joined to roomCode.
func (r *Registry) RecordMessage(connID, roomCode, text string) (domain.Message, error) {
	code, err := domain.NormalizeRoomCode(roomCode)
	if err != nil {
		r.reject("invalid_room")
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	body, err := domain.ValidateText(text)
	if err != nil {
		r.reject("empty")
		return domain.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok || m.membership.RoomCode != code {
		r.reject("unauthorized")
		return domain.Message{}, fmt.Errorf("%w: connection has not joined room %s", domain.ErrUnauthorized, code)
	}

	rm := r.rooms[code]
	msg := domain.Message{
		ID:         r.newID(),
		Text:       body,
		SenderName: m.membership.DisplayName,
		SenderID:   connID,
		Timestamp:  domain.FormatTimestamp(r.now()),
		RoomCode:   code,
	}

	rm.history = append(rm.history, msg)
	if len(rm.history) > r.historyCapacity {
		excess := len(rm.history) - r.historyCapacity
		rm.history = append([]domain.Message(nil), rm.history[excess:]...)
	}

	for _, id := range rm.order {
		rm.members[id].outbox.NewMessage(msg)
	}

	if r.metrics != nil {
		r.metrics.Messages.Inc()
	}

	return msg, nil
}

// Typing forwards a typing start/stop to every other member of the room.
// Nothing is recorded.
func (r *Registry) Typing(connID, roomCode string, typing bool) error {
	code, err := domain.NormalizeRoomCode(roomCode)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok || m.membership.RoomCode != code {
		r.reject("unauthorized")
		return fmt.Errorf("%w: connection has not joined room %s", domain.ErrUnauthorized, code)
	}

	rm := r.rooms[code]
	who := domain.Presence{UserName: m.membership.DisplayName, UserID: connID}
	for _, id := range rm.order {
		if id != connID {
			rm.members[id].outbox.UserTyping(code, who, typing)
		}
	}
	return nil
}

// Leave removes the connection from its room. The room and its history are
// deleted when it becomes empty. Unknown connections are ignored.
func (r *Registry) Leave(connID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[connID]; !ok {
		return LeaveResult{}, false
	}
	return r.leaveLocked(connID), true
}

func (r *Registry) leaveLocked(connID string) LeaveResult {
	m := r.members[connID]
	delete(r.members, connID)

	rm := r.rooms[m.membership.RoomCode]
	delete(rm.members, connID)
	for i, id := range rm.order {
		if id == connID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}

	result := LeaveResult{Member: m.membership}

	if len(rm.members) == 0 {
		delete(r.rooms, rm.code)
		result.RoomDeleted = true
	} else {
		result.Remaining = rm.memberList()
		who := domain.Presence{
			UserName:  m.membership.DisplayName,
			UserID:    connID,
			Timestamp: domain.FormatTimestamp(r.now()),
		}
		for _, id := range rm.order {
			rm.members[id].outbox.UserLeft(rm.code, who)
		}
		rm.broadcastUsers(result.Remaining)
	}

	r.observeLocked()
	r.logger.Info(logging.Session, logging.Membership, "member left", map[logging.ExtraKey]any{
		logging.RoomCode:     rm.code,
		logging.ConnectionID: connID,
		"room_deleted":       result.RoomDeleted,
	})

	return result
}

// Members returns the member list of a room, or nil if it does not exist.
func (r *Registry) Members(roomCode string) []domain.Membership {
	code, err := domain.NormalizeRoomCode(roomCode)
	if err != nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[code]; ok {
		return rm.memberList()
	}
	return nil
}

func (r *Registry) History(roomCode string) []domain.Message {
	code, err := domain.NormalizeRoomCode(roomCode)
	if err != nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[code]; ok {
		return rm.historySnapshot()
	}
	return nil
}

func (r *Registry) Stats() (rooms, members int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), len(r.members)
}

func (r *Registry) observeLocked() {
	if r.metrics == nil {
		return
	}
	r.metrics.Rooms.Set(float64(len(r.rooms)))
	r.metrics.Members.Set(float64(len(r.members)))
}

func (r *Registry) reject(reason string) {
	if r.metrics != nil {
		r.metrics.Rejected.WithLabelValues(reason).Inc()
	}
}

func (rm *room) historySnapshot() []domain.Message {
	cpy := make([]domain.Message, len(rm.history))
	copy(cpy, rm.history)
	return cpy
}

func (rm *room) memberList() []domain.Membership {
	list := make([]domain.Membership, 0, len(rm.order))
	for _, id := range rm.order {
		list = append(list, rm.members[id].membership)
	}
	return list
}

func (rm *room) broadcastUsers(members []domain.Membership) {
	for _, id := range rm.order {
		rm.members[id].outbox.RoomUsers(rm.code, members)
	}
}
