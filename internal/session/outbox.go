package session

import "github.com/hilthontt/nearchat/internal/domain"

// Outbox receives the fan-out for one joined connection. Implementations
// enqueue and return immediately; they are called with the registry locked.
type Outbox interface {
	RoomHistory(roomCode string, history []domain.Message)
	RoomUsers(roomCode string, members []domain.Membership)
	UserJoined(roomCode string, who domain.Presence)
	UserLeft(roomCode string, who domain.Presence)
	NewMessage(msg domain.Message)
	UserTyping(roomCode string, who domain.Presence, typing bool)
}
