package relay

import "github.com/hilthontt/nearchat/internal/domain"

// Event is everything the relay client reports upward. Handlers switch on
// the concrete type.
type Event interface {
	relayEvent()
}

// Connected fires once the server acknowledged the connection.
type Connected struct {
	UserID string
}

// Disconnected fires when the connection drops without Close being called.
type Disconnected struct {
	Err error
}

// History is the room history pushed after a join. Fresh holds the messages
// not delivered before on this client, in history order.
type History struct {
	RoomCode string
	Messages []domain.Message
	Fresh    []domain.Message
}

// MessageReceived is a live message. Fresh is false for a redelivery.
type MessageReceived struct {
	Message domain.Message
	Fresh   bool
}

type Members struct {
	RoomCode string
	Members  []domain.Membership
}

type UserJoined struct {
	User domain.Presence
}

type UserLeft struct {
	User domain.Presence
}

type Typing struct {
	UserName string
	UserID   string
	Typing   bool
}

// ServerError is an advisory error frame; the connection stays up.
type ServerError struct {
	Code    string
	Message string
}

func (Connected) relayEvent()       {}
func (Disconnected) relayEvent()    {}
func (History) relayEvent()         {}
func (MessageReceived) relayEvent() {}
func (Members) relayEvent()         {}
func (UserJoined) relayEvent()      {}
func (UserLeft) relayEvent()        {}
func (Typing) relayEvent()          {}
func (ServerError) relayEvent()     {}
