package coordinator

import "github.com/hilthontt/nearchat/internal/domain"

// Event is the transport-agnostic stream delivered to subscribers.
type Event interface {
	coordinatorEvent()
}

// ChatMessage is a message as shown to the local user.
type ChatMessage struct {
	domain.Message
	// IsMine is true when the message was sent by this client's identity.
	IsMine bool
	// DeliveryFailed marks a direct-link message that was stored locally
	// but could not be written to any link.
	DeliveryFailed bool
}

type Connected struct {
	Mode Mode
	// Path names the direct-link sub-path; empty on the relay.
	Path   string
	UserID string
}

// Disconnected reports an unexpected loss of the active transport. An
// explicit Disconnect does not produce one.
type Disconnected struct {
	Mode Mode
	Err  error
}

type MessageReceived struct {
	Message ChatMessage
}

type RoomHistory struct {
	RoomCode string
	Messages []ChatMessage
}

type RoomMembers struct {
	RoomCode string
	Members  []domain.Membership
}

type MemberJoined struct {
	Member domain.Presence
}

type MemberLeft struct {
	Member domain.Presence
}

type UserTyping struct {
	UserName string
	UserID   string
}

type UserStoppedTyping struct {
	UserName string
	UserID   string
}

// Error is the single error channel for every transport.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (Connected) coordinatorEvent()         {}
func (Disconnected) coordinatorEvent()      {}
func (MessageReceived) coordinatorEvent()   {}
func (RoomHistory) coordinatorEvent()       {}
func (RoomMembers) coordinatorEvent()       {}
func (MemberJoined) coordinatorEvent()      {}
func (MemberLeft) coordinatorEvent()        {}
func (UserTyping) coordinatorEvent()        {}
func (UserStoppedTyping) coordinatorEvent() {}
func (Error) coordinatorEvent()             {}
