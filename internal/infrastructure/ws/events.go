package ws

// Client -> server.
const (
	JoinRoom    = "join-room"
	SendMessage = "send-message"
	TypingStart = "typing-start"
	TypingStop  = "typing-stop"
)

// Server -> client.
const (
	ConnectionAck     = "connection-ack"
	RoomHistory       = "room-history"
	NewMessage        = "new-message"
	RoomUsers         = "room-users"
	UserJoined        = "user-joined"
	UserLeft          = "user-left"
	UserTyping        = "user-typing"
	UserStoppedTyping = "user-stopped-typing"
	ErrorEvent        = "error"
)

// Error codes carried by ErrorEvent frames.
const (
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeInvalidFrame = "invalid_frame"
	CodeInvalidRoom  = "invalid_room"
)
