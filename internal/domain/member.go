package domain

// Membership is one active connection inside a room.
type Membership struct {
	ConnectionID string `json:"userId"`
	DisplayName  string `json:"userName"`
	RoomCode     string `json:"roomCode"`
}

// Presence is the payload of join/leave notifications.
type Presence struct {
	UserName  string `json:"userName"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp,omitempty"`
}
