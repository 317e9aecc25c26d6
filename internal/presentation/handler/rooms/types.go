package rooms

import "github.com/hilthontt/nearchat/internal/domain"

type createRoomResponse struct {
	RoomCode string `json:"roomCode"`
}

type roomResponse struct {
	RoomCode     string              `json:"roomCode"`
	Members      []domain.Membership `json:"members"`
	MessageCount int                 `json:"messageCount"`
}
