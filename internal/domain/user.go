package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxDisplayNameLength = 32

type User struct {
	DisplayName string `json:"displayName"`
	RoomCode    string `json:"roomCode"`
}

func NewUser(displayName, roomCode string) (User, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return User{}, ErrInvalidDisplayName
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return User{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidDisplayName, maxDisplayNameLength)
	}

	code, err := NormalizeRoomCode(roomCode)
	if err != nil {
		return User{}, err
	}

	return User{DisplayName: name, RoomCode: code}, nil
}
