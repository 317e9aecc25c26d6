package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	roomCodeLength    = 6
	maxRoomCodeLength = 32

	roomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var charsetLen = big.NewInt(int64(len(roomCodeChars)))

// NormalizeRoomCode trims and upper-cases a user-chosen code so that "abcd"
// and " ABCD " name the same room.
func NormalizeRoomCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", ErrInvalidRoomCode
	}
	if len(code) > maxRoomCodeLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidRoomCode, maxRoomCodeLength)
	}
	for _, r := range code {
		if r <= ' ' || r == 0x7f {
			return "", fmt.Errorf("%w: contains control or space characters", ErrInvalidRoomCode)
		}
	}
	return code, nil
}

// GenerateRoomCode returns a random code using an alphabet without the
// easily confused characters (0/O, 1/I).
func GenerateRoomCode() (string, error) {
	var sb strings.Builder
	sb.Grow(roomCodeLength)

	for i := 0; i < roomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(roomCodeChars[n.Int64()])
	}

	return sb.String(), nil
}
