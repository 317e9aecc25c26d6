package directlink

import (
	"encoding/json"
	"fmt"

	"github.com/hilthontt/nearchat/internal/domain"
)

const (
	FrameMessage     = "message"
	FrameUserJoined  = "user-joined"
	FrameUserPresent = "user-present"
	FrameUserLeft    = "user-left"
)

// Frame is the JSON unit exchanged on both the radio and the fallback path.
type Frame struct {
	Type      string          `json:"type"`
	RoomCode  string          `json:"roomCode"`
	UserName  string          `json:"userName,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}

	switch f.Type {
	case FrameMessage:
		if f.Message == nil || f.Message.ID == "" || f.Message.SenderID == "" {
			return Frame{}, fmt.Errorf("%w: message frame without message", domain.ErrMalformedFrame)
		}
		if f.RoomCode == "" {
			f.RoomCode = f.Message.RoomCode
		}
	case FrameUserJoined, FrameUserPresent, FrameUserLeft:
		if f.UserID == "" {
			return Frame{}, fmt.Errorf("%w: %s frame without user id", domain.ErrMalformedFrame, f.Type)
		}
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame type %q", domain.ErrMalformedFrame, f.Type)
	}

	code, err := domain.NormalizeRoomCode(f.RoomCode)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	f.RoomCode = code
	return f, nil
}
