package ws

import (
	"encoding/json"
	"fmt"

	"github.com/hilthontt/nearchat/internal/domain"
)

// Frame is the envelope of every relay frame in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomPayload struct {
	UserName string `json:"userName"`
	RoomCode string `json:"roomCode"`
}

type SendMessagePayload struct {
	Message  string `json:"message"`
	RoomCode string `json:"roomCode"`
}

type RoomPayload struct {
	RoomCode string `json:"roomCode"`
}

type TypingPayload struct {
	UserName string `json:"userName"`
	UserID   string `json:"userId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ConnectionAckPayload struct {
	UserID string `json:"userId"`
}

func NewFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: raw}, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s frame has no data", domain.ErrMalformedFrame, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrMalformedFrame, f.Event, err)
	}
	return nil
}

// ParseFrame decodes one raw websocket message into a frame envelope.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", domain.ErrMalformedFrame)
	}
	return f, nil
}

func NewErrorFrame(code, message string) Frame {
	f, _ := NewFrame(ErrorEvent, ErrorPayload{Message: message, Code: code})
	return f
}

func NewMessageFrame(msg domain.Message) (Frame, error) {
	return NewFrame(NewMessage, msg)
}

func NewHistoryFrame(history []domain.Message) (Frame, error) {
	if history == nil {
		history = []domain.Message{}
	}
	return NewFrame(RoomHistory, history)
}

func NewUsersFrame(members []domain.Membership) (Frame, error) {
	if members == nil {
		members = []domain.Membership{}
	}
	return NewFrame(RoomUsers, members)
}
