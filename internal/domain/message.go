package domain

import (
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for every message and presence
// timestamp on the wire and in the local store.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Message struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderName string `json:"sender"`
	SenderID   string `json:"senderId"`
	Timestamp  string `json:"timestamp"`
	RoomCode   string `json:"roomCode"`
}

// NewMessage builds a message stamped with the given id and the current time.
// Callers that have an authoritative stamp (the relay session) pass their own id.
func NewMessage(id, text string, sender User, senderID string) Message {
	return Message{
		ID:         id,
		Text:       text,
		SenderName: sender.DisplayName,
		SenderID:   senderID,
		Timestamp:  FormatTimestamp(time.Now()),
		RoomCode:   sender.RoomCode,
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ValidateText trims the text and rejects whitespace-only input.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	return trimmed, nil
}
