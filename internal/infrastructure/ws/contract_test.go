package ws

import (
	"testing"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"join-room","data":{"userName":"A","roomCode":"abcd"}}`))
	require.NoError(t, err)
	assert.Equal(t, JoinRoom, f.Event)

	var p JoinRoomPayload
	require.NoError(t, f.Decode(&p))
	assert.Equal(t, JoinRoomPayload{UserName: "A", RoomCode: "abcd"}, p)
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	for _, raw := range []string{`not json`, `{}`, `{"data":{}}`, `[1,2]`} {
		_, err := ParseFrame([]byte(raw))
		assert.ErrorIs(t, err, domain.ErrMalformedFrame, raw)
	}
}

func TestFrameDecodeWithoutData(t *testing.T) {
	f := Frame{Event: SendMessage}
	var p SendMessagePayload
	assert.ErrorIs(t, f.Decode(&p), domain.ErrMalformedFrame)
}

func TestHistoryFrameEncodesEmptyList(t *testing.T) {
	f, err := NewHistoryFrame(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(f.Data))
}
