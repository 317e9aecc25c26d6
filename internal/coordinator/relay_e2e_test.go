package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/ws"
	"github.com/hilthontt/nearchat/internal/session"
	"github.com/hilthontt/nearchat/internal/transport/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelayServer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	reg := session.NewRegistry(session.Options{})
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	var seq atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.NewClient(conn, fmt.Sprintf("conn-%d", seq.Add(1)), reg, ws.ClientOptions{}).Serve(ctx)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func relayClientFactory(url string) RelayFactory {
	return func(h func(relay.Event)) (RelayTransport, error) {
		return relay.NewClient(relay.Options{URL: url, Handler: h})
	}
}

func TestRelay_LateJoinerScenario(t *testing.T) {
	url := newRelayServer(t)
	ctx := context.Background()

	a, err := New(Options{Relay: relayClientFactory(url), Store: newStore(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Disconnect() })
	recA := record(a)

	require.NoError(t, a.JoinRoom(ctx, domain.User{DisplayName: "A", RoomCode: "abcd"}))
	require.NoError(t, a.Connect(ctx, ModeRelay))
	waitFor[Connected](t, recA)
	waitFor[RoomHistory](t, recA)

	require.NoError(t, a.Send(ctx, "hi"))
	hi := waitFor[MessageReceived](t, recA)
	assert.True(t, hi.Message.IsMine)
	assert.Equal(t, "hi", hi.Message.Text)

	b, err := New(Options{Relay: relayClientFactory(url), Store: newStore(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Disconnect() })
	recB := record(b)

	require.NoError(t, b.Connect(ctx, ModeRelay))
	waitFor[Connected](t, recB)
	require.NoError(t, b.JoinRoom(ctx, domain.User{DisplayName: "B", RoomCode: "ABCD"}))

	history := waitFor[RoomHistory](t, recB)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hi", history.Messages[0].Text)
	assert.Equal(t, "A", history.Messages[0].SenderName)
	assert.False(t, history.Messages[0].IsMine)

	require.NoError(t, b.Send(ctx, "second"))
	gotB := waitFor[MessageReceived](t, recB)
	gotA := waitFor[MessageReceived](t, recA)
	assert.True(t, gotB.Message.IsMine)
	assert.False(t, gotA.Message.IsMine)
	assert.Equal(t, gotA.Message.ID, gotB.Message.ID)

	storedA, err := a.LocalHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, storedA, 2)
	storedB, err := b.LocalHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, storedB, 2)
}
