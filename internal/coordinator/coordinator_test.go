package coordinator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/keys"
	"github.com/hilthontt/nearchat/internal/transport/directlink"
	"github.com/hilthontt/nearchat/internal/transport/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = domain.User{DisplayName: "alice", RoomCode: "ABCD"}

func relayMessage(id, senderID, text string) domain.Message {
	return domain.Message{
		ID:         id,
		Text:       text,
		SenderName: "someone",
		SenderID:   senderID,
		Timestamp:  "2026-01-01T00:00:00.000Z",
		RoomCode:   "ABCD",
	}
}

func newRelayCoordinator(t *testing.T, fakes ...*fakeRelay) (*Coordinator, *recorder) {
	t.Helper()
	c, err := New(Options{Relay: relayFactory(fakes...), Store: newStore(t), TypingTimeout: 150 * time.Millisecond})
	require.NoError(t, err)
	return c, record(c)
}

func connectRelay(t *testing.T, c *Coordinator, rec *recorder, f *fakeRelay, userID string) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background(), ModeRelay))
	f.deliver(relay.Connected{UserID: userID})
	waitFor[Connected](t, rec)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestConnect_JoinHeldUntilConnect(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)
	ctx := context.Background()

	require.NoError(t, c.JoinRoom(ctx, domain.User{DisplayName: " alice ", RoomCode: "abcd"}))
	require.NoError(t, c.Connect(ctx, ModeRelay))
	require.NoError(t, c.Connect(ctx, ModeRelay), "connect is idempotent")

	f.deliver(relay.Connected{UserID: "conn-1"})
	connected := waitFor[Connected](t, rec)
	assert.Equal(t, ModeRelay, connected.Mode)
	assert.Equal(t, "conn-1", c.Identity())

	require.Len(t, f.joins, 1)
	assert.Equal(t, alice, f.joins[0])
}

func TestRelay_StoresOnEchoOnce(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)
	ctx := context.Background()

	connectRelay(t, c, rec, f, "me")
	require.NoError(t, c.JoinRoom(ctx, alice))

	require.NoError(t, c.Send(ctx, "  hi  "))
	assert.Equal(t, []string{"hi"}, f.sent)

	local, err := c.LocalHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, local, "relay sends are stored on the server echo")

	echo := relayMessage("m-1", "me", "hi")
	f.deliver(relay.MessageReceived{Message: echo, Fresh: true})
	got := waitFor[MessageReceived](t, rec)
	assert.True(t, got.Message.IsMine)
	assert.Equal(t, echo, got.Message.Message)

	f.deliver(relay.MessageReceived{Message: echo, Fresh: false})
	f.deliver(relay.MessageReceived{Message: relayMessage("m-2", "other", "yo"), Fresh: true})
	next := waitFor[MessageReceived](t, rec)
	assert.Equal(t, "m-2", next.Message.ID)
	assert.False(t, next.Message.IsMine)

	local, err = c.LocalHistory(ctx)
	require.NoError(t, err)
	require.Len(t, local, 2)
	assert.True(t, local[0].IsMine)
	assert.False(t, local[1].IsMine)
}

func TestRelay_HistoryStoresFreshOnly(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)
	ctx := context.Background()

	connectRelay(t, c, rec, f, "me")
	require.NoError(t, c.JoinRoom(ctx, alice))

	old := relayMessage("m-1", "other", "old")
	mine := relayMessage("m-2", "me", "mine")
	f.deliver(relay.History{RoomCode: "ABCD", Messages: []domain.Message{old, mine}, Fresh: []domain.Message{mine}})

	history := waitFor[RoomHistory](t, rec)
	require.Len(t, history.Messages, 2)
	assert.False(t, history.Messages[0].IsMine)
	assert.True(t, history.Messages[1].IsMine)

	local, err := c.LocalHistory(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "m-2", local[0].ID)
}

func TestDisconnect_DelayedEventIsNeverDelivered(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)
	ctx := context.Background()

	connectRelay(t, c, rec, f, "me")
	require.NoError(t, c.JoinRoom(ctx, alice))
	rec.drain()

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect(), "disconnect is repeatable")
	assert.True(t, f.closed)

	late := record(c)
	f.deliver(relay.MessageReceived{Message: relayMessage("late", "other", "late"), Fresh: true})
	f.deliver(relay.Disconnected{Err: fmt.Errorf("read: connection reset")})
	f.deliver(relay.Connected{UserID: "ghost"})

	assert.Empty(t, rec.drain())
	assert.Empty(t, late.drain())
	assert.NotEqual(t, "ghost", c.Identity())

	_, err := c.LocalHistory(ctx)
	assert.ErrorIs(t, err, domain.ErrNotJoined)
	assert.ErrorIs(t, c.Send(ctx, "after"), domain.ErrNotJoined)
}

func TestDisconnect_EventsOfReplacedSessionAreDropped(t *testing.T) {
	first, second := &fakeRelay{}, &fakeRelay{}
	c, rec := newRelayCoordinator(t, first, second)
	ctx := context.Background()

	connectRelay(t, c, rec, first, "one")
	require.NoError(t, c.Disconnect())

	rec = record(c)
	require.NoError(t, c.Connect(ctx, ModeRelay))
	first.deliver(relay.Connected{UserID: "stale"})
	second.deliver(relay.Connected{UserID: "two"})

	connected := waitFor[Connected](t, rec)
	assert.Equal(t, "two", connected.UserID)
	assert.Empty(t, rec.drain())
}

func TestTyping_BurstSendsOneStartAndOneStop(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)

	connectRelay(t, c, rec, f, "me")
	require.NoError(t, c.JoinRoom(context.Background(), alice))

	for i := 0; i < 5; i++ {
		c.StartTyping()
		time.Sleep(10 * time.Millisecond)
	}

	starts, stops := f.typingCounts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops, "each keypress resets the countdown")

	require.Eventually(t, func() bool {
		_, stops := f.typingCounts()
		return stops == 1
	}, waitTimeout, 5*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	starts, stops = f.typingCounts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestTyping_SendEndsBurst(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)
	ctx := context.Background()

	connectRelay(t, c, rec, f, "me")
	require.NoError(t, c.JoinRoom(ctx, alice))

	c.StartTyping()
	require.NoError(t, c.Send(ctx, "done"))
	c.StopTyping()

	starts, stops := f.typingCounts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestTyping_OwnSignalIsIgnored(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)

	connectRelay(t, c, rec, f, "me")
	f.deliver(relay.Typing{UserName: "alice", UserID: "me", Typing: true})
	f.deliver(relay.Typing{UserName: "bob", UserID: "other", Typing: true})
	f.deliver(relay.Typing{UserName: "bob", UserID: "other", Typing: false})

	typing := waitFor[UserTyping](t, rec)
	assert.Equal(t, "bob", typing.UserName)
	stopped := waitFor[UserStoppedTyping](t, rec)
	assert.Equal(t, "bob", stopped.UserName)
}

func TestRelay_ServerErrorIsAdvisory(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)
	ctx := context.Background()

	connectRelay(t, c, rec, f, "me")
	require.NoError(t, c.JoinRoom(ctx, alice))

	f.deliver(relay.ServerError{Code: "unauthorized", Message: "unauthorized"})
	e := waitFor[Error](t, rec)
	assert.Equal(t, KindUnauthorized, e.Kind)

	require.NoError(t, c.Send(ctx, "still works"))
	assert.Equal(t, []string{"still works"}, f.sent)
}

func TestConnect_InitFailureIsAnEvent(t *testing.T) {
	f := &fakeRelay{connectErr: fmt.Errorf("%w: dial refused", domain.ErrTransportInit)}
	c, rec := newRelayCoordinator(t, f)
	ctx := context.Background()

	err := c.Connect(ctx, ModeRelay)
	assert.ErrorIs(t, err, domain.ErrTransportInit)

	e := waitFor[Error](t, rec)
	assert.Equal(t, KindTransportInit, e.Kind)
	assert.True(t, f.closed)

	require.NoError(t, c.JoinRoom(ctx, alice))
	assert.ErrorIs(t, c.Send(ctx, "hi"), domain.ErrNotConnected)
	assert.NoError(t, c.Disconnect())
}

func TestConnect_UnknownModeAndMissingTransport(t *testing.T) {
	c, err := New(Options{Store: newStore(t)})
	require.NoError(t, err)
	rec := record(c)

	assert.Error(t, c.Connect(context.Background(), Mode("carrier-pigeon")))

	err = c.Connect(context.Background(), ModeDirect)
	assert.ErrorIs(t, err, domain.ErrTransportInit)
	assert.Equal(t, KindTransportInit, waitFor[Error](t, rec).Kind)
}

func TestSend_CallerMistakes(t *testing.T) {
	f := &fakeRelay{}
	c, _ := newRelayCoordinator(t, f)
	ctx := context.Background()

	assert.ErrorIs(t, c.Send(ctx, " \n "), domain.ErrEmptyMessage)
	assert.ErrorIs(t, c.Send(ctx, "hi"), domain.ErrNotJoined)

	_, err := c.LocalHistory(ctx)
	assert.ErrorIs(t, err, domain.ErrNotJoined)

	assert.ErrorIs(t, c.JoinRoom(ctx, domain.User{DisplayName: "", RoomCode: "ABCD"}), domain.ErrInvalidDisplayName)
}

func TestDirect_SendStampsStoresAndMarksFailure(t *testing.T) {
	d := &fakeDirect{sendErr: domain.ErrNoActiveLink}
	c, err := New(Options{Direct: directFactory(d), Store: newStore(t)})
	require.NoError(t, err)
	rec := record(c)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, ModeDirect))
	connected := waitFor[Connected](t, rec)
	assert.Equal(t, "fake", connected.Path)
	assert.Equal(t, c.Identity(), connected.UserID)

	require.NoError(t, c.JoinRoom(ctx, alice))
	waitFor[RoomHistory](t, rec)
	members := waitFor[RoomMembers](t, rec)
	require.Len(t, members.Members, 1)
	assert.Equal(t, "alice", members.Members[0].DisplayName)

	require.NoError(t, c.Send(ctx, "offline hello"))
	got := waitFor[MessageReceived](t, rec)
	assert.True(t, got.Message.IsMine)
	assert.True(t, got.Message.DeliveryFailed)
	assert.NotEmpty(t, got.Message.ID)
	assert.Equal(t, c.Identity(), got.Message.SenderID)

	e := waitFor[Error](t, rec)
	assert.Equal(t, KindNoActiveLink, e.Kind)
	assert.ErrorIs(t, e.Err, domain.ErrNoActiveLink)

	local, err := c.LocalHistory(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "offline hello", local[0].Text)
}

func TestDirect_TypingIsNoOp(t *testing.T) {
	d := &fakeDirect{}
	c, err := New(Options{Direct: directFactory(d), Store: newStore(t)})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, ModeDirect))
	require.NoError(t, c.JoinRoom(ctx, alice))
	c.StartTyping()
	c.StopTyping()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.typing.active)
	assert.Nil(t, c.typing.timer)
}

func TestDirect_FallbackScenario(t *testing.T) {
	hub := newLANHub()
	ctx := context.Background()

	a, err := New(Options{Direct: radioLessFactory(hub), Store: newStore(t)})
	require.NoError(t, err)
	b, err := New(Options{Direct: radioLessFactory(hub), Store: newStore(t)})
	require.NoError(t, err)
	recA, recB := record(a), record(b)

	require.NoError(t, a.Connect(ctx, ModeDirect), "fallback is not a failure")
	assert.Equal(t, directlink.PathWebRTC, waitFor[Connected](t, recA).Path)
	require.NoError(t, a.JoinRoom(ctx, alice))

	require.NoError(t, b.Connect(ctx, ModeDirect))
	waitFor[Connected](t, recB)
	require.NoError(t, b.JoinRoom(ctx, domain.User{DisplayName: "bob", RoomCode: "ABCD"}))

	joined := waitFor[MemberJoined](t, recA)
	assert.Equal(t, "bob", joined.Member.UserName)
	ack := waitFor[MemberJoined](t, recB)
	assert.Equal(t, "alice", ack.Member.UserName)

	require.NoError(t, a.Send(ctx, "over the air"))

	mine := waitFor[MessageReceived](t, recA)
	assert.True(t, mine.Message.IsMine)
	assert.False(t, mine.Message.DeliveryFailed)

	theirs := waitFor[MessageReceived](t, recB)
	assert.False(t, theirs.Message.IsMine)
	assert.Equal(t, "over the air", theirs.Message.Text)
	assert.Equal(t, mine.Message.ID, theirs.Message.ID)

	stored, err := b.LocalHistory(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	require.NoError(t, a.Disconnect())
	left := waitFor[MemberLeft](t, recB)
	assert.Equal(t, "alice", left.Member.UserName)
}

func TestEncryption_SealsOutboundAndOpensInbound(t *testing.T) {
	d := &fakeDirect{}
	c, err := New(Options{Direct: directFactory(d), Store: newStore(t), Encryption: true})
	require.NoError(t, err)
	rec := record(c)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, ModeDirect))
	require.NoError(t, c.JoinRoom(ctx, alice))

	require.NoError(t, c.Send(ctx, "secret"))
	require.Len(t, d.sent, 1)
	assert.True(t, keys.IsSealed(d.sent[0].Text))
	assert.False(t, strings.Contains(d.sent[0].Text, "secret"))
	assert.Equal(t, "secret", waitFor[MessageReceived](t, rec).Message.Text)

	key, err := keys.DeriveKey("ABCD")
	require.NoError(t, err)
	peer, err := keys.NewCipher(key)
	require.NoError(t, err)
	sealed, err := peer.Seal("from a peer")
	require.NoError(t, err)

	in := relayMessage("p-1", "peer", sealed)
	d.handler(directlink.MessageReceived{Message: in})
	got := waitFor[MessageReceived](t, rec)
	assert.Equal(t, "from a peer", got.Message.Text)

	d.handler(directlink.MessageReceived{Message: relayMessage("p-2", "peer", "plain text")})
	assert.Equal(t, "plain text", waitFor[MessageReceived](t, rec).Message.Text)
}

func TestResume_RejoinsPersistedUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, alice))
	_, err := s.AddMessage(ctx, relayMessage("m-1", "old-conn", "before reload"))
	require.NoError(t, err)

	f := &fakeRelay{}
	c, err := New(Options{Relay: relayFactory(f), Store: s})
	require.NoError(t, err)

	user, ok, err := c.Resume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, user)

	require.NoError(t, c.Connect(ctx, ModeRelay))
	require.Len(t, f.joins, 1)
	assert.Equal(t, alice, f.joins[0])

	local, err := c.LocalHistory(ctx)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "before reload", local[0].Text)
	assert.False(t, local[0].IsMine)
}

func TestResume_NothingPersisted(t *testing.T) {
	c, err := New(Options{Store: newStore(t)})
	require.NoError(t, err)

	_, ok, err := c.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisconnect_FromCallbackStopsRemainingSubscribers(t *testing.T) {
	f := &fakeRelay{}
	c, rec := newRelayCoordinator(t, f)
	ctx := context.Background()

	connectRelay(t, c, rec, f, "me")
	require.NoError(t, c.JoinRoom(ctx, alice))

	var first, second []Event
	c.Subscribe(func(e Event) {
		first = append(first, e)
		if _, ok := e.(MessageReceived); ok {
			require.NoError(t, c.Disconnect())
		}
	})
	c.Subscribe(func(e Event) { second = append(second, e) })

	f.deliver(relay.MessageReceived{Message: relayMessage("m1", "other", "bye"), Fresh: true})
	f.deliver(relay.MessageReceived{Message: relayMessage("m2", "other", "too late"), Fresh: true})

	require.Len(t, first, 1)
	assert.Empty(t, second)
	assert.True(t, f.closed)
}
