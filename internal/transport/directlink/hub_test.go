package directlink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/stretchr/testify/require"
)

// hub is an in-process broadcast medium standing in for a radio or a LAN.
type hub struct {
	mu    sync.Mutex
	links map[*hubLink]struct{}
}

func newHub() *hub {
	return &hub{links: make(map[*hubLink]struct{})}
}

type hubOpener struct {
	hub  *hub
	name string
	fail error
}

func (o *hubOpener) Name() string { return o.name }

func (o *hubOpener) Open(_ context.Context, h LinkHandler) (Link, error) {
	if o.fail != nil {
		return nil, o.fail
	}
	l := &hubLink{hub: o.hub, handler: h}
	o.hub.mu.Lock()
	o.hub.links[l] = struct{}{}
	o.hub.mu.Unlock()
	return l, nil
}

type hubLink struct {
	hub     *hub
	handler LinkHandler
}

func (l *hubLink) Send(data []byte) error {
	l.hub.mu.Lock()
	if _, ok := l.hub.links[l]; !ok {
		l.hub.mu.Unlock()
		return domain.ErrNoActiveLink
	}
	var targets []*hubLink
	for other := range l.hub.links {
		if other != l {
			targets = append(targets, other)
		}
	}
	l.hub.mu.Unlock()

	for _, other := range targets {
		other.handler.OnFrame(append([]byte(nil), data...))
	}
	return nil
}

func (l *hubLink) Close() error {
	l.hub.mu.Lock()
	delete(l.hub.links, l)
	l.hub.mu.Unlock()
	return nil
}

// inject delivers raw bytes to every link as if a peer had sent them.
func (h *hub) inject(data []byte) {
	h.mu.Lock()
	var targets []*hubLink
	for l := range h.links {
		targets = append(targets, l)
	}
	h.mu.Unlock()
	for _, l := range targets {
		l.handler.OnFrame(data)
	}
}

// drop simulates the medium going away under every link.
func (h *hub) drop(err error) {
	h.mu.Lock()
	var targets []*hubLink
	for l := range h.links {
		targets = append(targets, l)
	}
	h.links = make(map[*hubLink]struct{})
	h.mu.Unlock()
	for _, l := range targets {
		if l.handler.OnClose != nil {
			l.handler.OnClose(err)
		}
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) messages() []domain.Message {
	var out []domain.Message
	for _, ev := range l.snapshot() {
		if m, ok := ev.(MessageReceived); ok {
			out = append(out, m.Message)
		}
	}
	return out
}

func (l *eventLog) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	var found Event
	require.Eventually(t, func() bool {
		for _, ev := range l.snapshot() {
			if match(ev) {
				found = ev
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "event never arrived")
	return found
}

func newPeerTransport(id string, primary, fallback Opener) (*Transport, *eventLog) {
	log := &eventLog{}
	return NewTransport(Options{
		SelfID:   id,
		Primary:  primary,
		Fallback: fallback,
		Handler:  log.handle,
	}), log
}

func testMessage(id, sender, room, text string) domain.Message {
	return domain.Message{
		ID:         id,
		Text:       text,
		SenderName: sender,
		SenderID:   sender + "-id",
		Timestamp:  domain.FormatTimestamp(time.Now()),
		RoomCode:   room,
	}
}

func mustJoin(t *testing.T, tr *Transport, name, room string) {
	t.Helper()
	user, err := domain.NewUser(name, room)
	require.NoError(t, err)
	require.NoError(t, tr.JoinRoom(user))
}
