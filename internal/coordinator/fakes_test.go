package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/store"
	"github.com/hilthontt/nearchat/internal/transport/directlink"
	"github.com/hilthontt/nearchat/internal/transport/relay"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type fakeRelay struct {
	mu         sync.Mutex
	handler    func(relay.Event)
	connectErr error
	joins      []domain.User
	sent       []string
	starts     int
	stops      int
	closed     bool
}

func (f *fakeRelay) Connect(context.Context) error {
	return f.connectErr
}

func (f *fakeRelay) JoinRoom(user domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, user)
	return nil
}

func (f *fakeRelay) SendMessage(_ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeRelay) StartTyping(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeRelay) StopTyping(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRelay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRelay) typingCounts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func (f *fakeRelay) deliver(ev relay.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

// relayFactory hands out the given fakes in order.
func relayFactory(fakes ...*fakeRelay) RelayFactory {
	var mu sync.Mutex
	return func(h func(relay.Event)) (RelayTransport, error) {
		mu.Lock()
		defer mu.Unlock()
		f := fakes[0]
		fakes = fakes[1:]
		f.mu.Lock()
		f.handler = h
		f.mu.Unlock()
		return f, nil
	}
}

type fakeDirect struct {
	mu      sync.Mutex
	handler func(directlink.Event)
	sendErr error
	sent    []domain.Message
	joins   []domain.User
	peers   []domain.Presence
}

func (f *fakeDirect) Initialize(context.Context) error {
	f.handler(directlink.Connected{Path: "fake"})
	return nil
}

func (f *fakeDirect) JoinRoom(user domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, user)
	return nil
}

func (f *fakeDirect) SendMessage(msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.sendErr
}

func (f *fakeDirect) Members() []domain.Presence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Presence(nil), f.peers...)
}

func (f *fakeDirect) Close() error { return nil }

func directFactory(f *fakeDirect) DirectFactory {
	return func(_ string, h func(directlink.Event)) (DirectTransport, error) {
		f.handler = h
		return f, nil
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{Path: filepath.Join(t.TempDir(), "client.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recorder struct {
	events chan Event
}

func record(c *Coordinator) *recorder {
	rec := &recorder{events: make(chan Event, 512)}
	c.Subscribe(func(e Event) { rec.events <- e })
	return rec
}

// waitFor returns the next event of type T, skipping others.
func waitFor[T Event](t *testing.T, rec *recorder) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-rec.events:
			if typed, ok := e.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func (r *recorder) drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// lanHub is an in-process broadcast medium for direct-link fallback links.
type lanHub struct {
	mu    sync.Mutex
	links map[*lanLink]struct{}
}

func newLANHub() *lanHub {
	return &lanHub{links: make(map[*lanLink]struct{})}
}

type lanOpener struct {
	hub *lanHub
}

func (o *lanOpener) Name() string { return directlink.PathWebRTC }

func (o *lanOpener) Open(_ context.Context, h directlink.LinkHandler) (directlink.Link, error) {
	l := &lanLink{hub: o.hub, handler: h}
	o.hub.mu.Lock()
	o.hub.links[l] = struct{}{}
	o.hub.mu.Unlock()
	return l, nil
}

type lanLink struct {
	hub     *lanHub
	handler directlink.LinkHandler
}

func (l *lanLink) Send(data []byte) error {
	l.hub.mu.Lock()
	if _, ok := l.hub.links[l]; !ok {
		l.hub.mu.Unlock()
		return domain.ErrNoActiveLink
	}
	var targets []*lanLink
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

func (l *lanLink) Close() error {
	l.hub.mu.Lock()
	delete(l.hub.links, l)
	l.hub.mu.Unlock()
	return nil
}

// radioLessFactory builds real direct-link transports whose radio is
// missing, so every one of them runs on the LAN fallback.
func radioLessFactory(hub *lanHub) DirectFactory {
	return func(selfID string, h func(directlink.Event)) (DirectTransport, error) {
		return directlink.NewTransport(directlink.Options{
			SelfID:   selfID,
			Primary:  directlink.NewRadioOpener(directlink.NoRadio{}),
			Fallback: &lanOpener{hub: hub},
			Handler:  h,
		}), nil
	}
}
