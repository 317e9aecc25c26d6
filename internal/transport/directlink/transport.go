package directlink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
)

// FallbackError is returned by Initialize when the primary path failed and
// the fallback path was opened instead. The transport is usable.
type FallbackError struct {
	Fallback string
	Primary  error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("primary path unavailable, using %s: %v", e.Fallback, e.Primary)
}

func (e *FallbackError) Unwrap() error { return e.Primary }

type Options struct {
	// SelfID identifies this device to peers and stamps its messages.
	SelfID   string
	Primary  Opener
	Fallback Opener
	Handler  func(Event)
	Logger   logging.Logger
}

type Transport struct {
	opts Options

	mu      sync.Mutex
	link    Link
	path    string
	user    *domain.User
	members map[string]domain.Presence
}

func NewTransport(opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Handler == nil {
		opts.Handler = func(Event) {}
	}
	return &Transport{
		opts:    opts,
		members: make(map[string]domain.Presence),
	}
}

// Initialize opens the primary path, or the fallback path when the primary
// cannot be opened. In the latter case it returns a *FallbackError and the
// transport is ready. It fails with domain.ErrTransportInit only when neither
// path opens. Calling it on an initialized transport does nothing.
func (t *Transport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	if t.link != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	var primaryErr error
	if t.opts.Primary != nil {
		link, err := t.open(ctx, t.opts.Primary)
		if err == nil {
			return t.activate(link, t.opts.Primary.Name())
		}
		primaryErr = err
	} else {
		primaryErr = fmt.Errorf("%w: no primary path configured", domain.ErrTransportInit)
	}

	if t.opts.Fallback == nil {
		return primaryErr
	}

	t.opts.Logger.Info(logging.DirectLink, logging.Fallback, "primary path unavailable, starting fallback", map[logging.ExtraKey]any{
		logging.ErrorMessage: primaryErr.Error(),
		"fallback":           t.opts.Fallback.Name(),
	})

	link, err := t.open(ctx, t.opts.Fallback)
	if err != nil {
		return fmt.Errorf("%w: primary: %v; fallback: %v", domain.ErrTransportInit, primaryErr, err)
	}
	if err := t.activate(link, t.opts.Fallback.Name()); err != nil {
		return err
	}
	return &FallbackError{Fallback: t.opts.Fallback.Name(), Primary: primaryErr}
}

func (t *Transport) open(ctx context.Context, opener Opener) (Link, error) {
	path := opener.Name()
	var link Link
	var mu sync.Mutex

	handler := LinkHandler{
		OnFrame: t.receive,
		OnPeer:  t.announce,
		OnClose: func(err error) {
			mu.Lock()
			l := link
			mu.Unlock()
			t.lost(l, path, err)
		},
	}

	l, err := opener.Open(ctx, handler)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	link = l
	mu.Unlock()
	return l, nil
}

func (t *Transport) activate(link Link, path string) error {
	t.mu.Lock()
	if t.link != nil {
		// Lost a race with a concurrent Initialize.
		t.mu.Unlock()
		_ = link.Close()
		return nil
	}
	t.link = link
	t.path = path
	t.mu.Unlock()

	t.opts.Logger.Info(logging.DirectLink, logging.Connection, "direct link open", map[logging.ExtraKey]any{
		"path": path,
	})
	t.opts.Handler(Connected{Path: path})
	return nil
}

func (t *Transport) lost(link Link, path string, err error) {
	t.mu.Lock()
	if link == nil || t.link != link {
		t.mu.Unlock()
		return
	}
	t.link = nil
	t.path = ""
	t.members = make(map[string]domain.Presence)
	t.mu.Unlock()

	t.opts.Logger.Warn(logging.DirectLink, logging.Connection, "direct link lost", map[logging.ExtraKey]any{
		"path":               path,
		logging.ErrorMessage: fmt.Sprint(err),
	})
	t.opts.Handler(LinkLost{Path: path, Err: err})
}

// JoinRoom declares membership by broadcasting a user-joined frame. No peer
// can refuse it. Peers that become reachable later learn about the user from
// the user-present frame sent when their channel opens.
func (t *Transport) JoinRoom(user domain.User) error {
	t.mu.Lock()
	if t.user != nil && t.user.RoomCode != user.RoomCode {
		t.members = make(map[string]domain.Presence)
	}
	u := user
	t.user = &u
	t.mu.Unlock()

	err := t.broadcast(Frame{
		Type:      FrameUserJoined,
		RoomCode:  user.RoomCode,
		UserName:  user.DisplayName,
		UserID:    t.opts.SelfID,
		Timestamp: domain.FormatTimestamp(time.Now()),
	})
	if errors.Is(err, ErrNoPeers) {
		t.opts.Logger.Debug(logging.DirectLink, logging.Membership, "no peer reachable yet, join announced on connect", nil)
		return nil
	}
	return err
}

// announce tells a newly reachable peer who is on this device.
func (t *Transport) announce(peerID string) {
	t.mu.Lock()
	user := t.user
	t.mu.Unlock()
	if user == nil {
		return
	}

	if err := t.broadcast(Frame{
		Type:      FrameUserPresent,
		RoomCode:  user.RoomCode,
		UserName:  user.DisplayName,
		UserID:    t.opts.SelfID,
		Timestamp: domain.FormatTimestamp(time.Now()),
	}); err != nil {
		t.opts.Logger.Debug(logging.DirectLink, logging.Membership, "presence not sent", map[logging.ExtraKey]any{
			logging.PeerID:       peerID,
			logging.ErrorMessage: err.Error(),
		})
	}
}

// SendMessage writes msg to the open path. It fails with
// domain.ErrNoActiveLink when no path is open.
func (t *Transport) SendMessage(msg domain.Message) error {
	m := msg
	return t.broadcast(Frame{Type: FrameMessage, RoomCode: msg.RoomCode, Message: &m})
}

func (t *Transport) broadcast(f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}

	t.mu.Lock()
	link := t.link
	t.mu.Unlock()

	if link == nil {
		return domain.ErrNoActiveLink
	}
	if err := link.Send(data); err != nil {
		if errors.Is(err, domain.ErrNoActiveLink) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrNoActiveLink, err)
	}
	return nil
}

func (t *Transport) receive(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		t.opts.Logger.Warn(logging.DirectLink, logging.Frame, "dropping malformed frame", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
			"bytes":              len(data),
		})
		return
	}

	t.mu.Lock()
	user := t.user
	t.mu.Unlock()

	if user == nil || f.RoomCode != user.RoomCode {
		return
	}

	switch f.Type {
	case FrameMessage:
		if f.Message.SenderID == t.opts.SelfID {
			return
		}
		t.opts.Handler(MessageReceived{Message: *f.Message})

	case FrameUserJoined, FrameUserPresent:
		if f.UserID == t.opts.SelfID {
			return
		}
		who := domain.Presence{UserName: f.UserName, UserID: f.UserID, Timestamp: f.Timestamp}

		t.mu.Lock()
		_, known := t.members[f.UserID]
		t.members[f.UserID] = who
		t.mu.Unlock()

		if f.Type == FrameUserJoined {
			if err := t.broadcast(Frame{
				Type:      FrameUserPresent,
				RoomCode:  user.RoomCode,
				UserName:  user.DisplayName,
				UserID:    t.opts.SelfID,
				Timestamp: domain.FormatTimestamp(time.Now()),
			}); err != nil {
				t.opts.Logger.Debug(logging.DirectLink, logging.Membership, "presence ack not sent", map[logging.ExtraKey]any{
					logging.PeerID:       f.UserID,
					logging.ErrorMessage: err.Error(),
				})
			}
		}
		if !known {
			t.opts.Handler(PeerJoined{Peer: who})
		}

	case FrameUserLeft:
		t.mu.Lock()
		who, known := t.members[f.UserID]
		delete(t.members, f.UserID)
		t.mu.Unlock()

		if known {
			who.Timestamp = f.Timestamp
			t.opts.Handler(PeerLeft{Peer: who})
		}
	}
}

// ActivePath names the open path, or "" when none is open.
func (t *Transport) ActivePath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// Members returns the peers that declared themselves in the current room,
// ordered by name.
func (t *Transport) Members() []domain.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := make([]domain.Presence, 0, len(t.members))
	for _, p := range t.members {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UserName == list[j].UserName {
			return list[i].UserID < list[j].UserID
		}
		return list[i].UserName < list[j].UserName
	})
	return list
}

// Close announces departure and closes the open path.
func (t *Transport) Close() error {
	t.mu.Lock()
	user := t.user
	t.mu.Unlock()

	if user != nil {
		_ = t.broadcast(Frame{
			Type:      FrameUserLeft,
			RoomCode:  user.RoomCode,
			UserName:  user.DisplayName,
			UserID:    t.opts.SelfID,
			Timestamp: domain.FormatTimestamp(time.Now()),
		})
	}

	t.mu.Lock()
	link := t.link
	t.link = nil
	t.path = ""
	t.user = nil
	t.members = make(map[string]domain.Presence)
	t.mu.Unlock()

	if link == nil {
		return nil
	}
	return link.Close()
}
