// Package relay is the client side of the relay wire protocol: one websocket
// to the room session server, a join buffered until the server acknowledges
// the connection and history dedup by message id.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/infrastructure/ws"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	writeWait             = 10 * time.Second
	defaultHandshake      = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultDedupCacheSize = 4096
)

type Options struct {
	// URL is the websocket endpoint, for example ws://host:8080/ws.
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	// DedupCacheSize bounds how many message ids are remembered.
	DedupCacheSize int
	// Handler receives every event from a single goroutine, in arrival order.
	Handler func(Event)
	Logger  logging.Logger
}

type Client struct {
	opts Options
	seen *lru.Cache[string, struct{}]

	mu      sync.Mutex
	state   State
	current *link
	userID  string
	pending *domain.User
	room    string
}

// link is one websocket session. A new Connect after Close gets a new link,
// so a late read error on the old one is recognized and ignored.
type link struct {
	raw  *websocket.Conn
	conn *ws.Conn
	done chan struct{}
	once sync.Once
}

func (l *link) stop() {
	l.once.Do(func() { close(l.done) })
}

func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("relay: url is required")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshake
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.DedupCacheSize <= 0 {
		opts.DedupCacheSize = defaultDedupCacheSize
	}
	if opts.Handler == nil {
		opts.Handler = func(Event) {}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	seen, err := lru.New[string, struct{}](opts.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("relay: dedup cache: %w", err)
	}

	return &Client{opts: opts, seen: seen, state: StateIdle}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserID is the connection identity assigned by the server, empty until
// the connection is acknowledged.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Connect dials the relay. It is a no-op while a connection is open or
// being opened. Dial failures wrap domain.ErrTransportInit.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateJoined:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	raw, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %v", domain.ErrTransportInit, c.opts.URL, err)
	}

	l := &link{raw: raw, conn: ws.NewConn(raw), done: make(chan struct{})}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while dialing.
		c.mu.Unlock()
		_ = raw.Close()
		return fmt.Errorf("%w: closed while connecting", domain.ErrTransportInit)
	}
	c.current = l
	c.mu.Unlock()

	c.opts.Logger.Info(logging.Relay, logging.Connection, "relay connected", map[logging.ExtraKey]any{
		logging.Path: c.opts.URL,
	})

	go c.pingLoop(l)
	go c.readLoop(l)
	return nil
}

// JoinRoom asks the server to join user.RoomCode. Before the connection is
// acknowledged the request is held and sent on acknowledgement.
func (c *Client) JoinRoom(user domain.User) error {
	c.mu.Lock()
	l := c.current
	ready := l != nil && (c.state == StateConnected || c.state == StateJoined)
	if !ready {
		c.pending = &user
		c.mu.Unlock()
		return nil
	}
	c.room = user.RoomCode
	c.mu.Unlock()

	return c.write(l, ws.JoinRoom, ws.JoinRoomPayload{UserName: user.DisplayName, RoomCode: user.RoomCode})
}

func (c *Client) SendMessage(roomCode, text string) error {
	l, err := c.activeLink()
	if err != nil {
		return err
	}
	return c.write(l, ws.SendMessage, ws.SendMessagePayload{Message: text, RoomCode: roomCode})
}

func (c *Client) StartTyping(roomCode string) error {
	return c.typing(ws.TypingStart, roomCode)
}

func (c *Client) StopTyping(roomCode string) error {
	return c.typing(ws.TypingStop, roomCode)
}

func (c *Client) typing(event, roomCode string) error {
	l, err := c.activeLink()
	if err != nil {
		return err
	}
	return c.write(l, event, ws.RoomPayload{RoomCode: roomCode})
}

// Close tears the connection down. No Disconnected event follows.
func (c *Client) Close() error {
	c.mu.Lock()
	l := c.current
	c.current = nil
	c.pending = nil
	c.room = ""
	c.userID = ""
	if c.state != StateIdle {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	l.stop()
	l.conn.CloseWith(websocket.CloseNormalClosure, "bye")
	return l.conn.Close()
}

func (c *Client) activeLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || (c.state != StateConnected && c.state != StateJoined) {
		return nil, domain.ErrNotConnected
	}
	return c.current, nil
}

func (c *Client) write(l *link, event string, data any) error {
	f, err := ws.NewFrame(event, data)
	if err != nil {
		return err
	}
	if err := l.conn.WriteJSON(f, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("relay: write %s: %w", event, err)
	}
	return nil
}

func (c *Client) pingLoop(l *link) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.conn.Ping(time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-l.done:
			return
		}
	}
}

func (c *Client) readLoop(l *link) {
	defer l.stop()

	for {
		_, data, err := l.raw.ReadMessage()
		if err != nil {
			c.dropped(l, err)
			return
		}

		frame, err := ws.ParseFrame(data)
		if err != nil {
			c.malformed(err)
			continue
		}
		c.handle(l, frame)
	}
}

// dropped reports an unexpected loss of l. A link replaced or closed by
// Close is silent.
func (c *Client) dropped(l *link, err error) {
	c.mu.Lock()
	if c.current != l {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	_ = l.conn.Close()
	c.opts.Logger.Warn(logging.Relay, logging.Connection, "relay connection lost", map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})
	c.opts.Handler(Disconnected{Err: err})
}

func (c *Client) malformed(err error) {
	c.opts.Logger.Warn(logging.Relay, logging.Frame, "dropping malformed frame", map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})
}

func (c *Client) handle(l *link, f ws.Frame) {
	switch f.Event {
	case ws.ConnectionAck:
		var p ws.ConnectionAckPayload
		if err := f.Decode(&p); err != nil {
			c.malformed(err)
			return
		}
		c.acknowledged(l, p.UserID)

	case ws.RoomHistory:
		var history []domain.Message
		if err := f.Decode(&history); err != nil {
			c.malformed(err)
			return
		}
		c.mu.Lock()
		c.state = StateJoined
		room := c.room
		c.mu.Unlock()

		fresh := make([]domain.Message, 0, len(history))
		for _, msg := range history {
			if c.markSeen(msg.ID) {
				fresh = append(fresh, msg)
			}
		}
		c.opts.Handler(History{RoomCode: room, Messages: history, Fresh: fresh})

	case ws.NewMessage:
		var msg domain.Message
		if err := f.Decode(&msg); err != nil {
			c.malformed(err)
			return
		}
		c.opts.Handler(MessageReceived{Message: msg, Fresh: c.markSeen(msg.ID)})

	case ws.RoomUsers:
		var members []domain.Membership
		if err := f.Decode(&members); err != nil {
			c.malformed(err)
			return
		}
		c.mu.Lock()
		room := c.room
		c.mu.Unlock()
		c.opts.Handler(Members{RoomCode: room, Members: members})

	case ws.UserJoined, ws.UserLeft:
		var who domain.Presence
		if err := f.Decode(&who); err != nil {
			c.malformed(err)
			return
		}
		if f.Event == ws.UserJoined {
			c.opts.Handler(UserJoined{User: who})
		} else {
			c.opts.Handler(UserLeft{User: who})
		}

	case ws.UserTyping, ws.UserStoppedTyping:
		var p ws.TypingPayload
		if err := f.Decode(&p); err != nil {
			c.malformed(err)
			return
		}
		c.opts.Handler(Typing{UserName: p.UserName, UserID: p.UserID, Typing: f.Event == ws.UserTyping})

	case ws.ErrorEvent:
		var p ws.ErrorPayload
		if err := f.Decode(&p); err != nil {
			c.malformed(err)
			return
		}
		c.opts.Logger.Debug(logging.Relay, logging.Frame, "server rejected action", map[logging.ExtraKey]any{
			logging.ErrorMessage: p.Message,
			"code":               p.Code,
		})
		c.opts.Handler(ServerError{Code: p.Code, Message: p.Message})

	default:
		c.malformed(fmt.Errorf("%w: unknown event %q", domain.ErrMalformedFrame, f.Event))
	}
}

func (c *Client) acknowledged(l *link, userID string) {
	c.mu.Lock()
	if c.current != l {
		c.mu.Unlock()
		return
	}
	c.userID = userID
	c.state = StateConnected
	pending := c.pending
	c.pending = nil
	if pending != nil {
		c.room = pending.RoomCode
	}
	c.mu.Unlock()

	c.opts.Handler(Connected{UserID: userID})

	if pending != nil {
		err := c.write(l, ws.JoinRoom, ws.JoinRoomPayload{UserName: pending.DisplayName, RoomCode: pending.RoomCode})
		if err != nil {
			c.opts.Logger.Warn(logging.Relay, logging.Membership, "buffered join failed", map[logging.ExtraKey]any{
				logging.RoomCode:     pending.RoomCode,
				logging.ErrorMessage: err.Error(),
			})
		}
	}
}

// markSeen reports whether id is new to this client.
func (c *Client) markSeen(id string) bool {
	seen, _ := c.seen.ContainsOrAdd(id, struct{}{})
	return !seen
}
