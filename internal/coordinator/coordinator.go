// Package coordinator unifies the relay and the direct-link transports
// behind one connect/join/send/typing contract and one typed event stream.
// It stamps and stores direct-link messages, stores relay messages on the
// server's echo and decides message ownership.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/keys"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/transport/directlink"
	"github.com/hilthontt/nearchat/internal/transport/relay"
)

type Mode string

const (
	ModeRelay  Mode = "relay"
	ModeDirect Mode = "direct"
)

// ParseMode accepts "relay" or "direct".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRelay, ModeDirect:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (supported modes: [relay, direct])", s)
}

const (
	defaultTypingTimeout = time.Second
	storeTimeout         = 5 * time.Second
)

// RelayTransport is the part of relay.Client the coordinator drives.
type RelayTransport interface {
	Connect(ctx context.Context) error
	JoinRoom(user domain.User) error
	SendMessage(roomCode, text string) error
	StartTyping(roomCode string) error
	StopTyping(roomCode string) error
	Close() error
}

// DirectTransport is the part of directlink.Transport the coordinator drives.
type DirectTransport interface {
	Initialize(ctx context.Context) error
	JoinRoom(user domain.User) error
	SendMessage(msg domain.Message) error
	Members() []domain.Presence
	Close() error
}

// RelayFactory builds a relay transport reporting to handler.
type RelayFactory func(handler func(relay.Event)) (RelayTransport, error)

// DirectFactory builds a direct-link transport identified by selfID.
type DirectFactory func(selfID string, handler func(directlink.Event)) (DirectTransport, error)

// Store is the local persistence the coordinator needs.
type Store interface {
	SaveUser(ctx context.Context, user domain.User) error
	CurrentUser(ctx context.Context) (domain.User, bool, error)
	AddMessage(ctx context.Context, msg domain.Message) (bool, error)
	Messages(ctx context.Context, roomCode string) ([]domain.Message, error)
	SaveKey(ctx context.Context, roomCode string, key []byte) error
	Key(ctx context.Context, roomCode string) ([]byte, bool, error)
}

type Options struct {
	Relay  RelayFactory
	Direct DirectFactory
	Store  Store
	// Encryption seals outbound text with a key derived from the room code.
	Encryption bool
	// TypingTimeout is the inactivity after which a stop-typing signal goes out.
	TypingTimeout time.Duration
	Logger        logging.Logger
}

type subscription struct {
	fn func(Event)
}

type Coordinator struct {
	opts   Options
	selfID string

	mu            sync.Mutex
	epoch         uint64
	mode          Mode
	connecting    bool
	connected     bool
	cancelConnect context.CancelFunc
	relay         RelayTransport
	direct        DirectTransport
	relayID       string
	user          *domain.User
	cipher        keys.Cipher
	subscribers   []*subscription
	typing        typingState
}

func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("coordinator: store is required")
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = defaultTypingTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	return &Coordinator{
		opts:   opts,
		selfID: uuid.NewString(),
	}, nil
}

// Subscribe registers fn for every future event. Events arrive in the order
// the active transport produced them. Disconnect drops all subscriptions.
func (c *Coordinator) Subscribe(fn func(Event)) (unsubscribe func()) {
	sub := &subscription{fn: fn}

	c.mu.Lock()
	c.subscribers = append(c.subscribers, sub)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subscribers {
			if s == sub {
				c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Identity is the sender id of this client on the active transport: the
// server-assigned connection id on the relay, the device id on the direct link.
func (c *Coordinator) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identityLocked()
}

func (c *Coordinator) identityLocked() string {
	if c.mode == ModeRelay {
		return c.relayID
	}
	return c.selfID
}

// Connect activates the transport for mode. Connecting again in the same
// mode is a no-op; another mode replaces the active transport. An init
// failure is returned and also published as an Error event.
func (c *Coordinator) Connect(ctx context.Context, mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}

	c.mu.Lock()
	if c.mode == mode && (c.connecting || c.connected) {
		c.mu.Unlock()
		return nil
	}
	closers := c.detachLocked()
	c.epoch++
	epoch := c.epoch
	connectCtx, cancel := context.WithCancel(ctx)
	c.cancelConnect = cancel
	c.mode = mode
	c.connecting = true
	c.mu.Unlock()

	closeAll(closers)

	var err error
	switch mode {
	case ModeRelay:
		err = c.connectRelay(connectCtx, epoch)
	case ModeDirect:
		err = c.connectDirect(connectCtx, epoch)
	}
	if err != nil {
		c.failConnect(epoch, err)
		return err
	}
	return nil
}

func (c *Coordinator) connectRelay(ctx context.Context, epoch uint64) error {
	if c.opts.Relay == nil {
		return fmt.Errorf("%w: relay transport not configured", domain.ErrTransportInit)
	}
	t, err := c.opts.Relay(func(ev relay.Event) { c.onRelay(epoch, ev) })
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = t.Close()
		return context.Canceled
	}
	c.relay = t
	user := c.user
	c.mu.Unlock()

	// The relay client holds the join until the server acknowledges.
	if user != nil {
		if err := t.JoinRoom(*user); err != nil {
			return err
		}
	}
	return t.Connect(ctx)
}

func (c *Coordinator) connectDirect(ctx context.Context, epoch uint64) error {
	if c.opts.Direct == nil {
		return fmt.Errorf("%w: direct-link transport not configured", domain.ErrTransportInit)
	}
	t, err := c.opts.Direct(c.selfID, func(ev directlink.Event) { c.onDirect(epoch, ev) })
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportInit, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = t.Close()
		return context.Canceled
	}
	c.direct = t
	c.mu.Unlock()

	if err := t.Initialize(ctx); err != nil {
		var fallback *directlink.FallbackError
		if !errors.As(err, &fallback) {
			return err
		}
		c.opts.Logger.Info(logging.DirectLink, logging.Fallback, "direct link running on fallback path", map[logging.ExtraKey]any{
			"path":               fallback.Fallback,
			logging.ErrorMessage: fallback.Primary.Error(),
		})
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return context.Canceled
	}
	user := c.user
	c.mu.Unlock()

	if user != nil {
		c.joinDirect(epoch, t, *user)
	}
	return nil
}

// failConnect tears down a connect attempt that is still current.
func (c *Coordinator) failConnect(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	closers := c.detachLocked()
	c.mode = ""
	c.mu.Unlock()

	closeAll(closers)

	c.opts.Logger.Warn(logging.General, logging.Connection, "transport init failed", map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})
	c.emit(epoch, Error{Kind: KindTransportInit, Detail: err.Error(), Err: err})
}

// JoinRoom joins user.RoomCode on the active transport, or holds the request
// until Connect completes.
func (c *Coordinator) JoinRoom(ctx context.Context, user domain.User) error {
	user, err := domain.NewUser(user.DisplayName, user.RoomCode)
	if err != nil {
		return err
	}

	var cipher keys.Cipher
	if c.opts.Encryption {
		if cipher, err = c.roomCipher(ctx, user.RoomCode); err != nil {
			return err
		}
	}

	if err := c.opts.Store.SaveUser(ctx, user); err != nil {
		c.storeFailed("save user", err)
	}

	c.mu.Lock()
	epoch := c.epoch
	c.user = &user
	c.cipher = cipher
	rt, dt := c.relay, c.direct
	directReady := c.connected
	c.stopTypingLocked()
	c.mu.Unlock()

	switch {
	case rt != nil:
		if err := rt.JoinRoom(user); err != nil {
			c.emit(epoch, Error{Kind: kindOf(err), Detail: "join failed", Err: err})
		}
	case dt != nil && directReady:
		c.joinDirect(epoch, dt, user)
	}
	return nil
}

// Resume re-issues the join for the user persisted by an earlier session.
func (c *Coordinator) Resume(ctx context.Context) (domain.User, bool, error) {
	user, ok, err := c.opts.Store.CurrentUser(ctx)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	if err := c.JoinRoom(ctx, user); err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

// LocalHistory returns the stored messages of the joined room.
func (c *Coordinator) LocalHistory(ctx context.Context) ([]ChatMessage, error) {
	c.mu.Lock()
	user := c.user
	c.mu.Unlock()
	if user == nil {
		return nil, domain.ErrNotJoined
	}

	stored, err := c.opts.Store.Messages(ctx, user.RoomCode)
	if err != nil {
		return nil, err
	}
	return c.toChat(stored), nil
}

// Send publishes text in the joined room. Only caller mistakes are returned:
// empty text, no room joined, no transport. Delivery problems arrive as
// Error events.
func (c *Coordinator) Send(ctx context.Context, text string) error {
	text, err := domain.ValidateText(text)
	if err != nil {
		return err
	}

	c.StopTyping()

	c.mu.Lock()
	epoch := c.epoch
	user := c.user
	rt, dt := c.relay, c.direct
	cipher := c.cipher
	c.mu.Unlock()

	if user == nil {
		return domain.ErrNotJoined
	}
	if rt == nil && dt == nil {
		return domain.ErrNotConnected
	}

	outbound := text
	if cipher != nil {
		if outbound, err = cipher.Seal(text); err != nil {
			return fmt.Errorf("seal message: %w", err)
		}
	}

	if rt != nil {
		// Stored when the server echoes it back with its own id.
		if err := rt.SendMessage(user.RoomCode, outbound); err != nil {
			c.emit(epoch, Error{Kind: kindOf(err), Detail: "send failed", Err: err})
		}
		return nil
	}

	msg := domain.NewMessage(uuid.NewString(), outbound, *user, c.selfID)
	local := msg
	local.Text = text
	if _, err := c.opts.Store.AddMessage(ctx, local); err != nil {
		c.storeFailed("add message", err)
	}

	sendErr := dt.SendMessage(msg)
	c.emit(epoch, MessageReceived{Message: ChatMessage{Message: local, IsMine: true, DeliveryFailed: sendErr != nil}})
	if sendErr != nil {
		c.opts.Logger.Warn(logging.DirectLink, logging.Delivery, "message stored but not delivered", map[logging.ExtraKey]any{
			logging.MessageID:    msg.ID,
			logging.ErrorMessage: sendErr.Error(),
		})
		c.emit(epoch, Error{Kind: KindNoActiveLink, Detail: "message stored locally, delivery failed", Err: sendErr})
	}
	return nil
}

// Disconnect tears the active transport down, cancels a pending connect or
// join and drops every subscription. It is safe to call at any time,
// including from a subscriber callback. An event whose delivery was already
// checked on another goroutine may still reach that one subscriber after
// Disconnect returns; every later event and subscriber is dropped.
func (c *Coordinator) Disconnect() error {
	c.mu.Lock()
	c.epoch++
	closers := c.detachLocked()
	c.mode = ""
	c.user = nil
	c.cipher = nil
	c.subscribers = nil
	c.mu.Unlock()

	return closeAll(closers)
}

// detachLocked forgets the active transport and returns what must be closed
// once the lock is released.
func (c *Coordinator) detachLocked() []func() error {
	var closers []func() error
	if c.cancelConnect != nil {
		cancel := c.cancelConnect
		closers = append(closers, func() error { cancel(); return nil })
		c.cancelConnect = nil
	}
	if c.relay != nil {
		closers = append(closers, c.relay.Close)
		c.relay = nil
	}
	if c.direct != nil {
		closers = append(closers, c.direct.Close)
		c.direct = nil
	}
	c.stopTypingLocked()
	c.connecting = false
	c.connected = false
	c.relayID = ""
	return closers
}

func closeAll(closers []func() error) error {
	var errs []error
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// emit delivers ev to the subscribers of epoch. The epoch is checked again
// right before each call, so a Disconnect stops delivery at the next
// subscriber. Callbacks run without any lock held.
func (c *Coordinator) emit(epoch uint64, ev Event) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	subs := append([]*subscription(nil), c.subscribers...)
	c.mu.Unlock()

	for _, sub := range subs {
		if !c.current(epoch) {
			return
		}
		sub.fn(ev)
	}
}

func (c *Coordinator) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

func (c *Coordinator) roomCipher(ctx context.Context, roomCode string) (keys.Cipher, error) {
	key, ok, err := c.opts.Store.Key(ctx, roomCode)
	if err != nil {
		return nil, fmt.Errorf("load room key: %w", err)
	}
	if !ok {
		if key, err = keys.DeriveKey(roomCode); err != nil {
			return nil, err
		}
		if err := c.opts.Store.SaveKey(ctx, roomCode, key); err != nil {
			c.storeFailed("save key", err)
		}
	}
	return keys.NewCipher(key)
}

// open reverses the room cipher. Text that is not sealed, or sealed with
// another key, is shown as received.
func (c *Coordinator) open(cipher keys.Cipher, text string) string {
	if cipher == nil || !keys.IsSealed(text) {
		return text
	}
	plain, err := cipher.Open(text)
	if err != nil {
		c.opts.Logger.Debug(logging.General, logging.Frame, "message not decrypted", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return text
	}
	return plain
}

func (c *Coordinator) toChat(msgs []domain.Message) []ChatMessage {
	c.mu.Lock()
	self := c.identityLocked()
	c.mu.Unlock()

	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ChatMessage{Message: m, IsMine: self != "" && m.SenderID == self})
	}
	return out
}

func (c *Coordinator) storeMessage(msg domain.Message) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	added, err := c.opts.Store.AddMessage(ctx, msg)
	if err != nil {
		c.storeFailed("add message", err)
		return true
	}
	return added
}

func (c *Coordinator) storeFailed(op string, err error) {
	c.opts.Logger.Error(logging.Store, logging.Delivery, "local store "+op+" failed", map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	c.emit(epoch, Error{Kind: KindStore, Detail: op, Err: err})
}
