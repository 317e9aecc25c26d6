package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/infrastructure/metrics"
	"github.com/hilthontt/nearchat/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/nearchat/internal/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 64 << 10
	defaultBuffer  = 64
	defaultPingGap = 30 * time.Second
)

type ClientOptions struct {
	// Buffer is the outbound frame queue length. A client whose queue
	// overflows is disconnected; it rejoins to get the room history again.
	Buffer       int
	PingInterval time.Duration
	Limiter      ratelimiter.Limiter
	Metrics      *metrics.Session
	Logger       logging.Logger
	Tracer       trace.Tracer
}

// Client is one accepted relay connection. It implements session.Outbox.
type Client struct {
	ID string

	conn     *Conn
	send     chan Frame
	done     chan struct{}
	doneOnce sync.Once
	overflow atomic.Bool

	registry *session.Registry
	opts     ClientOptions
}

var _ session.Outbox = (*Client)(nil)

func NewClient(conn *websocket.Conn, id string, registry *session.Registry, opts ClientOptions) *Client {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingGap
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	return &Client{
		ID:       id,
		conn:     NewConn(conn),
		send:     make(chan Frame, opts.Buffer),
		done:     make(chan struct{}),
		registry: registry,
		opts:     opts,
	}
}

// Serve acknowledges the connection, then pumps frames until the peer goes
// away or ctx ends. The connection's membership is released on return.
func (c *Client) Serve(ctx context.Context) {
	ack, _ := NewFrame(ConnectionAck, ConnectionAckPayload{UserID: c.ID})
	c.enqueue(ack)

	go c.writePump()

	go func() {
		select {
		case <-ctx.Done():
			c.conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
			_ = c.conn.Close()
		case <-c.done:
		}
	}()

	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.registry.Leave(c.ID)
		if c.opts.Limiter != nil {
			c.opts.Limiter.Forget(c.ID)
		}
		c.stop()
		_ = c.conn.Close()
	}()

	raw := c.conn.conn
	raw.SetReadLimit(maxFrameSize)
	pongWait := c.opts.PingInterval * 2
	_ = raw.SetReadDeadline(time.Now().Add(pongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.opts.Logger.Warn(logging.Relay, logging.Connection, "websocket read failed", map[logging.ExtraKey]any{
					logging.ConnectionID: c.ID,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := ParseFrame(data)
		if err != nil {
			c.malformed(err)
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *Client) handle(ctx context.Context, f Frame) {
	switch f.Event {
	case JoinRoom:
		var p JoinRoomPayload
		if err := f.Decode(&p); err != nil {
			c.malformed(err)
			return
		}
		c.join(ctx, p)

	case SendMessage:
		var p SendMessagePayload
		if err := f.Decode(&p); err != nil {
			c.malformed(err)
			return
		}
		c.sendMessage(ctx, p)

	case TypingStart, TypingStop:
		var p RoomPayload
		if err := f.Decode(&p); err != nil {
			c.malformed(err)
			return
		}
		if err := c.registry.Typing(c.ID, p.RoomCode, f.Event == TypingStart); err != nil {
			c.rejected(err)
		}

	default:
		c.malformed(errors.New("unknown event " + f.Event))
	}
}

func (c *Client) join(ctx context.Context, p JoinRoomPayload) {
	var span trace.Span
	if c.opts.Tracer != nil {
		_, span = c.opts.Tracer.Start(ctx, "relay.join",
			trace.WithAttributes(attribute.String("room.code", p.RoomCode), attribute.String("connection.id", c.ID)))
		defer span.End()
	}

	res, err := c.registry.Join(c.ID, p.UserName, p.RoomCode, c)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.rejected(err)
		return
	}
	if span != nil {
		span.SetAttributes(attribute.Bool("room.created", res.Created), attribute.Int("room.history", len(res.History)))
	}
}

func (c *Client) sendMessage(ctx context.Context, p SendMessagePayload) {
	if c.opts.Limiter != nil {
		if ok, _ := c.opts.Limiter.Allow(c.ID); !ok {
			if c.opts.Metrics != nil {
				c.opts.Metrics.Rejected.WithLabelValues("rate_limited").Inc()
			}
			c.rejected(domain.ErrRateLimited)
			return
		}
	}

	var span trace.Span
	if c.opts.Tracer != nil {
		_, span = c.opts.Tracer.Start(ctx, "relay.send",
			trace.WithAttributes(attribute.String("room.code", p.RoomCode), attribute.String("connection.id", c.ID)))
		defer span.End()
	}

	msg, err := c.registry.RecordMessage(c.ID, p.RoomCode, p.Message)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.rejected(err)
		return
	}
	if span != nil {
		span.SetAttributes(attribute.String("message.id", msg.ID))
	}
}

func (c *Client) rejected(err error) {
	code := CodeInvalidFrame
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		code = CodeUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		code = CodeRateLimited
	case errors.Is(err, domain.ErrInvalidRoomCode), errors.Is(err, domain.ErrInvalidDisplayName):
		code = CodeInvalidRoom
	}

	c.opts.Logger.Debug(logging.Relay, logging.Frame, "action rejected", map[logging.ExtraKey]any{
		logging.ConnectionID: c.ID,
		logging.ErrorMessage: err.Error(),
	})
	c.enqueue(NewErrorFrame(code, err.Error()))
}

func (c *Client) malformed(err error) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.MalformedFrame.Inc()
	}
	c.opts.Logger.Warn(logging.Relay, logging.Frame, "dropping malformed frame", map[logging.ExtraKey]any{
		logging.ConnectionID: c.ID,
		logging.ErrorMessage: err.Error(),
	})
	c.enqueue(NewErrorFrame(CodeInvalidFrame, err.Error()))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			if err := c.conn.WriteJSON(f, time.Now().Add(writeWait)); err != nil {
				c.opts.Logger.Warn(logging.Relay, logging.Connection, "websocket write failed", map[logging.ExtraKey]any{
					logging.ConnectionID: c.ID,
					logging.ErrorMessage: err.Error(),
				})
				c.stop()
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(time.Now().Add(writeWait)); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			if c.overflow.Load() {
				c.conn.CloseWith(websocket.CloseTryAgainLater, "send queue overflow")
			}
			return
		}
	}
}

// enqueue never blocks: it runs with the session registry locked. A full
// queue ends the connection rather than losing a frame silently.
func (c *Client) enqueue(f Frame) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- f:
	default:
		c.opts.Logger.Warn(logging.Relay, logging.Delivery, "client buffer full, disconnecting", map[logging.ExtraKey]any{
			logging.ConnectionID: c.ID,
			logging.Event:        f.Event,
		})
		if c.opts.Metrics != nil {
			c.opts.Metrics.Rejected.WithLabelValues("slow_consumer").Inc()
		}
		c.overflow.Store(true)
		c.stop()
	}
}

func (c *Client) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) enqueueEvent(event string, data any) {
	f, err := NewFrame(event, data)
	if err != nil {
		c.opts.Logger.Error(logging.Relay, logging.Frame, "encode frame", map[logging.ExtraKey]any{
			logging.Event:        event,
			logging.ErrorMessage: err.Error(),
		})
		return
	}
	c.enqueue(f)
}

func (c *Client) RoomHistory(_ string, history []domain.Message) {
	f, err := NewHistoryFrame(history)
	if err == nil {
		c.enqueue(f)
	}
}

func (c *Client) RoomUsers(_ string, members []domain.Membership) {
	f, err := NewUsersFrame(members)
	if err == nil {
		c.enqueue(f)
	}
}

func (c *Client) UserJoined(_ string, who domain.Presence) {
	c.enqueueEvent(UserJoined, who)
}

func (c *Client) UserLeft(_ string, who domain.Presence) {
	c.enqueueEvent(UserLeft, who)
}

func (c *Client) NewMessage(msg domain.Message) {
	c.enqueueEvent(NewMessage, msg)
}

func (c *Client) UserTyping(_ string, who domain.Presence, typing bool) {
	event := UserStoppedTyping
	if typing {
		event = UserTyping
	}
	c.enqueueEvent(event, TypingPayload{UserName: who.UserName, UserID: who.UserID})
}
