package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn serializes writes; gorilla connections allow one concurrent
// writer only.
type Conn struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

func NewConn(c *websocket.Conn) *Conn {
	return &Conn{conn: c}
}

func (w *Conn) WriteJSON(v any, deadline time.Time) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	_ = w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteJSON(v)
}

func (w *Conn) Ping(deadline time.Time) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (w *Conn) CloseWith(code int, text string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func (w *Conn) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.conn.Close()
}
