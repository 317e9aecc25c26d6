package coordinator

import "time"

// typingState is the single typing countdown of the joined room. Every
// keypress replaces the timer; gen invalidates a timer that fired while
// being replaced.
type typingState struct {
	active bool
	gen    uint64
	timer  *time.Timer
}

// StartTyping signals typing on the relay and restarts the inactivity
// countdown. Only the first call of a burst reaches the server. It does
// nothing on the direct link, which has no typing signal.
func (c *Coordinator) StartTyping() {
	c.mu.Lock()
	if c.relay == nil || c.user == nil || !c.connected {
		c.mu.Unlock()
		return
	}
	rt, room := c.relay, c.user.RoomCode

	first := !c.typing.active
	c.typing.active = true
	c.typing.gen++
	gen := c.typing.gen
	if c.typing.timer != nil {
		c.typing.timer.Stop()
	}
	c.typing.timer = time.AfterFunc(c.opts.TypingTimeout, func() { c.typingExpired(gen) })
	c.mu.Unlock()

	if first {
		if err := rt.StartTyping(room); err != nil {
			c.opts.Logger.Debugf("typing start not sent: %v", err)
		}
	}
}

// StopTyping ends a typing burst immediately.
func (c *Coordinator) StopTyping() {
	c.mu.Lock()
	if !c.stopTypingLocked() || c.relay == nil || c.user == nil {
		c.mu.Unlock()
		return
	}
	rt, room := c.relay, c.user.RoomCode
	c.mu.Unlock()

	if err := rt.StopTyping(room); err != nil {
		c.opts.Logger.Debugf("typing stop not sent: %v", err)
	}
}

func (c *Coordinator) typingExpired(gen uint64) {
	c.mu.Lock()
	if c.typing.gen != gen || !c.typing.active || c.relay == nil || c.user == nil {
		c.mu.Unlock()
		return
	}
	c.stopTypingLocked()
	rt, room := c.relay, c.user.RoomCode
	c.mu.Unlock()

	if err := rt.StopTyping(room); err != nil {
		c.opts.Logger.Debugf("typing stop not sent: %v", err)
	}
}

// stopTypingLocked cancels the countdown and reports whether a burst was
// in progress.
func (c *Coordinator) stopTypingLocked() bool {
	wasActive := c.typing.active
	c.typing.active = false
	c.typing.gen++
	if c.typing.timer != nil {
		c.typing.timer.Stop()
		c.typing.timer = nil
	}
	return wasActive
}
