package coordinator

import (
	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/transport/relay"
)

// onRelay normalizes one relay event. Events of a replaced or torn-down
// session are dropped before any side effect.
func (c *Coordinator) onRelay(epoch uint64, ev relay.Event) {
	if !c.current(epoch) {
		return
	}

	switch e := ev.(type) {
	case relay.Connected:
		c.mu.Lock()
		c.connecting = false
		c.connected = true
		c.relayID = e.UserID
		c.mu.Unlock()
		c.emit(epoch, Connected{Mode: ModeRelay, UserID: e.UserID})

	case relay.Disconnected:
		c.mu.Lock()
		c.connected = false
		c.stopTypingLocked()
		c.mu.Unlock()
		c.emit(epoch, Disconnected{Mode: ModeRelay, Err: e.Err})

	case relay.History:
		cipher := c.currentCipher()
		fresh := make(map[string]bool, len(e.Fresh))
		for _, msg := range e.Fresh {
			fresh[msg.ID] = true
		}

		history := make([]domain.Message, 0, len(e.Messages))
		for _, msg := range e.Messages {
			msg.Text = c.open(cipher, msg.Text)
			if fresh[msg.ID] {
				c.storeMessage(msg)
			}
			history = append(history, msg)
		}
		c.emit(epoch, RoomHistory{RoomCode: e.RoomCode, Messages: c.toChat(history)})

	case relay.MessageReceived:
		if !e.Fresh {
			c.opts.Logger.Debug(logging.Relay, logging.Delivery, "dropping redelivered message", map[logging.ExtraKey]any{
				logging.MessageID: e.Message.ID,
			})
			return
		}
		msg := e.Message
		msg.Text = c.open(c.currentCipher(), msg.Text)
		c.storeMessage(msg)
		c.emit(epoch, MessageReceived{Message: c.toChat([]domain.Message{msg})[0]})

	case relay.Members:
		c.emit(epoch, RoomMembers{RoomCode: e.RoomCode, Members: e.Members})

	case relay.UserJoined:
		c.emit(epoch, MemberJoined{Member: e.User})

	case relay.UserLeft:
		c.emit(epoch, MemberLeft{Member: e.User})

	case relay.Typing:
		if e.UserID == c.Identity() {
			return
		}
		if e.Typing {
			c.emit(epoch, UserTyping{UserName: e.UserName, UserID: e.UserID})
		} else {
			c.emit(epoch, UserStoppedTyping{UserName: e.UserName, UserID: e.UserID})
		}

	case relay.ServerError:
		c.emit(epoch, Error{Kind: kindOfCode(e.Code), Detail: e.Message})
	}
}
