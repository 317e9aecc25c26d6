package coordinator

import (
	"context"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/keys"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/transport/directlink"
)

// onDirect normalizes one direct-link event.
func (c *Coordinator) onDirect(epoch uint64, ev directlink.Event) {
	if !c.current(epoch) {
		return
	}

	switch e := ev.(type) {
	case directlink.Connected:
		c.mu.Lock()
		c.connecting = false
		c.connected = true
		c.mu.Unlock()
		c.emit(epoch, Connected{Mode: ModeDirect, Path: e.Path, UserID: c.selfID})

	case directlink.LinkLost:
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.emit(epoch, Disconnected{Mode: ModeDirect, Err: e.Err})

	case directlink.MessageReceived:
		msg := e.Message
		msg.Text = c.open(c.currentCipher(), msg.Text)
		if !c.storeMessage(msg) {
			c.opts.Logger.Debug(logging.DirectLink, logging.Delivery, "dropping duplicate message", map[logging.ExtraKey]any{
				logging.MessageID: msg.ID,
			})
			return
		}
		c.emit(epoch, MessageReceived{Message: c.toChat([]domain.Message{msg})[0]})

	case directlink.PeerJoined:
		c.emit(epoch, MemberJoined{Member: e.Peer})
		c.emitDirectMembers(epoch)

	case directlink.PeerLeft:
		c.emit(epoch, MemberLeft{Member: e.Peer})
		c.emitDirectMembers(epoch)
	}
}

// joinDirect announces the user and replays the room from the local store,
// the only history a server-less room has.
func (c *Coordinator) joinDirect(epoch uint64, t DirectTransport, user domain.User) {
	if err := t.JoinRoom(user); err != nil {
		c.emit(epoch, Error{Kind: kindOf(err), Detail: "join announcement not delivered", Err: err})
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	stored, err := c.opts.Store.Messages(ctx, user.RoomCode)
	if err != nil {
		c.storeFailed("load history", err)
		stored = nil
	}
	c.emit(epoch, RoomHistory{RoomCode: user.RoomCode, Messages: c.toChat(stored)})
	c.emitDirectMembers(epoch)
}

// emitDirectMembers publishes the advisory member list: this device first,
// then every peer that declared itself in the room.
func (c *Coordinator) emitDirectMembers(epoch uint64) {
	c.mu.Lock()
	t, user := c.direct, c.user
	c.mu.Unlock()
	if t == nil || user == nil {
		return
	}

	members := []domain.Membership{{ConnectionID: c.selfID, DisplayName: user.DisplayName, RoomCode: user.RoomCode}}
	for _, p := range t.Members() {
		members = append(members, domain.Membership{ConnectionID: p.UserID, DisplayName: p.UserName, RoomCode: user.RoomCode})
	}
	c.emit(epoch, RoomMembers{RoomCode: user.RoomCode, Members: members})
}

func (c *Coordinator) currentCipher() keys.Cipher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cipher
}
