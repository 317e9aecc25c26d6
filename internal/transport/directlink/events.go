package directlink

import "github.com/hilthontt/nearchat/internal/domain"

// Event is everything the transport reports to its owner.
type Event interface {
	directLinkEvent()
}

// Connected reports that a path is open. Path is PathRadio or PathWebRTC.
type Connected struct {
	Path string
}

// LinkLost reports that the open path went away on its own.
type LinkLost struct {
	Path string
	Err  error
}

type MessageReceived struct {
	Message domain.Message
}

// PeerJoined is advisory: the peer declared itself a member.
type PeerJoined struct {
	Peer domain.Presence
}

type PeerLeft struct {
	Peer domain.Presence
}

func (Connected) directLinkEvent()       {}
func (LinkLost) directLinkEvent()        {}
func (MessageReceived) directLinkEvent() {}
func (PeerJoined) directLinkEvent()      {}
func (PeerLeft) directLinkEvent()        {}
