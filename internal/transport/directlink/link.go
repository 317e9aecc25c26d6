package directlink

import (
	"context"
	"fmt"

	"github.com/hilthontt/nearchat/internal/domain"
)

// ErrNoPeers is returned by Link.Send when the link is open but no peer is
// reachable yet.
var ErrNoPeers = fmt.Errorf("%w: no peer reachable", domain.ErrNoActiveLink)

// Link is an open byte channel to zero or more nearby peers.
type Link interface {
	// Send delivers one frame to every reachable peer.
	Send(data []byte) error
	Close() error
}

// LinkHandler receives what a Link reads. OnClose fires at most once, when
// the link goes away without Close being called. OnPeer fires each time a
// channel to a peer opens, on links that reach peers one by one.
type LinkHandler struct {
	OnFrame func(data []byte)
	OnClose func(err error)
	OnPeer  func(peerID string)
}

// Opener establishes one kind of Link. Open either returns a usable link or
// an error wrapping domain.ErrTransportInit.
type Opener interface {
	Name() string
	Open(ctx context.Context, h LinkHandler) (Link, error)
}
