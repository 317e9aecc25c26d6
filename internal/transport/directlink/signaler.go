package directlink

import "context"

// Signaler exchanges WebRTC session descriptions between peers sharing a
// namespace. Connection setup uses vanilla ICE: candidates are gathered
// before the SDP is published, so one offer/answer round-trip is enough.
type Signaler interface {
	// Announce registers peerID as present in the namespace.
	Announce(ctx context.Context, namespace, peerID string) error
	Withdraw(ctx context.Context, namespace, peerID string) error
	Peers(ctx context.Context, namespace string) ([]string, error)

	PublishOffer(ctx context.Context, namespace, offerer, target, sdp string) error
	PublishAnswer(ctx context.Context, namespace, offerer, answerer, sdp string) error

	// PollOffers returns and consumes the offers addressed to peerID.
	PollOffers(ctx context.Context, namespace, peerID string) ([]SignalMessage, error)
	// PollAnswers returns and consumes the answers to offers made by peerID.
	PollAnswers(ctx context.Context, namespace, peerID string) ([]SignalMessage, error)
}

// SignalMessage is an offer or an answer. PeerID is the other party.
type SignalMessage struct {
	PeerID    string `json:"peerId"`
	SDP       string `json:"sdp"`
	Timestamp string `json:"timestamp"`
}

const signalingSeparator = "|"
