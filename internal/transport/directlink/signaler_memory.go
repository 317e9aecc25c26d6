package directlink

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hilthontt/nearchat/internal/domain"
)

var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler keeps signaling state in process. It backs the HTTP
// signaling board and lets tests connect peers without a network.
type MemorySignaler struct {
	mu         sync.Mutex
	namespaces map[string]*signalSpace
}

type signalSpace struct {
	peers   map[string]time.Time
	offers  map[string]SignalMessage // key: "offerer|target"
	answers map[string]SignalMessage // key: "offerer|answerer"
}

func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{namespaces: make(map[string]*signalSpace)}
}

func (s *MemorySignaler) space(namespace string) *signalSpace {
	sp, ok := s.namespaces[namespace]
	if !ok {
		sp = &signalSpace{
			peers:   make(map[string]time.Time),
			offers:  make(map[string]SignalMessage),
			answers: make(map[string]SignalMessage),
		}
		s.namespaces[namespace] = sp
	}
	return sp
}

func (s *MemorySignaler) Announce(_ context.Context, namespace, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.space(namespace).peers[peerID] = time.Now()
	return nil
}

func (s *MemorySignaler) Withdraw(_ context.Context, namespace, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.namespaces[namespace]
	if !ok {
		return nil
	}
	delete(sp.peers, peerID)
	for key := range sp.offers {
		if hasParty(key, peerID) {
			delete(sp.offers, key)
		}
	}
	for key := range sp.answers {
		if hasParty(key, peerID) {
			delete(sp.answers, key)
		}
	}
	if len(sp.peers) == 0 {
		delete(s.namespaces, namespace)
	}
	return nil
}

func (s *MemorySignaler) Peers(_ context.Context, namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.namespaces[namespace]
	if !ok {
		return nil, nil
	}
	peers := make([]string, 0, len(sp.peers))
	for id := range sp.peers {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers, nil
}

func (s *MemorySignaler) PublishOffer(_ context.Context, namespace, offerer, target, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.space(namespace).offers[offerer+signalingSeparator+target] = SignalMessage{
		PeerID:    offerer,
		SDP:       sdp,
		Timestamp: domain.FormatTimestamp(time.Now()),
	}
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, namespace, offerer, answerer, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.space(namespace).answers[offerer+signalingSeparator+answerer] = SignalMessage{
		PeerID:    answerer,
		SDP:       sdp,
		Timestamp: domain.FormatTimestamp(time.Now()),
	}
	return nil
}

func (s *MemorySignaler) PollOffers(_ context.Context, namespace, peerID string) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.namespaces[namespace]
	if !ok {
		return nil, nil
	}
	return drain(sp.offers, func(key string) bool {
		return strings.HasSuffix(key, signalingSeparator+peerID)
	}), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, namespace, peerID string) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.namespaces[namespace]
	if !ok {
		return nil, nil
	}
	return drain(sp.answers, func(key string) bool {
		return strings.HasPrefix(key, peerID+signalingSeparator)
	}), nil
}

func drain(store map[string]SignalMessage, match func(string) bool) []SignalMessage {
	var out []SignalMessage
	for key, msg := range store {
		if match(key) {
			out = append(out, msg)
			delete(store, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func hasParty(key, peerID string) bool {
	a, b, _ := strings.Cut(key, signalingSeparator)
	return a == peerID || b == peerID
}
