package directlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/pion/webrtc/v4"
)

const (
	PathRadio  = "radio"
	PathWebRTC = "webrtc"

	dataChannelLabel    = "nearchat"
	defaultPollInterval = time.Second
	iceGatherTimeout    = 15 * time.Second
	answerTimeout       = 30 * time.Second
)

type WebRTCOptions struct {
	Signaler  Signaler
	PeerID    string
	Namespace string
	// ICEServers are STUN/TURN URLs. Empty means host candidates only,
	// which is enough on a single LAN.
	ICEServers   []string
	PollInterval time.Duration
	Logger       logging.Logger
}

// WebRTCOpener opens the fallback path: a mesh of ordered data channels to
// every peer announced in the namespace. For each pair the peer with the
// lexicographically smaller id makes the offer.
type WebRTCOpener struct {
	opts WebRTCOptions
}

func NewWebRTCOpener(opts WebRTCOptions) *WebRTCOpener {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Namespace == "" {
		opts.Namespace = "nearchat"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &WebRTCOpener{opts: opts}
}

func (o *WebRTCOpener) Name() string { return PathWebRTC }

func (o *WebRTCOpener) Open(ctx context.Context, h LinkHandler) (Link, error) {
	if o.opts.Signaler == nil || o.opts.PeerID == "" {
		return nil, fmt.Errorf("%w: webrtc fallback needs a signaler and a peer id", domain.ErrTransportInit)
	}
	if err := o.opts.Signaler.Announce(ctx, o.opts.Namespace, o.opts.PeerID); err != nil {
		return nil, fmt.Errorf("%w: announce on signaling board: %v", domain.ErrTransportInit, err)
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	loopCtx, cancel := context.WithCancel(context.Background())
	m := &meshLink{
		opts:    o.opts,
		handler: h,
		api:     webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		peers:   make(map[string]*meshPeer),
		cancel:  cancel,
	}

	m.wg.Add(1)
	go m.run(loopCtx)

	return m, nil
}

type meshLink struct {
	opts    WebRTCOptions
	handler LinkHandler
	api     *webrtc.API

	mu     sync.Mutex
	peers  map[string]*meshPeer
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type meshPeer struct {
	id       string
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	offerer  bool
	answered bool
	started  time.Time
}

func (m *meshLink) Send(data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrNoActiveLink
	}
	channels := make([]*webrtc.DataChannel, 0, len(m.peers))
	for _, p := range m.peers {
		if p.dc != nil && p.dc.ReadyState() == webrtc.DataChannelStateOpen {
			channels = append(channels, p.dc)
		}
	}
	m.mu.Unlock()

	if len(channels) == 0 {
		return ErrNoPeers
	}

	var errs []error
	for _, dc := range channels {
		if err := dc.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *meshLink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	peers := m.peers
	m.peers = make(map[string]*meshPeer)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.opts.Signaler.Withdraw(ctx, m.opts.Namespace, m.opts.PeerID); err != nil {
		m.opts.Logger.Warn(logging.DirectLink, logging.Connection, "withdraw from signaling board failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	for _, p := range peers {
		_ = p.pc.Close()
	}
	return nil
}

// Peers returns the ids of peers with an open data channel.
func (m *meshLink) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, p := range m.peers {
		if p.dc != nil && p.dc.ReadyState() == webrtc.DataChannelStateOpen {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *meshLink) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		m.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *meshLink) poll(ctx context.Context) {
	sig := m.opts.Signaler
	ns, self := m.opts.Namespace, m.opts.PeerID

	peers, err := sig.Peers(ctx, ns)
	if err != nil {
		m.warn("listing peers failed", err)
	}
	for _, id := range peers {
		if id <= self {
			continue
		}
		if p := m.reserve(id, true); p != nil {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				if err := m.offer(ctx, p); err != nil {
					m.warn("offer to "+p.id+" failed", err)
					m.drop(p)
				}
			}()
		}
	}

	offers, err := sig.PollOffers(ctx, ns, self)
	if err != nil {
		m.warn("polling offers failed", err)
	}
	for _, offer := range offers {
		p := m.replace(offer.PeerID)
		if p == nil {
			continue
		}
		m.wg.Add(1)
		go func(sdp string) {
			defer m.wg.Done()
			if err := m.answer(ctx, p, sdp); err != nil {
				m.warn("answering "+p.id+" failed", err)
				m.drop(p)
			}
		}(offer.SDP)
	}

	answers, err := sig.PollAnswers(ctx, ns, self)
	if err != nil {
		m.warn("polling answers failed", err)
	}
	for _, answer := range answers {
		m.accept(answer)
	}

	m.expire()
}

// reserve registers a new outbound peer, or returns nil if one exists.
func (m *meshLink) reserve(id string, offerer bool) *meshPeer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	if _, ok := m.peers[id]; ok {
		return nil
	}
	p := &meshPeer{id: id, offerer: offerer, started: time.Now()}
	m.peers[id] = p
	return p
}

// replace registers an inbound peer, tearing down a stale connection to the
// same id: a fresh offer means the other side restarted.
func (m *meshLink) replace(id string) *meshPeer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	if old, ok := m.peers[id]; ok && old.pc != nil {
		go old.pc.Close()
	}
	p := &meshPeer{id: id, started: time.Now()}
	m.peers[id] = p
	return p
}

func (m *meshLink) drop(p *meshPeer) {
	m.mu.Lock()
	current, ok := m.peers[p.id]
	if ok && current == p {
		delete(m.peers, p.id)
	}
	pc := p.pc
	m.mu.Unlock()

	if pc != nil {
		go pc.Close()
	}
}

func (m *meshLink) expire() {
	m.mu.Lock()
	var stale []*meshPeer
	for _, p := range m.peers {
		if p.offerer && !p.answered && time.Since(p.started) > answerTimeout {
			stale = append(stale, p)
		}
	}
	m.mu.Unlock()

	for _, p := range stale {
		m.drop(p)
	}
}

func (m *meshLink) newPeerConnection(p *meshPeer) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(m.opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: m.opts.ICEServers}}
	}

	pc, err := m.api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.drop(p)
		}
	})

	m.mu.Lock()
	p.pc = pc
	m.mu.Unlock()
	return pc, nil
}

func (m *meshLink) attach(p *meshPeer, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		m.mu.Lock()
		p.dc = dc
		m.mu.Unlock()
		m.opts.Logger.Info(logging.DirectLink, logging.Connection, "data channel open", map[logging.ExtraKey]any{
			logging.PeerID: p.id,
		})
		if m.handler.OnPeer != nil {
			m.handler.OnPeer(p.id)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if m.handler.OnFrame != nil {
			m.handler.OnFrame(msg.Data)
		}
	})
	dc.OnClose(func() {
		m.drop(p)
	})
}

func (m *meshLink) offer(ctx context.Context, p *meshPeer) error {
	pc, err := m.newPeerConnection(p)
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating data channel: %w", err)
	}
	m.attach(p, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	sdp, err := m.gather(ctx, pc, offer)
	if err != nil {
		return err
	}

	return m.opts.Signaler.PublishOffer(ctx, m.opts.Namespace, m.opts.PeerID, p.id, sdp)
}

func (m *meshLink) answer(ctx context.Context, p *meshPeer, offerSDP string) error {
	pc, err := m.newPeerConnection(p)
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == dataChannelLabel {
			m.attach(p, dc)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return fmt.Errorf("setting remote offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	sdp, err := m.gather(ctx, pc, answer)
	if err != nil {
		return err
	}

	return m.opts.Signaler.PublishAnswer(ctx, m.opts.Namespace, p.id, m.opts.PeerID, sdp)
}

func (m *meshLink) accept(answer SignalMessage) {
	m.mu.Lock()
	p, ok := m.peers[answer.PeerID]
	if !ok || !p.offerer || p.answered || p.pc == nil {
		m.mu.Unlock()
		return
	}
	p.answered = true
	pc := p.pc
	m.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		m.warn("applying answer from "+answer.PeerID+" failed", err)
		m.drop(p)
	}
}

// gather sets the local description and waits for ICE gathering so the
// published SDP carries every candidate.
func (m *meshLink) gather(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (string, error) {
	done := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-done:
	case <-time.After(iceGatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

func (m *meshLink) warn(msg string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	m.opts.Logger.Warn(logging.DirectLink, logging.ExternalService, msg, map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})
}
