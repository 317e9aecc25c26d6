package directlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var _ Signaler = (*HTTPSignaler)(nil)

// Request and response bodies of the signaling board.
type (
	AnnounceRequest struct {
		PeerID string `json:"peerId"`
	}
	PeersResponse struct {
		Peers []string `json:"peers"`
	}
	// SignalRequest carries an offer (From offers to To) or an answer
	// (From answers the offer made by To).
	SignalRequest struct {
		From string `json:"from"`
		To   string `json:"to"`
		SDP  string `json:"sdp"`
	}
	SignalsResponse struct {
		Signals []SignalMessage `json:"signals"`
	}
)

// HTTPSignaler talks to a signaling board served under /signal by the relay
// binary or by any peer on the LAN.
type HTTPSignaler struct {
	base   string
	client *http.Client
}

func NewHTTPSignaler(baseURL string, client *http.Client) *HTTPSignaler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSignaler{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *HTTPSignaler) Announce(ctx context.Context, namespace, peerID string) error {
	return s.do(ctx, http.MethodPost, s.path(namespace, "peers"), AnnounceRequest{PeerID: peerID}, nil)
}

func (s *HTTPSignaler) Withdraw(ctx context.Context, namespace, peerID string) error {
	return s.do(ctx, http.MethodDelete, s.path(namespace, "peers", peerID), nil, nil)
}

func (s *HTTPSignaler) Peers(ctx context.Context, namespace string) ([]string, error) {
	var resp PeersResponse
	if err := s.do(ctx, http.MethodGet, s.path(namespace, "peers"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

func (s *HTTPSignaler) PublishOffer(ctx context.Context, namespace, offerer, target, sdp string) error {
	return s.do(ctx, http.MethodPost, s.path(namespace, "offers"), SignalRequest{From: offerer, To: target, SDP: sdp}, nil)
}

func (s *HTTPSignaler) PublishAnswer(ctx context.Context, namespace, offerer, answerer, sdp string) error {
	return s.do(ctx, http.MethodPost, s.path(namespace, "answers"), SignalRequest{From: answerer, To: offerer, SDP: sdp}, nil)
}

func (s *HTTPSignaler) PollOffers(ctx context.Context, namespace, peerID string) ([]SignalMessage, error) {
	var resp SignalsResponse
	if err := s.do(ctx, http.MethodGet, s.path(namespace, "offers", peerID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Signals, nil
}

func (s *HTTPSignaler) PollAnswers(ctx context.Context, namespace, peerID string) ([]SignalMessage, error) {
	var resp SignalsResponse
	if err := s.do(ctx, http.MethodGet, s.path(namespace, "answers", peerID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Signals, nil
}

func (s *HTTPSignaler) path(namespace string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(namespace))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return s.base + "/signal/" + strings.Join(escaped, "/")
}

func (s *HTTPSignaler) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode signaling request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("signaling %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("signaling %s %s: status %d: %s", method, target, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode signaling response: %w", err)
	}
	return nil
}
