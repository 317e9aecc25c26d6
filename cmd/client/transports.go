package main

import (
	"net/http"
	"time"

	"github.com/hilthontt/nearchat/internal/coordinator"
	"github.com/hilthontt/nearchat/internal/infrastructure/configs"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/transport/directlink"
	"github.com/hilthontt/nearchat/internal/transport/relay"
)

func relayFactory(cfg *configs.Config, logger logging.Logger) coordinator.RelayFactory {
	return func(handler func(relay.Event)) (coordinator.RelayTransport, error) {
		return relay.NewClient(relay.Options{
			URL:              cfg.Relay.URL,
			HandshakeTimeout: cfg.Relay.HandshakeTimeout,
			PingInterval:     cfg.Relay.PingInterval,
			DedupCacheSize:   cfg.Relay.DedupCacheSize,
			Handler:          handler,
			Logger:           logger,
		})
	}
}

// directFactory wires the radio path, absent on a terminal, with the WebRTC
// fallback signaled through the LAN board of cfg.DirectLink.SignalURL.
func directFactory(cfg *configs.Config, logger logging.Logger) coordinator.DirectFactory {
	return func(selfID string, handler func(directlink.Event)) (coordinator.DirectTransport, error) {
		signaler := directlink.NewHTTPSignaler(cfg.DirectLink.SignalURL, &http.Client{Timeout: 10 * time.Second})

		return directlink.NewTransport(directlink.Options{
			SelfID:  selfID,
			Primary: directlink.NewRadioOpener(directlink.NoRadio{}),
			Fallback: directlink.NewWebRTCOpener(directlink.WebRTCOptions{
				Signaler:     signaler,
				PeerID:       selfID,
				Namespace:    cfg.DirectLink.Namespace,
				ICEServers:   cfg.DirectLink.ICEServers,
				PollInterval: cfg.DirectLink.PollInterval,
				Logger:       logger,
			}),
			Handler: handler,
			Logger:  logger,
		}), nil
	}
}
