package directlink

import (
	"context"
	"fmt"
	"sync"

	"github.com/hilthontt/nearchat/internal/domain"
)

// ServiceID identifies nearchat peers during radio discovery.
const ServiceID = "6e656172-6368-6174-0000-000000000001"

// Radio is the platform driver for the short-range radio. Only its command
// and event contract is used here; discovery, pairing and permission prompts
// belong to the driver.
type Radio interface {
	// Discover negotiates a channel with nearby devices advertising service.
	Discover(ctx context.Context, service string) (RadioChannel, error)
}

// RadioChannel is a negotiated radio characteristic.
type RadioChannel interface {
	Write(data []byte) error
	// Subscribe starts delivering notifications. onClose fires when the
	// device goes out of range or the driver drops the channel.
	Subscribe(onData func([]byte), onClose func(error)) error
	Close() error
}

// NoRadio is the driver used on hosts without radio support.
type NoRadio struct{}

func (NoRadio) Discover(context.Context, string) (RadioChannel, error) {
	return nil, fmt.Errorf("%w: radio not available on this host", domain.ErrTransportInit)
}

type RadioOpener struct {
	Radio   Radio
	Service string
}

func NewRadioOpener(radio Radio) *RadioOpener {
	if radio == nil {
		radio = NoRadio{}
	}
	return &RadioOpener{Radio: radio, Service: ServiceID}
}

func (o *RadioOpener) Name() string { return PathRadio }

func (o *RadioOpener) Open(ctx context.Context, h LinkHandler) (Link, error) {
	ch, err := o.Radio.Discover(ctx, o.Service)
	if err != nil {
		return nil, fmt.Errorf("%w: radio discovery: %v", domain.ErrTransportInit, err)
	}

	l := &radioLink{ch: ch}
	onClose := func(err error) {
		if l.markClosed() && h.OnClose != nil {
			h.OnClose(err)
		}
	}
	if err := ch.Subscribe(h.OnFrame, onClose); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: radio subscribe: %v", domain.ErrTransportInit, err)
	}
	return l, nil
}

type radioLink struct {
	ch     RadioChannel
	mu     sync.Mutex
	closed bool
}

func (l *radioLink) Send(data []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return domain.ErrNoActiveLink
	}
	return l.ch.Write(data)
}

func (l *radioLink) Close() error {
	if !l.markClosed() {
		return nil
	}
	return l.ch.Close()
}

func (l *radioLink) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	return true
}
