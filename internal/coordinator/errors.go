package coordinator

import (
	"errors"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/ws"
)

type ErrorKind string

const (
	KindTransportInit  ErrorKind = "transport_init"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindNoActiveLink   ErrorKind = "no_active_link"
	KindMalformedFrame ErrorKind = "malformed_frame"
	KindRateLimited    ErrorKind = "rate_limited"
	KindServer         ErrorKind = "server"
	KindStore          ErrorKind = "store"
)

// kindOf classifies a transport error.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, domain.ErrTransportInit):
		return KindTransportInit
	case errors.Is(err, domain.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, domain.ErrNoActiveLink), errors.Is(err, domain.ErrNotConnected):
		return KindNoActiveLink
	case errors.Is(err, domain.ErrMalformedFrame):
		return KindMalformedFrame
	case errors.Is(err, domain.ErrRateLimited):
		return KindRateLimited
	}
	return KindServer
}

// kindOfCode maps a relay error frame code.
func kindOfCode(code string) ErrorKind {
	switch code {
	case ws.CodeUnauthorized:
		return KindUnauthorized
	case ws.CodeRateLimited:
		return KindRateLimited
	case ws.CodeInvalidFrame:
		return KindMalformedFrame
	}
	return KindServer
}
