package relay

import (
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/infrastructure/ws"
	"github.com/hilthontt/nearchat/internal/session"
)

type Handler struct {
	registry *session.Registry
	upgrader websocket.Upgrader
	opts     ws.ClientOptions
	logger   logging.Logger
}

// NewHandler builds the websocket endpoint. allowedOrigins containing "*"
// accepts any origin.
func NewHandler(registry *session.Registry, allowedOrigins []string, opts ws.ClientOptions, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts.Logger = logger

	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		opts:   opts,
		logger: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// ServeWS upgrades the request and serves one relay connection until it
// closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(logging.Relay, logging.Connection, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.ClientIp:     r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	id := uuid.NewString()
	h.logger.Info(logging.Relay, logging.Connection, "connection accepted", map[logging.ExtraKey]any{
		logging.ConnectionID: id,
		logging.ClientIp:     r.RemoteAddr,
	})

	ws.NewClient(conn, id, h.registry, h.opts).Serve(r.Context())

	h.logger.Info(logging.Relay, logging.Connection, "connection closed", map[logging.ExtraKey]any{
		logging.ConnectionID: id,
	})
}
