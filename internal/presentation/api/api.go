package api

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/nearchat/internal/infrastructure/configs"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/infrastructure/ratelimiter"
	healthHandler "github.com/hilthontt/nearchat/internal/presentation/handler/health"
	relayHandler "github.com/hilthontt/nearchat/internal/presentation/handler/relay"
	roomHandler "github.com/hilthontt/nearchat/internal/presentation/handler/rooms"
	signalHandler "github.com/hilthontt/nearchat/internal/presentation/handler/signal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Application struct {
	config        configs.Config
	relayHandler  *relayHandler.Handler
	roomHandler   *roomHandler.Handler
	healthHandler *healthHandler.Handler
	// signalHandler is nil when the signaling board is disabled.
	signalHandler *signalHandler.Handler
	metrics       http.Handler
	logger        logging.Logger
	ratelimiter   ratelimiter.Limiter
}

func NewApplication(
	config configs.Config,
	relayHandler *relayHandler.Handler,
	roomHandler *roomHandler.Handler,
	healthHandler *healthHandler.Handler,
	signalHandler *signalHandler.Handler,
	metrics http.Handler,
	logger logging.Logger,
	ratelimiter ratelimiter.Limiter,
) *Application {
	return &Application{
		config:        config,
		relayHandler:  relayHandler,
		roomHandler:   roomHandler,
		healthHandler: healthHandler,
		signalHandler: signalHandler,
		metrics:       metrics,
		logger:        logger,
		ratelimiter:   ratelimiter,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(app.enableCors)

	// The websocket stays outside the timeout and rate limit middlewares:
	// it is long-lived and limits its own frames.
	r.Get("/ws", app.relayHandler.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(app.rateLimiterMiddleware)

		r.Get("/health", app.healthHandler.GetHealth)

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", app.healthHandler.GetHealth)
			r.Post("/rooms", app.roomHandler.CreateRoomHandler)
			r.Get("/rooms/{roomCode}", app.roomHandler.GetRoomHandler)
		})

		if app.signalHandler != nil {
			r.Route("/signal", app.signalHandler.Routes)
		}
	})

	if app.metrics != nil {
		r.Handle("/metrics", app.metrics)
	}
	r.Handle("/debug/vars", expvar.Handler())

	return otelhttp.NewHandler(r, "nearchat-relay",
		otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }),
	)
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully. Open relay
// connections are told to go away through the server base context.
func (app *Application) Run(mux http.Handler) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.HTTP.Host, app.config.HTTP.Port),
		Handler:      mux,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		IdleTimeout:  time.Minute,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Info(logging.General, logging.Shutdown, "signal caught", map[logging.ExtraKey]any{
			"signal": s.String(),
		})

		cancelBase()
		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})

	return nil
}
