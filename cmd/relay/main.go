package main

import (
	"context"
	"expvar"
	"log"
	"runtime"

	"github.com/hilthontt/nearchat/internal/infrastructure/configs"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"github.com/hilthontt/nearchat/internal/infrastructure/metrics"
	"github.com/hilthontt/nearchat/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/nearchat/internal/infrastructure/tracing"
	"github.com/hilthontt/nearchat/internal/infrastructure/ws"
	"github.com/hilthontt/nearchat/internal/presentation/api"
	"github.com/hilthontt/nearchat/internal/presentation/handler/health"
	"github.com/hilthontt/nearchat/internal/presentation/handler/relay"
	"github.com/hilthontt/nearchat/internal/presentation/handler/rooms"
	"github.com/hilthontt/nearchat/internal/presentation/handler/signal"
	"github.com/hilthontt/nearchat/internal/session"
	"github.com/hilthontt/nearchat/internal/transport/directlink"
	"github.com/spf13/pflag"
)

func main() {
	configFlag := pflag.String("config", "", "path to the YAML config file")
	pflag.Parse()

	cfg, err := configs.Load(configs.DetermineConfigPath(*configFlag))
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	shutdownTracer, err := tracing.InitTracer(context.Background(), cfg.Tracing)
	if err != nil {
		logger.Fatal(logging.General, logging.Startup, "tracing init failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer shutdownTracer(context.Background())

	sessionMetrics := metrics.NewSession()
	registry := session.NewRegistry(session.Options{
		HistoryCapacity: cfg.Session.HistoryCapacity,
		Metrics:         sessionMetrics,
		Logger:          logger,
	})

	messageLimiter := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.MessagesPerTimeFrame, cfg.RateLimiter.TimeFrame)
	defer messageLimiter.Close()
	requestLimiter := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.RequestsPerTimeFrame, cfg.RateLimiter.TimeFrame)
	defer requestLimiter.Close()

	relayH := relay.NewHandler(registry, cfg.HTTP.AllowedOrigins, ws.ClientOptions{
		Buffer:       cfg.Session.OutboundBuffer,
		PingInterval: cfg.Relay.PingInterval,
		Limiter:      messageLimiter,
		Metrics:      sessionMetrics,
		Logger:       logger,
		Tracer:       tracing.GetTracer("nearchat/relay"),
	}, logger)

	var signalH *signal.Handler
	if cfg.HTTP.ServeSignaling {
		signalH = signal.NewHandler(directlink.NewMemorySignaler())
	}

	app := api.NewApplication(
		*cfg,
		relayH,
		rooms.NewHandler(registry),
		health.NewHandler(registry.Stats),
		signalH,
		sessionMetrics.Handler(),
		logger,
		requestLimiter,
	)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.Mount()
	if err := app.Run(mux); err != nil {
		logger.Fatal(logging.General, logging.Shutdown, "server stopped", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
