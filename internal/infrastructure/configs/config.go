package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/hilthontt/nearchat/internal/infrastructure/env"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	HTTP        HTTPConfig        `koanf:"http"`
	RateLimiter RateLimiterConfig `koanf:"rateLimiter"`
	Session     SessionConfig     `koanf:"session"`
	Relay       RelayConfig       `koanf:"relay"`
	Store       StoreConfig       `koanf:"store"`
	DirectLink  DirectLinkConfig  `koanf:"directLink"`
	Typing      TypingConfig      `koanf:"typing"`
	Encryption  EncryptionConfig  `koanf:"encryption"`
	Logger      LoggerConfig      `koanf:"logger"`
	Tracing     TracingConfig     `koanf:"tracing"`
}

type HTTPConfig struct {
	Host           string        `koanf:"host"`
	Port           uint16        `koanf:"port"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	ServeSignaling bool          `koanf:"serve_signaling"`
}

type RateLimiterConfig struct {
	RequestsPerTimeFrame int           `koanf:"requestsPerTimeFrame"`
	MessagesPerTimeFrame int           `koanf:"messagesPerTimeFrame"`
	TimeFrame            time.Duration `koanf:"timeFrame"`
}

type SessionConfig struct {
	HistoryCapacity uint `koanf:"history_capacity"`
	OutboundBuffer  int  `koanf:"outbound_buffer"`
}

type RelayConfig struct {
	URL              string        `koanf:"url"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	PingInterval     time.Duration `koanf:"ping_interval"`
	DedupCacheSize   int           `koanf:"dedup_cache_size"`
}

type StoreConfig struct {
	Path     string `koanf:"path"`
	Capacity int    `koanf:"capacity"`
}

type DirectLinkConfig struct {
	SignalURL    string        `koanf:"signal_url"`
	Namespace    string        `koanf:"namespace"`
	PollInterval time.Duration `koanf:"poll_interval"`
	OpenTimeout  time.Duration `koanf:"open_timeout"`
	ICEServers   []string      `koanf:"ice_servers"`
}

type TypingConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type EncryptionConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LoggerConfig struct {
	Backend  string `koanf:"backend"`
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
	FilePath string `koanf:"file_path"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Exporter    string `koanf:"exporter"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load from YAML file if one was found
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	// HTTP defaults
	setDefault(k, "http.host", "0.0.0.0")
	setDefault(k, "http.port", 8080)
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)
	setDefault(k, "http.allowed_origins", []string{"*"})
	setDefault(k, "http.serve_signaling", true)

	// Rate limiter defaults
	setDefault(k, "rateLimiter.requestsPerTimeFrame", 60)
	setDefault(k, "rateLimiter.messagesPerTimeFrame", 20)
	setDefault(k, "rateLimiter.timeFrame", 10*time.Second)

	// Room session defaults
	setDefault(k, "session.history_capacity", 500)
	setDefault(k, "session.outbound_buffer", 64)

	// Relay client defaults
	setDefault(k, "relay.url", "ws://localhost:8080/ws")
	setDefault(k, "relay.handshake_timeout", 10*time.Second)
	setDefault(k, "relay.ping_interval", 30*time.Second)
	setDefault(k, "relay.dedup_cache_size", 2048)

	// Local store defaults
	setDefault(k, "store.path", "./nearchat.db")
	setDefault(k, "store.capacity", 1000)

	// Direct link defaults
	setDefault(k, "directLink.signal_url", "http://localhost:8080/signal")
	setDefault(k, "directLink.namespace", "nearchat")
	setDefault(k, "directLink.poll_interval", time.Second)
	setDefault(k, "directLink.open_timeout", 15*time.Second)

	setDefault(k, "typing.timeout", time.Second)
	setDefault(k, "encryption.enabled", false)

	// Logger defaults
	setDefault(k, "logger.backend", "zap")
	setDefault(k, "logger.level", "info")
	setDefault(k, "logger.encoding", "json")

	// Tracing defaults
	setDefault(k, "tracing.enabled", false)
	setDefault(k, "tracing.exporter", "otlp")
	setDefault(k, "tracing.endpoint", "http://localhost:4318/v1/traces")
	setDefault(k, "tracing.service_name", "nearchat-relay")
	setDefault(k, "tracing.environment", "development")
}

func applyEnvOverrides(k *koanf.Koanf) {
	// HTTP config from env
	if host := env.GetString("HTTP_HOST", ""); host != "" {
		k.Set("http.host", host)
	}
	if port := env.GetInt("HTTP_PORT", 0); port > 0 {
		k.Set("http.port", port)
	}
	if origin := env.GetString("CORS_ORIGIN", ""); origin != "" {
		k.Set("http.allowed_origins", splitList(origin))
	}

	// Rate limiter config from env
	if rate := env.GetInt("RATE_LIMIT_REQUESTS_PER_TIME_FRAME", 0); rate > 0 {
		k.Set("rateLimiter.requestsPerTimeFrame", rate)
	}
	if rate := env.GetInt("RATE_LIMIT_MESSAGES_PER_TIME_FRAME", 0); rate > 0 {
		k.Set("rateLimiter.messagesPerTimeFrame", rate)
	}
	if frame := env.GetDuration("RATE_LIMIT_TIME_FRAME", 0); frame > 0 {
		k.Set("rateLimiter.timeFrame", frame)
	}

	if capacity := env.GetInt("SESSION_HISTORY_CAPACITY", 0); capacity > 0 {
		k.Set("session.history_capacity", uint(capacity))
	}

	// Client side
	if url := env.GetString("RELAY_URL", ""); url != "" {
		k.Set("relay.url", url)
	}
	if path := env.GetString("STORE_PATH", ""); path != "" {
		k.Set("store.path", path)
	}
	if url := env.GetString("SIGNAL_URL", ""); url != "" {
		k.Set("directLink.signal_url", url)
	}
	if servers := env.GetString("ICE_SERVERS", ""); servers != "" {
		k.Set("directLink.ice_servers", splitList(servers))
	}
	if timeout := env.GetDuration("TYPING_TIMEOUT", 0); timeout > 0 {
		k.Set("typing.timeout", timeout)
	}
	if enabled := env.GetString("ENCRYPTION_ENABLED", ""); enabled != "" {
		k.Set("encryption.enabled", env.GetBool("ENCRYPTION_ENABLED", false))
	}

	// Logger config from env
	if backend := env.GetString("LOGGER_BACKEND", ""); backend != "" {
		k.Set("logger.backend", backend)
	}
	if level := env.GetString("LOGGER_LEVEL", ""); level != "" {
		k.Set("logger.level", level)
	}
	if path := env.GetString("LOGGER_FILE_PATH", ""); path != "" {
		k.Set("logger.file_path", path)
	}

	// Tracing config from env
	if endpoint := env.GetString("TRACING_ENDPOINT", ""); endpoint != "" {
		k.Set("tracing.endpoint", endpoint)
		k.Set("tracing.enabled", true)
	}
	if exporter := env.GetString("TRACING_EXPORTER", ""); exporter != "" {
		k.Set("tracing.exporter", exporter)
	}
	if environment := env.GetString("ENVIRONMENT", ""); environment != "" {
		k.Set("tracing.environment", environment)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
