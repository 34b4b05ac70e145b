package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/relay"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/session"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/upstream"
)

// Config holds all runtime configuration derived from flags and environment.
type Config struct {
	ListenAddr     string
	Path           string
	MetricsAddr    string
	UpstreamURL    string
	APIKey         string
	Beta           string
	ConnectTimeout time.Duration
	SessionFile    string
	Debug          bool

	// TLS for the browser-facing listener; a CA file enables mTLS.
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string
	// Extra root CA trusted for the upstream endpoint.
	UpstreamCAFile string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GlobalRate      int
	ClientRate      int
	Burst           int
	MaxPairs        int
	CleanupInterval time.Duration
	ClientIdle      time.Duration
}

// parseConfig builds a Config from command line args (without the program
// name) and an environment lookup. A missing credential is an ErrConfig.
func parseConfig(args []string, getenv func(string) string, out io.Writer) (Config, error) {
	var cfg Config
	fs := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.ListenAddr, "listen", "127.0.0.1:3000", "address for browser WebSocket connections")
	fs.StringVar(&cfg.Path, "path", "/ws", "HTTP path of the WebSocket endpoint")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "127.0.0.1:9100", "metrics and health listen address (empty disables)")
	fs.StringVar(&cfg.UpstreamURL, "upstream", upstream.DefaultURL, "upstream realtime API WebSocket URL")
	fs.StringVar(&cfg.APIKey, "api-key", "", "upstream API key (default $OPENAI_API_KEY)")
	fs.StringVar(&cfg.Beta, "beta", upstream.DefaultBeta, "value of the OpenAI-Beta header")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", 10*time.Second, "upstream connect and handshake timeout (0 = none)")
	fs.StringVar(&cfg.SessionFile, "session-file", "", "TOML file overriding the session-init parameters")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logs and request logging")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert", "", "TLS certificate file for the WebSocket listener")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key", "", "TLS private key file for the WebSocket listener")
	fs.StringVar(&cfg.TLSCAFile, "tls-ca", "", "CA file for client certificate verification (enables mTLS)")
	fs.StringVar(&cfg.UpstreamCAFile, "upstream-ca", "", "additional CA file trusted for the upstream endpoint")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "Redis address for shared pair state (empty = in-memory)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password (default $REDIS_PASSWORD)")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	fs.IntVar(&cfg.GlobalRate, "global-rate", 0, "new pairs per second across all clients (0 = unlimited)")
	fs.IntVar(&cfg.ClientRate, "client-rate", 0, "new pairs per second per client IP (0 = unlimited)")
	fs.IntVar(&cfg.Burst, "burst", 5, "token bucket capacity for the rate limits")
	fs.IntVar(&cfg.MaxPairs, "max-pairs", 0, "maximum concurrent pairs (0 = unlimited)")
	fs.DurationVar(&cfg.CleanupInterval, "cleanup-interval", time.Minute, "interval for sweeping idle per-client limiters")
	fs.DurationVar(&cfg.ClientIdle, "client-idle", 10*time.Minute, "forget per-client limiters idle for longer than this")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %w", relay.ErrConfig, err)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = getenv("OPENAI_API_KEY")
	}
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = getenv("REDIS_PASSWORD")
	}
	if cfg.APIKey == "" {
		return Config{}, fmt.Errorf("%w: OPENAI_API_KEY is not set", relay.ErrConfig)
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return Config{}, fmt.Errorf("%w: --tls-cert and --tls-key must be given together", relay.ErrConfig)
	}
	if cfg.TLSCAFile != "" && cfg.TLSCertFile == "" {
		return Config{}, fmt.Errorf("%w: --tls-ca requires --tls-cert", relay.ErrConfig)
	}
	if cfg.ConnectTimeout < 0 {
		return Config{}, fmt.Errorf("%w: negative --connect-timeout", relay.ErrConfig)
	}
	return cfg, nil
}

func (c Config) admissionEnabled() bool {
	return c.GlobalRate > 0 || c.ClientRate > 0 || c.MaxPairs > 0
}

// sessionConfig returns the session-init parameters, read from SessionFile when set.
func (c Config) sessionConfig() (session.Config, error) {
	if c.SessionFile == "" {
		return session.Default(), nil
	}
	s, err := session.LoadFile(c.SessionFile)
	if err != nil {
		return session.Config{}, fmt.Errorf("%w: %w", relay.ErrConfig, err)
	}
	return s, nil
}
