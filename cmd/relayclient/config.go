package main

import (
	"io"
	"time"

	"github.com/spf13/pflag"
)

// Config holds client runtime configuration.
type Config struct {
	URL          string
	Reconnect    bool
	MaxRetry     time.Duration
	DialTimeout  time.Duration
	ShowControls bool
}

func parseConfig(args []string, out io.Writer) (Config, error) {
	var cfg Config
	fs := pflag.NewFlagSet("relayclient", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.URL, "url", "ws://127.0.0.1:3000/ws", "relay WebSocket URL")
	fs.BoolVar(&cfg.Reconnect, "reconnect", false, "reconnect with backoff when the relay closes the connection")
	fs.DurationVar(&cfg.MaxRetry, "max-retry-interval", 30*time.Second, "upper bound for the reconnect backoff")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", 15*time.Second, "WebSocket handshake timeout")
	fs.BoolVar(&cfg.ShowControls, "show-controls", false, "print ping and pong frames from the relay")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
