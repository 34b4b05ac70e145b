// Package session builds and sends the one-time session.update message that
// opens every upstream conversation.
package session

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/frame"
	"github.com/robert-at-pretension-io/rust-realtime-audio-web-portal/internal/proto"
)

// Config holds the conversational parameters of a session.
type Config struct {
	Modalities   []string `toml:"modalities"`
	Instructions string   `toml:"instructions"`
	Voice        string   `toml:"voice"`
}

// Default returns the parameters used when no session file is given.
func Default() Config {
	return Config{
		Modalities:   []string{"text", "audio"},
		Instructions: "You are a helpful assistant.",
		Voice:        "alloy",
	}
}

// LoadFile reads a TOML session file. Fields absent from the file keep their defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("session load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("session parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("session invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every field the upstream requires is present.
func (c Config) Validate() error {
	if len(c.Modalities) == 0 {
		return fmt.Errorf("modalities is required")
	}
	if c.Voice == "" {
		return fmt.Errorf("voice is required")
	}
	return nil
}

// Message returns the wire form of the session-init message.
func (c Config) Message() proto.SessionUpdate {
	return proto.SessionUpdate{
		Type: proto.SessionUpdateType,
		Session: proto.Session{
			Modalities:   c.Modalities,
			Instructions: c.Instructions,
			Voice:        c.Voice,
		},
	}
}

// FrameWriter is the write half of a leg.
type FrameWriter interface {
	WriteFrame(f frame.Frame) error
}

// Init encodes the session-init message and sends it as a single Text frame.
func Init(w FrameWriter, cfg Config) error {
	b, err := json.Marshal(cfg.Message())
	if err != nil {
		return fmt.Errorf("encode session.update: %w", err)
	}
	if err := w.WriteFrame(frame.Frame{Kind: frame.Text, Payload: b}); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}
	return nil
}
