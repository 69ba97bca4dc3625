// Package config holds the runtime configuration and its loading rules.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Mode selects how local ICE candidates are released to the peer.
type Mode string

const (
	// ModeEager forwards local candidates as soon as the local description is set.
	ModeEager Mode = "eager"
	// ModeDeferred waits until "reqice" has been both sent and received.
	ModeDeferred Mode = "deferred"
)

var (
	ErrInvalidMode = errors.New("invalid candidate mode")
	ErrMissingURL  = errors.New("missing signaling URL")
)

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeEager, "":
		return ModeEager, nil
	case ModeDeferred:
		return ModeDeferred, nil
	default:
		return "", fmt.Errorf("%w: %q (want eager or deferred)", ErrInvalidMode, s)
	}
}

// DefaultSTUNServers are used when no ICE server is configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config stores every parameter of one signaling session.
type Config struct {
	SignalURL string // relay WebSocket URL
	Mode      Mode

	ICEServers     []string // STUN/TURN URLs without credentials
	TURNURL        string
	TURNUsername   string
	TURNCredential string
	RelayOnly      bool // ICE transport policy "relay"

	PortMin uint16 // ephemeral UDP range; both zero = OS default
	PortMax uint16
	MDNS    bool // gather and resolve .local candidates

	PingInterval       time.Duration // WS keepalive; zero disables
	NegotiationTimeout time.Duration // zero waits forever
	StatsInterval      time.Duration // zero disables the media reporter

	Debug bool
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Mode:          ModeEager,
		ICEServers:    append([]string(nil), DefaultSTUNServers...),
		PingInterval:  20 * time.Second,
		StatsInterval: 10 * time.Second,
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.SignalURL == "" {
		return ErrMissingURL
	}
	u, err := NormalizeURL(c.SignalURL)
	if err != nil {
		return err
	}
	c.SignalURL = u

	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}

	if (c.PortMin == 0) != (c.PortMax == 0) || c.PortMin > c.PortMax {
		return fmt.Errorf("invalid UDP port range %d-%d", c.PortMin, c.PortMax)
	}

	if c.TURNURL != "" && (c.TURNUsername == "" || c.TURNCredential == "") {
		return fmt.Errorf("TURN server %s needs a username and credential", c.TURNURL)
	}
	if c.RelayOnly && c.TURNURL == "" {
		return errors.New("relay-only policy requires a TURN server")
	}

	if c.PingInterval < 0 || c.NegotiationTimeout < 0 || c.StatsInterval < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// NormalizeURL validates and normalizes a raw WebSocket URL string. A bare
// host gets the wss scheme and the /ws path; explicit paths and queries are
// kept.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL scheme: %s", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	u.Fragment = ""
	return u.String(), nil
}
