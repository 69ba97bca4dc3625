package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. RTCSIGNAL_MODE.
const EnvPrefix = "RTCSIGNAL"

// Configuration keys, shared by flags, environment and config files.
const (
	KeyURL                = "url"
	KeyMode               = "mode"
	KeyICEServers         = "ice-servers"
	KeyTURNURL            = "turn-url"
	KeyTURNUsername       = "turn-username"
	KeyTURNCredential     = "turn-credential"
	KeyRelayOnly          = "relay-only"
	KeyPortMin            = "port-min"
	KeyPortMax            = "port-max"
	KeyMDNS               = "mdns"
	KeyPingInterval       = "ping-interval"
	KeyNegotiationTimeout = "negotiation-timeout"
	KeyStatsInterval      = "stats-interval"
	KeyDebug              = "debug"
)

// RegisterFlags declares every configuration flag on fs with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String(KeyURL, "", "signaling relay WebSocket URL (ws://, wss:// or bare host)")
	fs.String(KeyMode, string(d.Mode), "candidate exchange mode: eager or deferred")
	fs.StringSlice(KeyICEServers, d.ICEServers, "STUN server URLs")
	fs.String(KeyTURNURL, "", "TURN server URL")
	fs.String(KeyTURNUsername, "", "TURN username")
	fs.String(KeyTURNCredential, "", "TURN credential")
	fs.Bool(KeyRelayOnly, false, "only use relayed (TURN) candidates")
	fs.Uint16(KeyPortMin, 0, "lowest local UDP port for ICE")
	fs.Uint16(KeyPortMax, 0, "highest local UDP port for ICE")
	fs.Bool(KeyMDNS, false, "gather and resolve mDNS (.local) candidates")
	fs.Duration(KeyPingInterval, d.PingInterval, "WebSocket keepalive interval (0 disables)")
	fs.Duration(KeyNegotiationTimeout, 0, "give up if not connected within this time (0 waits forever)")
	fs.Duration(KeyStatsInterval, d.StatsInterval, "media statistics interval (0 disables)")
	fs.Bool(KeyDebug, false, "enable debug logging")
}

// NewViper returns a viper instance bound to fs and to RTCSIGNAL_* variables.
// When file is non-empty it is read as an additional source with the lowest
// precedence after defaults.
func NewViper(fs *pflag.FlagSet, file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return v, nil
}

// Load builds a validated Config from v. Unset keys keep Default values.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	if v.IsSet(KeyMode) {
		m, err := ParseMode(v.GetString(KeyMode))
		if err != nil {
			return Config{}, err
		}
		cfg.Mode = m
	}
	if v.IsSet(KeyICEServers) {
		cfg.ICEServers = splitList(v.GetStringSlice(KeyICEServers))
	}
	if v.IsSet(KeyPingInterval) {
		cfg.PingInterval = v.GetDuration(KeyPingInterval)
	}
	if v.IsSet(KeyStatsInterval) {
		cfg.StatsInterval = v.GetDuration(KeyStatsInterval)
	}

	cfg.SignalURL = v.GetString(KeyURL)
	cfg.TURNURL = v.GetString(KeyTURNURL)
	cfg.TURNUsername = v.GetString(KeyTURNUsername)
	cfg.TURNCredential = v.GetString(KeyTURNCredential)
	cfg.RelayOnly = v.GetBool(KeyRelayOnly)
	cfg.PortMin = v.GetUint16(KeyPortMin)
	cfg.PortMax = v.GetUint16(KeyPortMax)
	cfg.MDNS = v.GetBool(KeyMDNS)
	cfg.NegotiationTimeout = v.GetDuration(KeyNegotiationTimeout)
	cfg.Debug = v.GetBool(KeyDebug)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitList flattens comma separated entries (env vars arrive as one string)
// and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
