package transport

import (
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	pionnet "github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rtcsignal/internal/config"
	"github.com/1ureka/rtcsignal/internal/util"
)

// Options configures the PeerConnection behind a Transport.
type Options struct {
	ICEServers []webrtc.ICEServer
	RelayOnly  bool

	PortMin uint16 // both zero = OS assigned
	PortMax uint16
	MDNS    bool

	// Net replaces the OS network stack, e.g. with a pion vnet for tests.
	Net pionnet.Net
	// LoggerFactory receives pion's internal logs; nil uses the pterm bridge.
	LoggerFactory logging.LoggerFactory
}

// OptionsFromConfig maps the user configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.ICEServers})
	}
	if cfg.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{cfg.TURNURL},
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}

	return Options{
		ICEServers: servers,
		RelayOnly:  cfg.RelayOnly,
		PortMin:    cfg.PortMin,
		PortMax:    cfg.PortMax,
		MDNS:       cfg.MDNS,
	}
}

// newAPI builds a pion API with default codecs and interceptors and the
// setting engine tuned by opts.
func newAPI(opts Options) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = opts.LoggerFactory
	if se.LoggerFactory == nil {
		se.LoggerFactory = util.NewPionLoggerFactory()
	}

	if opts.PortMin > 0 {
		if err := se.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, err
		}
	}

	if opts.MDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// newPeerConnection creates a PeerConnection from opts.
func newPeerConnection(opts Options) (*webrtc.PeerConnection, error) {
	api, err := newAPI(opts)
	if err != nil {
		return nil, err
	}

	policy := webrtc.ICETransportPolicyAll
	if opts.RelayOnly {
		policy = webrtc.ICETransportPolicyRelay
	}

	for _, s := range opts.ICEServers {
		util.LogDebug("ICE server: %v", s.URLs)
	}

	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         opts.ICEServers,
		ICETransportPolicy: policy,
	})
}
