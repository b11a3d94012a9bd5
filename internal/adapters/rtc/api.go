package rtc

import (
	"fmt"

	"github.com/dkeye/MeetLink/internal/config"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type APIOption func(*webrtc.SettingEngine)

// NewAPI builds a pion API with the default codecs and interceptors (NACK,
// RTCP reports) and pion logging routed to zerolog.
func NewAPI(opts ...APIOption) (*webrtc.API, error) {
	se := webrtc.SettingEngine{LoggerFactory: ZerologFactory{}}
	for _, opt := range opts {
		opt(&se)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

// ICEServers turns the ice config section into pion's form. TURN entries
// share one credential pair.
func ICEServers(cfg config.ICE) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, 2)
	if len(cfg.STUN) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUN})
	}
	if len(cfg.TURN) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       cfg.TURN,
			Username:   cfg.TURNUser,
			Credential: cfg.TURNPass,
		})
	}
	return servers
}
