// Package rtc implements the peer transport on pion/webrtc.
package rtc

import (
	"github.com/dkeye/MeetLink/internal/client/peer"
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Factory creates one pion PeerConnection per remote participant.
type Factory struct {
	API    *webrtc.API
	Config webrtc.Configuration
}

func NewFactory(api *webrtc.API, ice []webrtc.ICEServer) *Factory {
	return &Factory{API: api, Config: webrtc.Configuration{ICEServers: ice}}
}

func (f *Factory) NewTransport(remote domain.SessionID) (peer.Transport, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if f.API != nil {
		pc, err = f.API.NewPeerConnection(f.Config)
	} else {
		pc, err = webrtc.NewPeerConnection(f.Config)
	}
	if err != nil {
		return nil, err
	}
	c := &Connection{
		pc:     pc,
		remote: remote,
		logger: log.With().Str("module", "adapters.rtc").Str("remote", string(remote)).Logger(),
	}
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})
	return c, nil
}

type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.SessionID
	logger zerolog.Logger
}

func (c *Connection) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	// Drain RTCP so interceptors (NACK, reports) keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

// Rollback discards the pending local offer. pion parses the SDP of a local
// rollback, so the pending offer is handed back.
func (c *Connection) Rollback() error {
	pending := c.pc.PendingLocalDescription()
	if pending == nil {
		return nil
	}
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback, SDP: pending.SDP})
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) CreateDataChannel(label string) (peer.DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

func (c *Connection) WriteRTCP(pkts []rtcp.Packet) error {
	return c.pc.WriteRTCP(pkts)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *Connection) OnTrack(fn func(peer.RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		fn(&remoteTrack{t: track})
	})
}

func (c *Connection) OnDataChannel(fn func(peer.DataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&dataChannel{dc: dc})
	})
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(s)
	})
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Debug().Msg("closed")
	return nil
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r *remoteTrack) ID() string                { return r.t.ID() }
func (r *remoteTrack) StreamID() string          { return r.t.StreamID() }
func (r *remoteTrack) Kind() webrtc.RTPCodecType { return r.t.Kind() }
func (r *remoteTrack) SSRC() webrtc.SSRC         { return r.t.SSRC() }

func (r *remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string                       { return d.dc.Label() }
func (d *dataChannel) ReadyState() webrtc.DataChannelState { return d.dc.ReadyState() }
func (d *dataChannel) Send(data []byte) error              { return d.dc.Send(data) }
func (d *dataChannel) OnOpen(fn func())                    { d.dc.OnOpen(fn) }
func (d *dataChannel) OnClose(fn func())                   { d.dc.OnClose(fn) }
func (d *dataChannel) Close() error                        { return d.dc.Close() }

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}
