package peer

import (
	"github.com/dkeye/MeetLink/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Sender is the outgoing slot a local track was attached to.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(data []byte))
	Close() error
}

type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	SSRC() webrtc.SSRC
	ReadRTP() (*rtp.Packet, error)
}

// Transport is one peer connection. CreateOffer and CreateAnswer also set the
// result as the local description.
type Transport interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	Rollback() error
	AddICECandidate(c webrtc.ICECandidateInit) error
	CreateDataChannel(label string) (DataChannel, error)
	WriteRTCP(pkts []rtcp.Packet) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(RemoteTrack))
	OnDataChannel(fn func(DataChannel))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	Close() error
}

type TransportFactory interface {
	NewTransport(remote domain.SessionID) (Transport, error)
}

type TransportFactoryFunc func(remote domain.SessionID) (Transport, error)

func (f TransportFactoryFunc) NewTransport(remote domain.SessionID) (Transport, error) {
	return f(remote)
}
