package state

import (
	"net/netip"
	"time"
)

type SparkNeighState int

const (
	NeighIdle SparkNeighState = iota
	NeighWarm
	NeighNegotiate
	NeighEstablished
)

func (s SparkNeighState) String() string {
	switch s {
	case NeighIdle:
		return "IDLE"
	case NeighWarm:
		return "WARM"
	case NeighNegotiate:
		return "NEGOTIATE"
	case NeighEstablished:
		return "ESTABLISHED"
	}
	return "UNKNOWN"
}

// SparkNeighbor is the per-(interface, peer) record. All fields are owned by
// the dispatch loop.
type SparkNeighbor struct {
	Node   string
	Domain string
	IfName string

	State SparkNeighState

	// RemoteSeqNum is the last accepted hello sequence from the peer;
	// LocalSeqSeenByRemote the most recent of our own the peer reflected.
	RemoteSeqNum         uint64
	LocalSeqSeenByRemote uint64

	TransportV4 netip.Addr
	TransportV6 netip.Addr

	// Area is assigned on successful negotiation, empty otherwise.
	Area string

	// peer-advertised hold parameters
	HeartbeatHold time.Duration
	GrHold        time.Duration

	RemoteVersion uint32
	Legacy        bool
	Restarting    bool

	NegotiateTimer *Timer
	HoldTimer      *Timer
	GrTimer        *Timer
	HandshakeTimer *Timer

	Rtt RttEstimator

	LastHeardAt time.Time
	// LastReflectedAt is when the peer last proved it hears us.
	LastReflectedAt time.Time
	// LastRxTsUs is the kernel receive timestamp of the peer's last
	// accepted hello, echoed back in our reflected neighbor info.
	LastRxTsUs uint64
}

func (n *SparkNeighbor) StopTimers() {
	if n.NegotiateTimer != nil {
		n.NegotiateTimer.Stop()
	}
	if n.HoldTimer != nil {
		n.HoldTimer.Stop()
	}
	if n.GrTimer != nil {
		n.GrTimer.Stop()
	}
	if n.HandshakeTimer != nil {
		n.HandshakeTimer.Stop()
	}
}

func (n *SparkNeighbor) Info() NeighborInfo {
	return NeighborInfo{
		NodeName:    n.Node,
		TransportV4: n.TransportV4,
		TransportV6: n.TransportV6,
	}
}
