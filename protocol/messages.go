// Package protocol defines the spark wire messages and their binary codec.
//
// Every datagram starts with a one-byte discriminator followed by the
// protobuf wire encoding of the message. Decoders skip unknown fields, so
// newer senders stay compatible with older receivers.
package protocol

import "net/netip"

const (
	MsgHello     byte = 0x01
	MsgHandshake byte = 0x02
	MsgHeartbeat byte = 0x03
)

// ReflectedNeighborInfo is one entry of a hello's neighbor list: proof of
// what the sender last heard from that neighbor.
type ReflectedNeighborInfo struct {
	// SeqSeen is the last hello sequence heard from the neighbor.
	SeqSeen uint64
	// HoldTimeMs is the sender's advertised hold time for this adjacency.
	HoldTimeMs uint64
	// LastRxTsUs is the kernel receive timestamp of the neighbor's hello
	// carrying SeqSeen, on the sender's clock. Paired with the enclosing
	// hello's SentTsUs it lets the neighbor cancel out the sender-side
	// hold when estimating RTT.
	LastRxTsUs uint64
}

type HelloMsg struct {
	Domain          string
	NodeName        string
	SeqNum          uint64
	SolicitResponse bool
	// ReflectedNeighbors lists the neighbors the sender currently hears,
	// keyed by node name.
	ReflectedNeighbors map[string]ReflectedNeighborInfo
	V4Addr             netip.Addr
	V6Addr             netip.Addr
	Version            uint32
	Restarting         bool
	SentTsUs           uint64
}

type HandshakeMsg struct {
	Domain           string
	NodeName         string
	NeighborNodeName string
	ProposedArea     string
	TransportV4      netip.Addr
	TransportV6      netip.Addr
	HeartbeatHoldMs  uint64
	GrHoldMs         uint64
	Version          uint32
	// AdjEstablished tells the receiver whether the sender already
	// considers the adjacency up; if not, the receiver answers with its
	// own handshake.
	AdjEstablished bool
}

type HeartbeatMsg struct {
	Domain   string
	NodeName string
	SeqNum   uint64
}
