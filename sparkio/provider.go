// Package sparkio supplies the datagram multiplex spark runs on: one
// provider per agent, many interfaces per provider. Received packets are
// stamped with kernel receive time where the platform supports it.
package sparkio

import (
	"net/netip"
	"time"

	"github.com/encodeous/spark/state"
)

// Packet is one received datagram.
type Packet struct {
	IfName string
	From   netip.AddrPort
	RxTime time.Time
	Data   []byte
}

type Provider interface {
	// AddInterface starts rx/tx on the interface. Safe to call again
	// with updated addresses.
	AddInterface(rec state.InterfaceRecord) error
	RemoveInterface(name string) error

	// SendMulticast emits payload on the interface's link-local
	// multicast group.
	SendMulticast(ifName string, payload []byte) error
	// SendUnicast emits payload to a single link-local address out of
	// the given interface.
	SendUnicast(ifName string, to netip.Addr, payload []byte) error

	Packets() <-chan Packet
	Close() error
}
