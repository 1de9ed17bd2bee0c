package sparkio

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/encodeous/spark/state"
)

// MockConnection is one directed edge of the simulated segment.
type MockConnection struct {
	IfName  string
	Latency time.Duration
}

// MockHub simulates the L2 segments between a set of interfaces owned by
// several in-process agents. Connectivity is directional: packets flow
// from an interface only along its configured connections, after the
// configured latency. Grounded on the virtual-network harness idea: edges
// carry latency and may be removed mid-test to partition the segment.
type MockHub struct {
	mu     sync.Mutex
	owners map[string]*MockProvider
	recs   map[string]state.InterfaceRecord
	pairs  map[string][]MockConnection
	port   uint16
	closed bool
}

func NewMockHub(port uint16) *MockHub {
	return &MockHub{
		owners: make(map[string]*MockProvider),
		recs:   make(map[string]state.InterfaceRecord),
		pairs:  make(map[string][]MockConnection),
		port:   port,
	}
}

// SetConnectedPairs replaces the whole edge set.
func (h *MockHub) SetConnectedPairs(pairs map[string][]MockConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pairs = pairs
}

// Provider returns a fresh endpoint for one agent.
func (h *MockHub) Provider() *MockProvider {
	return &MockProvider{
		hub:     h,
		packets: make(chan Packet, 4096),
		names:   make(map[string]bool),
	}
}

func (h *MockHub) deliver(fromIf string, payload []byte, only netip.Addr) {
	h.mu.Lock()
	src, ok := h.recs[fromIf]
	conns := h.pairs[fromIf]
	h.mu.Unlock()
	if !ok {
		return
	}
	from := netip.AddrPortFrom(src.V6LinkLocal, h.port)
	for _, conn := range conns {
		target := conn.IfName
		data := make([]byte, len(payload))
		copy(data, payload)
		time.AfterFunc(conn.Latency, func() {
			h.mu.Lock()
			rec, ok := h.recs[target]
			owner := h.owners[target]
			closed := h.closed
			h.mu.Unlock()
			if !ok || owner == nil || closed {
				return
			}
			if only.IsValid() && rec.V6LinkLocal != only && rec.V4Cidr.Addr() != only {
				return
			}
			owner.push(Packet{
				IfName: target,
				From:   from,
				RxTime: time.Now(),
				Data:   data,
			})
		})
	}
}

func (h *MockHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// MockProvider is one agent's view of the hub.
type MockProvider struct {
	hub     *MockHub
	mu      sync.Mutex
	packets chan Packet
	names   map[string]bool
	closed  bool
}

func (p *MockProvider) AddInterface(rec state.InterfaceRecord) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if owner, ok := h.owners[rec.Name]; ok && owner != p {
		return fmt.Errorf("interface %s already owned", rec.Name)
	}
	h.owners[rec.Name] = p
	h.recs[rec.Name] = rec
	p.mu.Lock()
	p.names[rec.Name] = true
	p.mu.Unlock()
	return nil
}

func (p *MockProvider) RemoveInterface(name string) error {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owners[name] == p {
		delete(h.owners, name)
		delete(h.recs, name)
	}
	p.mu.Lock()
	delete(p.names, name)
	p.mu.Unlock()
	return nil
}

func (p *MockProvider) SendMulticast(ifName string, payload []byte) error {
	if p.isClosed() {
		return fmt.Errorf("provider closed")
	}
	p.hub.deliver(ifName, payload, netip.Addr{})
	return nil
}

func (p *MockProvider) SendUnicast(ifName string, to netip.Addr, payload []byte) error {
	if p.isClosed() {
		return fmt.Errorf("provider closed")
	}
	p.hub.deliver(ifName, payload, to)
	return nil
}

func (p *MockProvider) Packets() <-chan Packet {
	return p.packets
}

func (p *MockProvider) push(pkt Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.packets <- pkt:
	default:
	}
}

func (p *MockProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *MockProvider) Close() error {
	h := p.hub
	h.mu.Lock()
	for name, owner := range h.owners {
		if owner == p {
			delete(h.owners, name)
			delete(h.recs, name)
		}
	}
	h.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.packets)
	}
	return nil
}
