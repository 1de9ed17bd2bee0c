//go:build linux

package sparkio

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"
	"unsafe"

	"github.com/encodeous/spark/state"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// SparkMcastAddr is the link-local all-nodes group hellos are sent to.
var SparkMcastAddr = netip.MustParseAddr("ff02::1")

// UDPProvider multiplexes all tracked interfaces over a single UDP6 socket.
// Multicast joins are per interface; the kernel stamps receive time via
// SO_TIMESTAMPNS.
type UDPProvider struct {
	mu      sync.Mutex
	port    uint16
	conn    *net.UDPConn
	pc      *ipv6.PacketConn
	ifaces  map[string]state.InterfaceRecord
	byIndex map[int]string
	packets chan Packet
}

func NewUDPProvider(port uint16) (*UDPProvider, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified, Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("bind spark socket: %w", err)
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_TIMESTAMPNS, 1)
	})
	if err == nil {
		err = serr
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable rx timestamps: %w", err)
	}

	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv6.FlagInterface, true); err != nil {
		conn.Close()
		return nil, err
	}
	if err := pc.SetMulticastHopLimit(1); err != nil {
		conn.Close()
		return nil, err
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, err
	}

	p := &UDPProvider{
		port:    port,
		conn:    conn,
		pc:      pc,
		ifaces:  make(map[string]state.InterfaceRecord),
		byIndex: make(map[int]string),
		packets: make(chan Packet, 1024),
	}
	go p.readLoop()
	return p, nil
}

func (p *UDPProvider) AddInterface(rec state.InterfaceRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.ifaces[rec.Name]; ok && old.IfIndex == rec.IfIndex {
		// address refresh only
		p.ifaces[rec.Name] = rec
		return nil
	}
	ifi := &net.Interface{Index: rec.IfIndex, Name: rec.Name}
	group := &net.UDPAddr{IP: SparkMcastAddr.AsSlice()}
	if err := p.pc.JoinGroup(ifi, group); err != nil {
		return fmt.Errorf("join %s on %s: %w", SparkMcastAddr, rec.Name, err)
	}
	p.ifaces[rec.Name] = rec
	p.byIndex[rec.IfIndex] = rec.Name
	return nil
}

func (p *UDPProvider) RemoveInterface(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.ifaces[name]
	if !ok {
		return nil
	}
	delete(p.ifaces, name)
	delete(p.byIndex, rec.IfIndex)
	ifi := &net.Interface{Index: rec.IfIndex, Name: rec.Name}
	group := &net.UDPAddr{IP: SparkMcastAddr.AsSlice()}
	return p.pc.LeaveGroup(ifi, group)
}

func (p *UDPProvider) SendMulticast(ifName string, payload []byte) error {
	p.mu.Lock()
	rec, ok := p.ifaces[ifName]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("interface %s not tracked", ifName)
	}
	cm := &ipv6.ControlMessage{IfIndex: rec.IfIndex}
	dst := &net.UDPAddr{IP: SparkMcastAddr.AsSlice(), Port: int(p.port)}
	_, err := p.pc.WriteTo(payload, cm, dst)
	return err
}

func (p *UDPProvider) SendUnicast(ifName string, to netip.Addr, payload []byte) error {
	p.mu.Lock()
	rec, ok := p.ifaces[ifName]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("interface %s not tracked", ifName)
	}
	cm := &ipv6.ControlMessage{IfIndex: rec.IfIndex}
	dst := &net.UDPAddr{IP: to.AsSlice(), Port: int(p.port), Zone: rec.Name}
	_, err := p.pc.WriteTo(payload, cm, dst)
	return err
}

func (p *UDPProvider) Packets() <-chan Packet {
	return p.packets
}

func (p *UDPProvider) readLoop() {
	buf := make([]byte, 65536)
	oob := make([]byte, 512)
	for {
		n, oobn, _, src, err := p.conn.ReadMsgUDPAddrPort(buf, oob)
		if err != nil {
			close(p.packets)
			return
		}
		rxTime := time.Now()
		ifName := ""
		if msgs, err := unix.ParseSocketControlMessage(oob[:oobn]); err == nil {
			for _, m := range msgs {
				switch {
				case m.Header.Level == unix.SOL_SOCKET && m.Header.Type == unix.SO_TIMESTAMPNS:
					if len(m.Data) >= 16 {
						ts := (*unix.Timespec)(unsafe.Pointer(&m.Data[0]))
						rxTime = time.Unix(ts.Sec, ts.Nsec)
					}
				case m.Header.Level == unix.IPPROTO_IPV6 && m.Header.Type == unix.IPV6_PKTINFO:
					if len(m.Data) >= 20 {
						idx := int(uint32(m.Data[16]) | uint32(m.Data[17])<<8 | uint32(m.Data[18])<<16 | uint32(m.Data[19])<<24)
						p.mu.Lock()
						ifName = p.byIndex[idx]
						p.mu.Unlock()
					}
				}
			}
		}
		if ifName == "" {
			continue // not one of ours
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case p.packets <- Packet{IfName: ifName, From: src, RxTime: rxTime, Data: data}:
		default:
			// receiver stalled, shed load
		}
	}
}

func (p *UDPProvider) Close() error {
	return p.conn.Close()
}
