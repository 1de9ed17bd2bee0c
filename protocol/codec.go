package protocol

import (
	"errors"
	"fmt"
	"net/netip"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrTruncated    = errors.New("truncated packet")
	ErrUnknownMsg   = errors.New("unknown message discriminator")
	ErrEmptyPacket  = errors.New("empty packet")
	ErrBadFieldType = errors.New("unexpected wire type")
)

// Encode renders a message as discriminator byte + protobuf wire payload.
func Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case *HelloMsg:
		return appendHello([]byte{MsgHello}, m), nil
	case *HandshakeMsg:
		return appendHandshake([]byte{MsgHandshake}, m), nil
	case *HeartbeatMsg:
		return appendHeartbeat([]byte{MsgHeartbeat}, m), nil
	}
	return nil, fmt.Errorf("cannot encode %T", msg)
}

// Decode parses a datagram and returns *HelloMsg, *HandshakeMsg or
// *HeartbeatMsg.
func Decode(buf []byte) (any, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyPacket
	}
	payload := buf[1:]
	switch buf[0] {
	case MsgHello:
		return decodeHello(payload)
	case MsgHandshake:
		return decodeHandshake(payload)
	case MsgHeartbeat:
		return decodeHeartbeat(payload)
	}
	return nil, ErrUnknownMsg
}

func appendAddr(b []byte, num protowire.Number, addr netip.Addr) []byte {
	if !addr.IsValid() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, addr.AsSlice())
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendHello(b []byte, m *HelloMsg) []byte {
	b = appendString(b, 1, m.Domain)
	b = appendString(b, 2, m.NodeName)
	b = appendUint(b, 3, m.SeqNum)
	b = appendBool(b, 4, m.SolicitResponse)
	for name, info := range m.ReflectedNeighbors {
		var entry []byte
		entry = appendString(entry, 1, name)
		entry = appendUint(entry, 2, info.SeqSeen)
		entry = appendUint(entry, 3, info.HoldTimeMs)
		entry = appendUint(entry, 4, info.LastRxTsUs)
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	b = appendAddr(b, 6, m.V4Addr)
	b = appendAddr(b, 7, m.V6Addr)
	b = appendUint(b, 8, uint64(m.Version))
	b = appendBool(b, 9, m.Restarting)
	b = appendUint(b, 10, m.SentTsUs)
	return b
}

func appendHandshake(b []byte, m *HandshakeMsg) []byte {
	b = appendString(b, 1, m.Domain)
	b = appendString(b, 2, m.NodeName)
	b = appendString(b, 3, m.NeighborNodeName)
	b = appendString(b, 4, m.ProposedArea)
	b = appendAddr(b, 5, m.TransportV4)
	b = appendAddr(b, 6, m.TransportV6)
	b = appendUint(b, 7, m.HeartbeatHoldMs)
	b = appendUint(b, 8, m.GrHoldMs)
	b = appendUint(b, 9, uint64(m.Version))
	b = appendBool(b, 10, m.AdjEstablished)
	return b
}

func appendHeartbeat(b []byte, m *HeartbeatMsg) []byte {
	b = appendString(b, 1, m.Domain)
	b = appendString(b, 2, m.NodeName)
	b = appendUint(b, 3, m.SeqNum)
	return b
}

// fieldVisitor consumes one known field. Returning ErrBadFieldType aborts
// the decode; unknown field numbers are skipped by the caller.
type fieldVisitor func(num protowire.Number, typ protowire.Type, v []byte) error

func walkFields(buf []byte, visit fieldVisitor) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return ErrTruncated
		}
		buf = buf[n:]
		m := protowire.ConsumeFieldValue(num, typ, buf)
		if m < 0 {
			return ErrTruncated
		}
		if err := visit(num, typ, buf[:m]); err != nil {
			return err
		}
		buf = buf[m:]
	}
	return nil
}

func fieldUint(typ protowire.Type, v []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, ErrBadFieldType
	}
	u, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, ErrTruncated
	}
	return u, nil
}

func fieldBytes(typ protowire.Type, v []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, ErrBadFieldType
	}
	b, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return nil, ErrTruncated
	}
	return b, nil
}

func fieldString(typ protowire.Type, v []byte) (string, error) {
	b, err := fieldBytes(typ, v)
	return string(b), err
}

func fieldAddr(typ protowire.Type, v []byte) (netip.Addr, error) {
	b, err := fieldBytes(typ, v)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}, fmt.Errorf("bad address length %d", len(b))
	}
	return addr, nil
}

func decodeReflected(buf []byte) (string, ReflectedNeighborInfo, error) {
	var name string
	var info ReflectedNeighborInfo
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			name, err = fieldString(typ, v)
		case 2:
			info.SeqSeen, err = fieldUint(typ, v)
		case 3:
			info.HoldTimeMs, err = fieldUint(typ, v)
		case 4:
			info.LastRxTsUs, err = fieldUint(typ, v)
		}
		return err
	})
	return name, info, err
}

func decodeHello(buf []byte) (*HelloMsg, error) {
	m := &HelloMsg{ReflectedNeighbors: make(map[string]ReflectedNeighborInfo)}
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Domain, err = fieldString(typ, v)
		case 2:
			m.NodeName, err = fieldString(typ, v)
		case 3:
			m.SeqNum, err = fieldUint(typ, v)
		case 4:
			var u uint64
			u, err = fieldUint(typ, v)
			m.SolicitResponse = u != 0
		case 5:
			var entry []byte
			entry, err = fieldBytes(typ, v)
			if err != nil {
				return err
			}
			var name string
			var info ReflectedNeighborInfo
			name, info, err = decodeReflected(entry)
			if err == nil && name != "" {
				m.ReflectedNeighbors[name] = info
			}
		case 6:
			m.V4Addr, err = fieldAddr(typ, v)
		case 7:
			m.V6Addr, err = fieldAddr(typ, v)
		case 8:
			var u uint64
			u, err = fieldUint(typ, v)
			m.Version = uint32(u)
		case 9:
			var u uint64
			u, err = fieldUint(typ, v)
			m.Restarting = u != 0
		case 10:
			m.SentTsUs, err = fieldUint(typ, v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeHandshake(buf []byte) (*HandshakeMsg, error) {
	m := &HandshakeMsg{}
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Domain, err = fieldString(typ, v)
		case 2:
			m.NodeName, err = fieldString(typ, v)
		case 3:
			m.NeighborNodeName, err = fieldString(typ, v)
		case 4:
			m.ProposedArea, err = fieldString(typ, v)
		case 5:
			m.TransportV4, err = fieldAddr(typ, v)
		case 6:
			m.TransportV6, err = fieldAddr(typ, v)
		case 7:
			m.HeartbeatHoldMs, err = fieldUint(typ, v)
		case 8:
			m.GrHoldMs, err = fieldUint(typ, v)
		case 9:
			var u uint64
			u, err = fieldUint(typ, v)
			m.Version = uint32(u)
		case 10:
			var u uint64
			u, err = fieldUint(typ, v)
			m.AdjEstablished = u != 0
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeHeartbeat(buf []byte) (*HeartbeatMsg, error) {
	m := &HeartbeatMsg{}
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			m.Domain, err = fieldString(typ, v)
		case 2:
			m.NodeName, err = fieldString(typ, v)
		case 3:
			m.SeqNum, err = fieldUint(typ, v)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
