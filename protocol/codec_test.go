package protocol

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestHelloRoundTrip(t *testing.T) {
	m := &HelloMsg{
		Domain:          "Fire_and_Blood",
		NodeName:        "node-1",
		SeqNum:          42,
		SolicitResponse: true,
		ReflectedNeighbors: map[string]ReflectedNeighborInfo{
			"node-2": {SeqSeen: 17, HoldTimeMs: 200, LastRxTsUs: 123456789},
			"node-3": {SeqSeen: 3, HoldTimeMs: 500},
		},
		V4Addr:     netip.MustParseAddr("192.168.0.1"),
		V6Addr:     netip.MustParseAddr("fe80::1"),
		Version:    2,
		Restarting: true,
		SentTsUs:   987654321,
	}
	buf, err := Encode(m)
	require.NoError(t, err)
	assert.Equal(t, MsgHello, buf[0])

	decoded, err := Decode(buf)
	require.NoError(t, err)
	if diff := cmp.Diff(m, decoded.(*HelloMsg), cmpopts.EquateComparable(netip.Addr{})); diff != "" {
		t.Fatalf("hello round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	m := &HandshakeMsg{
		Domain:           "Fire_and_Blood",
		NodeName:         "node-1",
		NeighborNodeName: "node-2",
		ProposedArea:     "2",
		TransportV4:      netip.MustParseAddr("192.168.0.1"),
		TransportV6:      netip.MustParseAddr("fe80::1"),
		HeartbeatHoldMs:  200,
		GrHoldMs:         500,
		Version:          2,
		AdjEstablished:   true,
	}
	buf, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	m := &HeartbeatMsg{Domain: "d", NodeName: "n", SeqNum: 9}
	buf, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

// An older decoder must skip fields it does not know about and still parse
// the rest of the message.
func TestDecodeSkipsUnknownFields(t *testing.T) {
	m := &HeartbeatMsg{Domain: "d", NodeName: "n", SeqNum: 9}
	buf, err := Encode(m)
	require.NoError(t, err)

	// append a future varint field and a future length-delimited field
	buf = protowire.AppendTag(buf, 100, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 1234)
	buf = protowire.AppendTag(buf, 101, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte("future extension"))

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyPacket)

	_, err = Decode([]byte{0x7f, 0x01})
	assert.ErrorIs(t, err, ErrUnknownMsg)

	hello, err := Encode(&HelloMsg{Domain: "d", NodeName: "n", SeqNum: 1})
	require.NoError(t, err)
	_, err = Decode(hello[:len(hello)-1])
	assert.Error(t, err)

	// a varint where a string belongs
	bad := []byte{MsgHeartbeat}
	bad = protowire.AppendTag(bad, 1, protowire.VarintType)
	bad = protowire.AppendVarint(bad, 7)
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrBadFieldType)

	// a malformed address length
	bad = []byte{MsgHello}
	bad = protowire.AppendTag(bad, 6, protowire.BytesType)
	bad = protowire.AppendBytes(bad, []byte{1, 2, 3})
	_, err = Decode(bad)
	assert.Error(t, err)
}

func TestEncodeOmitsZeroValues(t *testing.T) {
	buf, err := Encode(&HelloMsg{Domain: "d", NodeName: "n"})
	require.NoError(t, err)
	decoded, err := Decode(buf)
	require.NoError(t, err)
	m := decoded.(*HelloMsg)
	assert.False(t, m.V4Addr.IsValid())
	assert.False(t, m.V6Addr.IsValid())
	assert.Zero(t, m.SeqNum)
	assert.Empty(t, m.ReflectedNeighbors)
}
