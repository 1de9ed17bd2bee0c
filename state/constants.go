package state

import "time"

const (
	// DefaultArea is the area adopted when either side has no area
	// configuration, for compatibility with non-area-aware peers.
	DefaultArea = "0"

	// SparkVersion is the protocol version advertised by this build.
	// Spark2Version is the lowest version that speaks the
	// handshake/heartbeat exchange; peers below it run hello-only.
	SparkVersion  = 2
	Spark2Version = 2
	LegacyVersion = 1

	DefaultMcastPort = 6666
)

var (
	DefaultHelloInterval     = time.Millisecond * 200
	DefaultKeepAliveInterval = time.Millisecond * 50
	DefaultHandshakeInterval = time.Millisecond * 50
	DefaultHeartbeatInterval = time.Millisecond * 50
	DefaultNegotiateHold     = time.Millisecond * 500
	DefaultHeartbeatHold     = time.Millisecond * 200
	DefaultGrHold            = time.Millisecond * 500

	// FastInitHelloCount bounds the accelerated hello phase after an
	// interface is added; steady cadence resumes earlier if a handshake
	// completes.
	FastInitHelloCount = 10

	// HelloTxCacheTTL bounds how long a sent hello's timestamp is kept
	// for RTT pairing. Reflections older than this are worthless.
	HelloTxCacheTTL = time.Second * 10

	// RttReportFraction and RttReportFloor gate RTT_CHANGE events: a new
	// estimate is reported only when it moved by at least
	// max(fraction*lastReported, floor).
	RttReportFraction = 0.25
	RttReportFloor    = time.Millisecond * 10

	// EventQueueSize is the default per-subscriber event buffer.
	EventQueueSize = 128
)
