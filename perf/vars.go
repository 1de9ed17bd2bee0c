package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency = metric.NewHistogram("1m1s")

	HellosPerSecond     = metric.NewCounter("10s1s")
	HandshakesPerSecond = metric.NewCounter("10s1s")
	HeartbeatsPerSecond = metric.NewCounter("10s1s")
	PktRecvPerSecond    = metric.NewCounter("10s1s")
	PktSentPerSecond    = metric.NewCounter("10s1s")

	DecodeFailures  = expvar.NewInt("spark.decode_failures")
	DomainMismatch  = expvar.NewInt("spark.domain_mismatch")
	LoopedPackets   = expvar.NewInt("spark.looped_packets")
	SendFailures    = expvar.NewInt("spark.send_failures")
	DroppedEvents   = expvar.NewInt("spark.dropped_events")
	FibProgramError = expvar.NewInt("spark.fib_program_errors")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("spark:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("spark:Hellos/s", HellosPerSecond)
	expvar.Publish("spark:Handshakes/s", HandshakesPerSecond)
	expvar.Publish("spark:Heartbeats/s", HeartbeatsPerSecond)
	expvar.Publish("spark:PktRecv/s", PktRecvPerSecond)
	expvar.Publish("spark:PktSent/s", PktSentPerSecond)
}
