package core

import (
	"reflect"
	"time"

	"github.com/encodeous/spark/state"
)

func Get[T state.SparkModule](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}

func usToDuration(us uint64) time.Duration {
	return time.Duration(us) * time.Microsecond
}

func msToDuration(ms uint64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
