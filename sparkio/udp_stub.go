//go:build !linux

package sparkio

import "errors"

// NewUDPProvider needs SO_TIMESTAMPNS and per-packet interface info; only
// the linux implementation exists.
func NewUDPProvider(port uint16) (Provider, error) {
	return nil, errors.New("udp provider is only supported on linux")
}
