//go:build !linux

package core

import "errors"

var errNoKernelFib = errors.New("kernel route programming is only supported on linux")

func kernelReplaceRoute(route UnicastRoute, proto int) error {
	return errNoKernelFib
}

func kernelDeleteRoute(route UnicastRoute, proto int) error {
	return errNoKernelFib
}
