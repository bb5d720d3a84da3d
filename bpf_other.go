//go:build !linux
// +build !linux

// Stub for non-Linux platforms so the user-space pipeline can still be
// built and tested without kernel probe support.

package main

import "fmt"

func attachProbes(cfg ProbeConfig, em *Emitter, logger *Logger) (func(), error) {
	return nil, fmt.Errorf("kernel probes are only supported on linux")
}
