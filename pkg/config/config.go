// Package config holds the plain-struct configuration objects for the
// daemon and client: a struct populated by CLI flags, with defaults filled
// in by a constructor rather than scattered through call sites.
package config

import (
	"runtime"
	"time"
)

// WaitMode selects how a Delegate blocks for hardware completion: busy-wait
// or IRQ.
type WaitMode int

const (
	WaitIRQ WaitMode = iota
	WaitPoll
)

// Daemon holds the a3d daemon's runtime configuration.
type Daemon struct {
	// RegisterBase is the physical base address of the shuffler's MMIO
	// register window.
	RegisterBase uintptr
	// RegisterLen is the byte length of the MMIO register window.
	RegisterLen int

	// MaxKernels bounds the kernel identity space (1..=MaxKernels).
	MaxKernels int
	// MaxUsers bounds the coordinator's concurrent user population.
	MaxUsers int
	// ChannelsPerUser bounds per-user in-flight requests.
	ChannelsPerUser int

	// CoordinatorSHM is the POSIX shared-memory object name for the
	// single-slot request/response mailbox.
	CoordinatorSHM string

	// Wait selects the completion-wait strategy.
	Wait WaitMode
	// PollInterval is the busy-wait polling period when Wait == WaitPoll.
	PollInterval time.Duration

	// BitstreamDir is the directory partial bitstreams are loaded from,
	// named "pbs/a3_<kernel>_a3_slot_<slot>_partial.bin".
	BitstreamDir string

	Verbose bool
}

// DefaultDaemon returns a Daemon config with the default values filled in,
// so callers need not know them; RegisterBase and RegisterLen stay zero.
func DefaultDaemon() Daemon {
	return Daemon{
		MaxKernels:      15,
		MaxUsers:        32,
		ChannelsPerUser: 4,
		CoordinatorSHM:  "a3d",
		Wait:            WaitIRQ,
		PollInterval:    100 * time.Microsecond,
		BitstreamDir:    "pbs",
	}
}

// Client holds the a3ctl / user-library configuration.
type Client struct {
	CoordinatorSHM string
	NumWorkers     int
}

// DefaultClient returns a Client config with NumWorkers set to
// runtime.NumCPU().
func DefaultClient() Client {
	return Client{
		CoordinatorSHM: "a3d",
		NumWorkers:     runtime.NumCPU(),
	}
}
