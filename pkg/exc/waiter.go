// Package exc is the Executor & Coordinator: a per-kernel delegate goroutine
// that drives the SEND/WAIT/RECV round loop, and (in pkg/coordinator) the
// shared-memory request/response mailbox used when the runtime is split
// into a client library and a daemon.
//
// One goroutine per unit of concurrent work, a shared mutex-guarded result
// sink, and a join point: Wait blocks on the delegate's own done channel.
package exc

import (
	"context"
	"time"

	"github.com/oisee/artico3/pkg/hcs"
)

// CompletionWaiter abstracts "block until every bit in mask is set in the
// ready register": a busy-wait implementation (PolledWaiter) and a
// blocking-IRQ implementation (IRQWaiter) satisfy the same contract.
type CompletionWaiter interface {
	Wait(ctx context.Context, mask uint32) error
}

// IRQSource is the external interrupt collaborator: wait_irq(slot_mask).
type IRQSource interface {
	WaitIRQ(ctx context.Context, mask uint32) error
}

// IRQWaiter blocks on the external interrupt source.
type IRQWaiter struct {
	Source IRQSource
}

func (w *IRQWaiter) Wait(ctx context.Context, mask uint32) error {
	return w.Source.WaitIRQ(ctx, mask)
}

// PolledWaiter busy-waits on the ready register at a fixed interval.
type PolledWaiter struct {
	HW       *hcs.HCS
	Interval time.Duration
}

func (w *PolledWaiter) Wait(ctx context.Context, mask uint32) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 100 * time.Microsecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := w.HW.TransferIsDone(mask)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
