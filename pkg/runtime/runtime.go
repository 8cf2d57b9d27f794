// Package runtime is the top-level wiring point: an explicit Runtime value
// is passed to all operations instead of the shuffler shadow, kernel table,
// thread table and coordinator living behind package-level globals. Runtime
// owns one of each component (HCS, DEA, KPR, SHS, EXC); the daemon's
// coordinator is created separately by cmd/a3d.
package runtime

import (
	"context"

	"github.com/oisee/artico3/pkg/a3errors"
	"github.com/oisee/artico3/pkg/a3log"
	"github.com/oisee/artico3/pkg/config"
	"github.com/oisee/artico3/pkg/dea"
	"github.com/oisee/artico3/pkg/exc"
	"github.com/oisee/artico3/pkg/hcs"
	"github.com/oisee/artico3/pkg/kpr"
	"github.com/oisee/artico3/pkg/shs"
)

// Runtime is the explicit process-singleton value used in place of module
// globals: New wires HCS through DEA into KPR/SHS, hands the shared
// scheduler to an Executor, and Close tears it down in reverse order.
type Runtime struct {
	cfg config.Daemon
	log *a3log.Logger

	cancel context.CancelFunc

	HW        *hcs.HCS
	DMA       *dea.DEA
	Kernels   *kpr.Registry
	Scheduler *shs.Scheduler
	Exec      *exc.Executor
}

// New wires a Runtime from cfg. win is the register Window (a real
// MMIOWindow on Linux, or a MemWindow in tests); prov is the external DMA
// Provider; loader is the external BitstreamLoader; irq is non-nil only
// when cfg.Wait == config.WaitIRQ.
func New(cfg config.Daemon, win hcs.Window, prov dea.Provider, loader shs.BitstreamLoader, irq exc.IRQSource, log *a3log.Logger) (*Runtime, error) {
	if log == nil {
		log = a3log.Default()
	}

	hw := hcs.New(win)
	nslots, err := hw.ReadNSlots()
	if err != nil {
		return nil, err
	}
	if nslots == 0 {
		return nil, a3errors.New(a3errors.HwUnavailable, "read_nslots reported zero slots: firmware missing")
	}

	dmaEngine := dea.New(hw, prov)
	kernels := kpr.New(cfg.MaxKernels)
	scheduler := shs.New(hw, loader, int(nslots))

	var waiter exc.CompletionWaiter
	if cfg.Wait == config.WaitIRQ {
		waiter = &exc.IRQWaiter{Source: irq}
	} else {
		waiter = &exc.PolledWaiter{HW: hw, Interval: cfg.PollInterval}
	}

	ctx, cancel := context.WithCancel(context.Background())
	executor := exc.New(ctx, kernels, scheduler, hw, dmaEngine, waiter, log.With("exc"))

	if err := hw.EnableClocks(nslots); err != nil {
		cancel()
		return nil, err
	}

	return &Runtime{
		cfg:       cfg,
		log:       log,
		cancel:    cancel,
		HW:        hw,
		DMA:       dmaEngine,
		Kernels:   kernels,
		Scheduler: scheduler,
		Exec:      executor,
	}, nil
}

// Close cancels every in-flight delegate's context and disables the
// shuffler's clock gate.
func (r *Runtime) Close() error {
	r.cancel()
	return r.HW.DisableClocks()
}

// ReleaseKernel unloads every slot still bound to the named kernel before
// releasing its catalogue entry, so the identity KPR frees (and may hand to
// a later CreateKernel) never carries a stale shadow binding in SHS: Slots
// and Shadow nibbles are SHS-owned, so KPR.ReleaseKernel alone cannot clear
// them, and leaving a bound slot behind would route the next kernel
// assigned this id to hardware it never configured.
func (r *Runtime) ReleaseKernel(name string) error {
	k, err := r.Kernels.Lookup(name)
	if err != nil {
		return err
	}
	for _, slot := range r.Scheduler.Slots() {
		if slot.KernelID == k.ID {
			if err := r.Scheduler.Unload(slot.Index); err != nil {
				return err
			}
		}
	}
	_, err = r.Kernels.ReleaseKernel(name)
	return err
}
