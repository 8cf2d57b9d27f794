package exc

import (
	"context"
	"sync"

	"github.com/oisee/artico3/pkg/a3errors"
	"github.com/oisee/artico3/pkg/a3log"
	"github.com/oisee/artico3/pkg/dea"
	"github.com/oisee/artico3/pkg/hcs"
	"github.com/oisee/artico3/pkg/kpr"
	"github.com/oisee/artico3/pkg/shs"
)

// delegate is the per-kernel task driving the round loop.
type delegate struct {
	kernelID int
	nrounds  int
	done     chan struct{}
	err      error
}

// Executor owns the set of currently-running delegates and the collaborators
// a delegate's round loop needs: the kernel registry, the shuffler
// scheduler and the DMA engine adapter.
type Executor struct {
	kpr *kpr.Registry
	shs *shs.Scheduler
	dea *dea.DEA
	hw  *hcs.HCS

	waiter CompletionWaiter
	log    *a3log.Logger

	ctx context.Context

	mu        sync.Mutex
	delegates map[string]*delegate
}

// New creates an Executor. ctx bounds every DMA await and completion wait
// issued by delegates it spawns — cancelling it is a cooperative shutdown
// signal that drains the round loop between rounds.
func New(ctx context.Context, kreg *kpr.Registry, scheduler *shs.Scheduler, hw *hcs.HCS, dmaEngine *dea.DEA, waiter CompletionWaiter, log *a3log.Logger) *Executor {
	if log == nil {
		log = a3log.Default()
	}
	return &Executor{
		kpr:       kreg,
		shs:       scheduler,
		dea:       dmaEngine,
		hw:        hw,
		waiter:    waiter,
		log:       log,
		ctx:       ctx,
		delegates: make(map[string]*delegate),
	}
}

// Execute spawns a delegate for kernel name driving gsize/lsize rounds. It
// returns once the delegate has been spawned; call Wait(name) to join it.
func (e *Executor) Execute(name string, gsize, lsize int) error {
	kernel, err := e.kpr.Lookup(name)
	if err != nil {
		return err
	}

	if lsize <= 0 || gsize%lsize != 0 {
		return a3errors.New(a3errors.BadWorkSize, name)
	}
	nrounds := gsize / lsize

	e.mu.Lock()
	if _, running := e.delegates[name]; running {
		e.mu.Unlock()
		return a3errors.New(a3errors.AlreadyRunning, name)
	}
	d := &delegate{kernelID: kernel.ID, nrounds: nrounds, done: make(chan struct{})}
	e.delegates[name] = d
	e.mu.Unlock()

	go e.runDelegate(name, kernel, d)
	return nil
}

// runDelegate drives one kernel through its rounds: acquire the execution
// lock, compute the equivalent accelerator count and ready mask, send
// inputs, release the lock, wait for completion, reacquire the lock, receive
// outputs, advance the round counter.
func (e *Executor) runDelegate(name string, kernel *kpr.Kernel, d *delegate) {
	defer close(d.done)

	round := 0
	for round < d.nrounds {
		e.shs.Lock()
		e.shs.IncRunning()

		naccs, err := e.shs.NaccsLocked(kernel.ID)
		if err != nil {
			e.shs.DecRunning()
			e.shs.Unlock()
			d.err = err
			return
		}
		mask := e.shs.ReadyMaskLocked(kernel.ID)

		if err := e.send(kernel, naccs, round, d.nrounds); err != nil {
			e.shs.DecRunning()
			e.shs.Unlock()
			d.err = err
			return
		}
		e.shs.Unlock()

		if err := e.waiter.Wait(e.ctx, mask); err != nil {
			e.shs.Lock()
			e.shs.DecRunning()
			e.shs.Unlock()
			d.err = err
			return
		}

		e.shs.Lock()
		if err := e.recv(kernel, naccs, round, d.nrounds); err != nil {
			e.shs.DecRunning()
			e.shs.Unlock()
			d.err = err
			return
		}
		round += naccs
		e.shs.DecRunning()
		e.shs.Unlock()

		e.log.Debug("kernel %s: round %d/%d complete (naccs=%d)", name, round, d.nrounds, naccs)

		select {
		case <-e.ctx.Done():
			d.err = e.ctx.Err()
			return
		default:
		}
	}
}

// Wait joins the delegate for name, clearing it from the running set, and
// returns any error the round loop encountered.
func (e *Executor) Wait(name string) error {
	e.mu.Lock()
	d, ok := e.delegates[name]
	e.mu.Unlock()
	if !ok {
		return a3errors.New(a3errors.NotFound, name)
	}

	<-d.done

	e.mu.Lock()
	delete(e.delegates, name)
	e.mu.Unlock()

	return d.err
}

// IsRunning reports whether a delegate for name is currently active.
func (e *Executor) IsRunning(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.delegates[name]
	return ok
}
