// Dispatcher translates coordinator.Request values into calls against the
// wired Runtime's KPR/SHS/EXC collaborators, and encodes their results back
// into response payloads. It is daemon-specific glue, kept in cmd/a3d
// rather than pkg/coordinator or pkg/runtime so that neither library
// package has to know about the other.
package main

import (
	"encoding/binary"
	"fmt"

	"github.com/oisee/artico3/pkg/a3log"
	"github.com/oisee/artico3/pkg/config"
	"github.com/oisee/artico3/pkg/coordinator"
	"github.com/oisee/artico3/pkg/kpr"
	"github.com/oisee/artico3/pkg/runtime"
)

// dispatcher owns the Runtime a handle call is dispatched against.
type dispatcher struct {
	rt  *runtime.Runtime
	cfg config.Daemon
	log *a3log.Logger
}

func newDispatcher(rt *runtime.Runtime, cfg config.Daemon, log *a3log.Logger) *dispatcher {
	if log == nil {
		log = a3log.Default()
	}
	return &dispatcher{rt: rt, cfg: cfg, log: log}
}

// bitstreamPath reproduces the naming convention config.Daemon.BitstreamDir
// documents: pbs/a3_<kernel>_a3_slot_<slot>_partial.bin.
func (d *dispatcher) bitstreamPath(kernelName string, slot uint8) string {
	return fmt.Sprintf("%s/a3_%s_a3_slot_%d_partial.bin", d.cfg.BitstreamDir, kernelName, slot)
}

func encodeInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func encodeWords(words []uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// handle is the coordinator.Handler bound to this dispatcher — it dispatches
// on req.Func, decoding arguments through pkg/coordinator's wire layer and
// calling the one Runtime collaborator each FuncTag belongs to.
func (d *dispatcher) handle(req coordinator.Request) ([]byte, error) {
	switch req.Func {
	case coordinator.KernelCreate:
		a, err := coordinator.DecodeKernelCreate(req.Args)
		if err != nil {
			return nil, err
		}
		k, err := d.rt.Kernels.CreateKernel(a.Name, int(a.MemBytes), int(a.MemBanks), int(a.Regs))
		if err != nil {
			return nil, err
		}
		return encodeInt32(int32(k.ID)), nil

	case coordinator.KernelRelease:
		name, err := coordinator.DecodeName(req.Args)
		if err != nil {
			return nil, err
		}
		if err := d.rt.ReleaseKernel(name); err != nil {
			return nil, err
		}
		return nil, nil

	case coordinator.KernelExecute:
		a, err := coordinator.DecodeKernelExecute(req.Args)
		if err != nil {
			return nil, err
		}
		if err := d.rt.Exec.Execute(a.Name, int(a.Gsize), int(a.Lsize)); err != nil {
			return nil, err
		}
		return nil, nil

	case coordinator.KernelWait:
		name, err := coordinator.DecodeName(req.Args)
		if err != nil {
			return nil, err
		}
		if err := d.rt.Exec.Wait(name); err != nil {
			return nil, err
		}
		return nil, nil

	case coordinator.KernelReset:
		// Reset is just Wait followed by a fresh Execute from the client's
		// perspective; the daemon side has no separate state to clear beyond
		// what Wait already drains, so it is a no-op acknowledgement.
		if _, err := coordinator.DecodeName(req.Args); err != nil {
			return nil, err
		}
		return nil, nil

	case coordinator.KernelWcfg:
		// naccs isn't known until the kernel is looked up, so Wcfg's wire
		// decode happens in two steps: peel the name back off to find the
		// kernel's equivalent-accelerator count, then decode the full
		// payload against that count.
		name, err := coordinator.DecodeName(req.Args)
		if err != nil {
			return nil, err
		}
		kernel, err := d.rt.Kernels.Lookup(name)
		if err != nil {
			return nil, err
		}
		naccs, err := d.rt.Scheduler.Naccs(kernel.ID)
		if err != nil {
			return nil, err
		}
		a, err := coordinator.DecodeWcfg(req.Args, naccs)
		if err != nil {
			return nil, err
		}
		if err := d.rt.Scheduler.Wcfg(kernel.ID, a.Offset, a.Words); err != nil {
			return nil, err
		}
		return nil, nil

	case coordinator.KernelRcfg:
		name, offset, err := coordinator.DecodeRcfg(req.Args)
		if err != nil {
			return nil, err
		}
		kernel, err := d.rt.Kernels.Lookup(name)
		if err != nil {
			return nil, err
		}
		words, err := d.rt.Scheduler.Rcfg(kernel.ID, offset)
		if err != nil {
			return nil, err
		}
		return encodeWords(words), nil

	case coordinator.Alloc:
		a, err := coordinator.DecodeAlloc(req.Args)
		if err != nil {
			return nil, err
		}
		p, err := d.rt.Kernels.AllocPort(a.Kname, a.Pname, int(a.Size), kpr.Direction(a.Direction))
		if err != nil {
			return nil, err
		}
		return encodeInt32(int32(p.Bank)), nil

	case coordinator.Free:
		a, err := coordinator.DecodeFree(req.Args)
		if err != nil {
			return nil, err
		}
		if err := d.rt.Kernels.FreePort(a.Kname, a.Pname); err != nil {
			return nil, err
		}
		return nil, nil

	case coordinator.GetNaccs:
		name, err := coordinator.DecodeName(req.Args)
		if err != nil {
			return nil, err
		}
		kernel, err := d.rt.Kernels.Lookup(name)
		if err != nil {
			return nil, err
		}
		naccs, err := d.rt.Scheduler.Naccs(kernel.ID)
		if err != nil {
			return nil, err
		}
		return encodeInt32(int32(naccs)), nil

	case coordinator.Load:
		a, err := coordinator.DecodeLoad(req.Args)
		if err != nil {
			return nil, err
		}
		kernel, err := d.rt.Kernels.Lookup(a.Name)
		if err != nil {
			return nil, err
		}
		path := d.bitstreamPath(a.Name, a.Slot)
		if err := d.rt.Scheduler.Load(int(a.Slot), kernel.ID, a.Tmr, a.Dmr, a.Force, path); err != nil {
			return nil, err
		}
		return nil, nil

	case coordinator.Unload:
		slot, err := coordinator.DecodeUnload(req.Args)
		if err != nil {
			return nil, err
		}
		if err := d.rt.Scheduler.Unload(int(slot)); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("a3d: unhandled coordinator function %s", req.Func)
	}
}
