package main

import (
	"testing"

	"github.com/oisee/artico3/pkg/a3errors"
	"github.com/oisee/artico3/pkg/config"
	"github.com/oisee/artico3/pkg/coordinator"
	"github.com/oisee/artico3/pkg/dea"
	"github.com/oisee/artico3/pkg/hcs"
	"github.com/oisee/artico3/pkg/kpr"
	"github.com/oisee/artico3/pkg/runtime"
	"github.com/oisee/artico3/pkg/shs"
)

func newTestDispatcher(t *testing.T) *dispatcher {
	t.Helper()
	win := hcs.NewMemWindow(1 << 16)
	win.WriteWord(0x28/4, 2)

	cfg := config.DefaultDaemon()
	cfg.Wait = config.WaitPoll
	cfg.BitstreamDir = "pbs"

	rt, err := runtime.New(cfg, win, dea.NewFakeProvider(), shs.NewFakeLoader(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rt.Close() })

	return newDispatcher(rt, cfg, nil)
}

func TestDispatchKernelCreateAndRelease(t *testing.T) {
	d := newTestDispatcher(t)

	resp, err := d.handle(coordinator.Request{
		Func: coordinator.KernelCreate,
		Args: coordinator.EncodeKernelCreate("addvector", 16384, 3, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 4 {
		t.Fatalf("expected a 4-byte kernel id response, got %d bytes", len(resp))
	}

	if _, err := d.rt.Kernels.Lookup("addvector"); err != nil {
		t.Fatalf("kernel not registered: %v", err)
	}

	if _, err := d.handle(coordinator.Request{
		Func: coordinator.KernelRelease,
		Args: coordinator.EncodeName("addvector"),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.rt.Kernels.Lookup("addvector"); err == nil {
		t.Fatal("expected kernel to be released")
	}
}

func TestDispatchAllocRejectsDuplicatePort(t *testing.T) {
	d := newTestDispatcher(t)

	if _, err := d.handle(coordinator.Request{
		Func: coordinator.KernelCreate,
		Args: coordinator.EncodeKernelCreate("addvector", 16384, 3, 0),
	}); err != nil {
		t.Fatal(err)
	}

	allocArgs := coordinator.EncodeAlloc(4096, "addvector", "a", uint32(kpr.Input))
	if _, err := d.handle(coordinator.Request{Func: coordinator.Alloc, Args: allocArgs}); err != nil {
		t.Fatal(err)
	}

	_, err := d.handle(coordinator.Request{Func: coordinator.Alloc, Args: allocArgs})
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.DuplicatePort {
		t.Fatalf("expected DuplicatePort, got %v", err)
	}

	if _, err := d.handle(coordinator.Request{
		Func: coordinator.Free,
		Args: coordinator.EncodeFree("addvector", "a"),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchUnknownFuncTag(t *testing.T) {
	d := newTestDispatcher(t)
	if _, err := d.handle(coordinator.Request{Func: coordinator.FuncTag(255)}); err == nil {
		t.Fatal("expected an error for an unhandled function tag")
	}
}
