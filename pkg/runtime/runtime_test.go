package runtime

import (
	"os"
	"testing"

	"github.com/oisee/artico3/pkg/a3errors"
	"github.com/oisee/artico3/pkg/config"
	"github.com/oisee/artico3/pkg/dea"
	"github.com/oisee/artico3/pkg/hcs"
	"github.com/oisee/artico3/pkg/shs"
)

func TestNewWiresComponentsAndReadsSlotCount(t *testing.T) {
	win := hcs.NewMemWindow(1 << 16)
	win.WriteWord(0x28/4, 4) // regNSlots

	cfg := config.DefaultDaemon()
	cfg.Wait = config.WaitPoll

	rt, err := New(cfg, win, dea.NewFakeProvider(), shs.NewFakeLoader(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	if len(rt.Scheduler.Slots()) != 4 {
		t.Fatalf("scheduler slot count = %d, want 4 (read from hardware)", len(rt.Scheduler.Slots()))
	}
	if _, err := rt.Kernels.Lookup("missing"); err == nil {
		t.Fatal("expected fresh registry to have no kernels")
	}
}

func TestNewFailsWhenFirmwareReportsZeroSlots(t *testing.T) {
	win := hcs.NewMemWindow(1 << 16)
	cfg := config.DefaultDaemon()
	cfg.Wait = config.WaitPoll

	_, err := New(cfg, win, dea.NewFakeProvider(), shs.NewFakeLoader(), nil, nil)
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.HwUnavailable {
		t.Fatalf("expected HwUnavailable for zero reported slots, got %v", err)
	}
}

func TestReleaseKernelUnloadsBoundSlots(t *testing.T) {
	win := hcs.NewMemWindow(1 << 16)
	win.WriteWord(0x28/4, 2) // regNSlots
	cfg := config.DefaultDaemon()
	cfg.Wait = config.WaitPoll

	rt, err := New(cfg, win, dea.NewFakeProvider(), shs.NewFakeLoader(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	k, err := rt.Kernels.CreateKernel("addvector", 16384, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.Scheduler.Load(0, k.ID, 0, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	if err := rt.Scheduler.Load(1, k.ID, 0, 0, false, "x"); err != nil {
		t.Fatal(err)
	}

	if err := rt.ReleaseKernel("addvector"); err != nil {
		t.Fatal(err)
	}

	for _, slot := range rt.Scheduler.Slots() {
		if slot.KernelID != 0 {
			t.Fatalf("slot %d still bound to released kernel id %d", slot.Index, slot.KernelID)
		}
	}

	if _, err := rt.Kernels.Lookup("addvector"); err == nil {
		t.Fatal("expected released kernel to be gone from the catalogue")
	}

	// A later kernel assigned the same identity must not inherit the old
	// binding's equivalent-accelerator count.
	k2, err := rt.Kernels.CreateKernel("other", 16384, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if k2.ID != k.ID {
		t.Fatalf("expected identity reuse, got new id %d vs released id %d", k2.ID, k.ID)
	}
	if _, err := rt.Scheduler.Naccs(k2.ID); err == nil {
		t.Fatal("expected NoAccelerators: no slot should still be bound to the reused identity")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	win := hcs.NewMemWindow(1 << 16)
	win.WriteWord(0x28/4, 1)
	cfg := config.DefaultDaemon()
	cfg.Wait = config.WaitPoll

	rt, err := New(cfg, win, dea.NewFakeProvider(), shs.NewFakeLoader(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	if _, err := rt.Kernels.CreateKernel("addvector", 16384, 3, 0); err != nil {
		t.Fatal(err)
	}

	snap, err := SnapshotOf(rt.Kernels, []string{"addvector"})
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.CreateTemp(t.TempDir(), "snapshot-*.gob")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()

	if err := SaveSnapshot(path, snap); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Kernels) != 1 || loaded.Kernels[0].Name != "addvector" || loaded.Kernels[0].MemBytes != 16392 {
		t.Fatalf("unexpected loaded snapshot: %+v", loaded)
	}
}
