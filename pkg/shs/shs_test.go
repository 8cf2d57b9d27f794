package shs

import (
	"sync"
	"testing"
	"time"

	"github.com/oisee/artico3/internal/bits"
	"github.com/oisee/artico3/pkg/a3errors"
	"github.com/oisee/artico3/pkg/hcs"
)

func newTestScheduler(nslots int) (*Scheduler, *FakeLoader) {
	hw := hcs.New(hcs.NewMemWindow(1 << 16))
	loader := NewFakeLoader()
	return New(hw, loader, nslots), loader
}

// cfgSpaceWord is the first word of hcs's per-accelerator config space
// (byte offset 0x10000).
const cfgSpaceWord = 0x10000 / 4

// cfgRAMWindow models each slot's configuration registers as a RAM of its
// own: an access in the config space reaches the slots whose id nibble is
// currently published, the way the shuffler routes it. Every other word
// falls through to the flat MemWindow.
type cfgRAMWindow struct {
	*hcs.MemWindow
	ram map[[2]int]uint32 // (slot, word index) -> value
}

func (w *cfgRAMWindow) publishedSlots() []int {
	id := bits.Pack64(w.MemWindow.ReadWord(0x00/4), w.MemWindow.ReadWord(0x04/4))
	var slots []int
	for i := 0; i < bits.MaxSlots; i++ {
		if bits.Nibble(id, i) != 0 {
			slots = append(slots, i)
		}
	}
	return slots
}

func (w *cfgRAMWindow) WriteWord(idx int, v uint32) {
	if idx < cfgSpaceWord {
		w.MemWindow.WriteWord(idx, v)
		return
	}
	for _, i := range w.publishedSlots() {
		w.ram[[2]int{i, idx}] = v
	}
}

func (w *cfgRAMWindow) ReadWord(idx int) uint32 {
	if idx < cfgSpaceWord {
		return w.MemWindow.ReadWord(idx)
	}
	if slots := w.publishedSlots(); len(slots) > 0 {
		return w.ram[[2]int{slots[0], idx}]
	}
	return 0
}

func TestLoadSingleSlotSimplex(t *testing.T) {
	s, loader := newTestScheduler(4)
	if err := s.Load(0, 1, 0, 0, false, "pbs/a3_addvector_a3_slot_0_partial.bin"); err != nil {
		t.Fatal(err)
	}
	if len(loader.Loads) != 1 {
		t.Fatalf("expected 1 bitstream load, got %d", len(loader.Loads))
	}
	n, err := s.Naccs(1)
	if err != nil || n != 1 {
		t.Fatalf("naccs = %d, err = %v, want 1", n, err)
	}
}

func TestFourSimplexReplicas(t *testing.T) {
	s, _ := newTestScheduler(4)
	for slot := 0; slot < 4; slot++ {
		if err := s.Load(slot, 1, 0, 0, false, "x"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Naccs(1)
	if err != nil || n != 4 {
		t.Fatalf("naccs = %d, err = %v, want 4", n, err)
	}
	mask := s.ReadyMask(1)
	if mask != 0b1111 {
		t.Fatalf("ready mask = %#b, want 0b1111", mask)
	}
}

func TestTMRGroupOfThreePlusOneSimplex(t *testing.T) {
	s, _ := newTestScheduler(4)
	if err := s.Load(0, 1, 1, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(1, 1, 1, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(2, 1, 1, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(3, 1, 0, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	n, err := s.Naccs(1)
	if err != nil || n != 2 {
		t.Fatalf("naccs = %d, err = %v, want 2 (one TMR unit + one simplex)", n, err)
	}
}

func TestDMRGroupCollapsesToOneUnit(t *testing.T) {
	s, _ := newTestScheduler(4)
	if err := s.Load(0, 2, 0, 5, false, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(1, 2, 0, 5, false, "x"); err != nil {
		t.Fatal(err)
	}
	n, err := s.Naccs(2)
	if err != nil || n != 1 {
		t.Fatalf("naccs = %d, err = %v, want 1", n, err)
	}
}

func TestNaccsNoAcceleratorsWhenUnloaded(t *testing.T) {
	s, _ := newTestScheduler(4)
	_, err := s.Naccs(7)
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.NoAccelerators {
		t.Fatalf("expected NoAccelerators, got %v", err)
	}
}

func TestLoadIdempotentNoOpWhenSameTriple(t *testing.T) {
	s, loader := newTestScheduler(4)
	if err := s.Load(0, 1, 2, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(0, 1, 2, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	if len(loader.Loads) != 1 {
		t.Fatalf("expected exactly 1 bitstream load (idempotent no-op on repeat), got %d", len(loader.Loads))
	}
}

func TestLoadForceAlwaysReconfigures(t *testing.T) {
	s, loader := newTestScheduler(4)
	if err := s.Load(0, 1, 2, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(0, 1, 2, 0, true, "x"); err != nil {
		t.Fatal(err)
	}
	if len(loader.Loads) != 2 {
		t.Fatalf("expected 2 bitstream loads with force=true, got %d", len(loader.Loads))
	}
}

func TestLoadSlotOutOfRange(t *testing.T) {
	s, _ := newTestScheduler(4)
	err := s.Load(10, 1, 0, 0, false, "x")
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.SlotOutOfRange {
		t.Fatalf("expected SlotOutOfRange, got %v", err)
	}
}

func TestUnloadClearsShadow(t *testing.T) {
	s, _ := newTestScheduler(4)
	if err := s.Load(0, 1, 0, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Unload(0); err != nil {
		t.Fatal(err)
	}
	_, err := s.Naccs(1)
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.NoAccelerators {
		t.Fatalf("expected NoAccelerators after unload, got %v", err)
	}
	slots := s.Slots()
	if slots[0].State != Empty || slots[0].KernelID != 0 {
		t.Fatalf("expected slot 0 empty/unbound, got %+v", slots[0])
	}
}

func TestLoadBlocksWhileRunning(t *testing.T) {
	s, _ := newTestScheduler(2)
	if err := s.Load(0, 1, 0, 0, false, "x"); err != nil {
		t.Fatal(err)
	}

	s.Lock()
	s.IncRunning()
	s.Unlock()

	loadDone := make(chan struct{})
	go func() {
		if err := s.Load(1, 2, 0, 0, false, "y"); err != nil {
			t.Error(err)
		}
		close(loadDone)
	}()

	select {
	case <-loadDone:
		t.Fatal("Load returned while a kernel was still running")
	case <-time.After(50 * time.Millisecond):
	}

	s.Lock()
	s.DecRunning()
	s.Unlock()

	select {
	case <-loadDone:
	case <-time.After(time.Second):
		t.Fatal("Load did not unblock after running reached zero")
	}
}

func TestWcfgRcfgRoundTrip(t *testing.T) {
	win := &cfgRAMWindow{MemWindow: hcs.NewMemWindow(1 << 16), ram: make(map[[2]int]uint32)}
	s := New(hcs.New(win), NewFakeLoader(), 4)
	for slot := 0; slot < 4; slot++ {
		if err := s.Load(slot, 1, 0, 0, false, "x"); err != nil {
			t.Fatal(err)
		}
	}
	cfg := []uint32{10, 20, 30, 40}
	if err := s.Wcfg(1, 0x20, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := s.Rcfg(1, 0x20)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(cfg) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(cfg))
	}
	for i := range cfg {
		if got[i] != cfg[i] {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], cfg[i])
		}
	}
}

func TestWcfgRestoresShadowAfterSequence(t *testing.T) {
	s, _ := newTestScheduler(4)
	for slot := 0; slot < 4; slot++ {
		if err := s.Load(slot, 1, 0, 0, false, "x"); err != nil {
			t.Fatal(err)
		}
	}
	before := s.ReadyMask(1)
	if err := s.Wcfg(1, 0x0, []uint32{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	after := s.ReadyMask(1)
	if before != after {
		t.Fatalf("ready mask changed across Wcfg: before=%#b after=%#b", before, after)
	}
}

func TestWcfgRejectsMismatchedCfgLength(t *testing.T) {
	s, _ := newTestScheduler(4)
	if err := s.Load(0, 1, 0, 0, false, "x"); err != nil {
		t.Fatal(err)
	}
	err := s.Wcfg(1, 0, []uint32{1, 2})
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.BadWorkSize {
		t.Fatalf("expected BadWorkSize, got %v", err)
	}
}

func TestConcurrentNaccsReadsAreSafe(t *testing.T) {
	s, _ := newTestScheduler(4)
	for slot := 0; slot < 4; slot++ {
		if err := s.Load(slot, 1, 0, 0, false, "x"); err != nil {
			t.Fatal(err)
		}
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Naccs(1); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}
