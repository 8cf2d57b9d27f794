package kpr

import (
	"testing"

	"github.com/oisee/artico3/pkg/a3errors"
)

func TestCreateKernelRoundsMemBytes(t *testing.T) {
	r := New(15)
	k, err := r.CreateKernel("addvector", 16384, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if k.MemBytes%(k.Banks*4) != 0 {
		t.Fatalf("mem bytes %d not bank/word aligned for %d banks", k.MemBytes, k.Banks)
	}
	if k.ID < 1 || k.ID > 15 {
		t.Fatalf("id %d out of range", k.ID)
	}
}

func TestCreateKernelRoundsUpWhenNotDivisible(t *testing.T) {
	r := New(15)
	k, err := r.CreateKernel("odd", 10, 3, 0) // 10/3 -> perBank=4 (rounded up) -> wordsPerBank=1 -> 3*4=12
	if err != nil {
		t.Fatal(err)
	}
	if k.MemBytes != 12 {
		t.Fatalf("mem bytes = %d, want 12", k.MemBytes)
	}
}

func TestCreateKernelDuplicateName(t *testing.T) {
	r := New(15)
	if _, err := r.CreateKernel("k", 1024, 2, 0); err != nil {
		t.Fatal(err)
	}
	_, err := r.CreateKernel("k", 1024, 2, 0)
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.DuplicateName {
		t.Fatalf("expected DuplicateName, got %v", err)
	}
}

func TestCreateKernelTooMany(t *testing.T) {
	r := New(1)
	if _, err := r.CreateKernel("a", 1024, 2, 0); err != nil {
		t.Fatal(err)
	}
	_, err := r.CreateKernel("b", 1024, 2, 0)
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.TooManyKernels {
		t.Fatalf("expected TooManyKernels, got %v", err)
	}
}

func TestAllocPortBankLayoutInputsLowOutputsHigh(t *testing.T) {
	r := New(15)
	if _, err := r.CreateKernel("k", 4096, 4, 0); err != nil {
		t.Fatal(err)
	}
	in, err := r.AllocPort("k", "a", 64, Input)
	if err != nil {
		t.Fatal(err)
	}
	if in.Bank != 0 {
		t.Fatalf("first input bank = %d, want 0", in.Bank)
	}
	out, err := r.AllocPort("k", "c", 64, Output)
	if err != nil {
		t.Fatal(err)
	}
	if out.Bank != 3 {
		t.Fatalf("first output bank = %d, want 3 (highest)", out.Bank)
	}
}

func TestAllocPortNoFreeBank(t *testing.T) {
	r := New(15)
	if _, err := r.CreateKernel("k", 4096, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AllocPort("k", "a", 64, Input); err != nil {
		t.Fatal(err)
	}
	_, err := r.AllocPort("k", "b", 64, Input)
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.NoFreeBank {
		t.Fatalf("expected NoFreeBank, got %v", err)
	}
}

func TestAllocPortListStaysSortedByName(t *testing.T) {
	r := New(15)
	if _, err := r.CreateKernel("k", 4096, 8, 0); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := r.AllocPort("k", name, 64, Input); err != nil {
			t.Fatal(err)
		}
	}
	kern, _ := r.Lookup("k")
	var got []string
	for _, p := range kern.Inputs {
		got = append(got, p.Name)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted names = %v, want %v", got, want)
		}
	}
}

func TestAllocPortDuplicateWithinList(t *testing.T) {
	r := New(15)
	if _, err := r.CreateKernel("k", 4096, 4, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AllocPort("k", "a", 64, Input); err != nil {
		t.Fatal(err)
	}
	_, err := r.AllocPort("k", "a", 64, Input)
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.DuplicatePort {
		t.Fatalf("expected DuplicatePort, got %v", err)
	}
}

func TestAllocConstantResetsLoadedFlag(t *testing.T) {
	r := New(15)
	kern, _ := r.CreateKernel("k", 4096, 4, 0)
	kern.ConstantsLoaded = true
	if _, err := r.AllocPort("k", "cst", 64, Constant); err != nil {
		t.Fatal(err)
	}
	if kern.ConstantsLoaded {
		t.Fatal("expected ConstantsLoaded reset to false")
	}
}

func TestFreePortReleasesBank(t *testing.T) {
	r := New(15)
	if _, err := r.CreateKernel("k", 4096, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AllocPort("k", "a", 64, Input); err != nil {
		t.Fatal(err)
	}
	if err := r.FreePort("k", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AllocPort("k", "b", 64, Input); err != nil {
		t.Fatalf("expected bank freed and reusable: %v", err)
	}
}

func TestFreePortNotFound(t *testing.T) {
	r := New(15)
	if _, err := r.CreateKernel("k", 4096, 1, 0); err != nil {
		t.Fatal(err)
	}
	err := r.FreePort("k", "ghost")
	if k, ok := a3errors.KindOf(err); !ok || k != a3errors.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestBankInvariantNeverExceedsCapacity(t *testing.T) {
	r := New(15)
	kern, _ := r.CreateKernel("k", 4096, 3, 0)
	if _, err := r.AllocPort("k", "a", 64, Input); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AllocPort("k", "b", 64, Output); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AllocPort("k", "c", 64, Constant); err != nil {
		t.Fatal(err)
	}
	if kern.NumPorts() > kern.Banks {
		t.Fatalf("NumPorts()=%d exceeds Banks=%d", kern.NumPorts(), kern.Banks)
	}
}
