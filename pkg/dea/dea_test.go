package dea

import (
	"context"
	"errors"
	"testing"

	"github.com/oisee/artico3/pkg/hcs"
)

func newTestDEA() (*DEA, *FakeProvider) {
	prov := NewFakeProvider()
	h := hcs.New(hcs.NewMemWindow(1 << 16))
	return New(h, prov), prov
}

func TestWithBufferReleasesOnSuccess(t *testing.T) {
	d, prov := newTestDEA()
	err := d.WithBuffer(16, func(buf []uint32, phys PhysHandle) error {
		if len(buf) != 16 {
			t.Fatalf("buf len = %d, want 16", len(buf))
		}
		buf[0] = 42
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(prov.allocs) != 0 {
		t.Fatalf("expected buffer released, %d still held", len(prov.allocs))
	}
}

func TestWithBufferReleasesOnError(t *testing.T) {
	d, prov := newTestDEA()
	sentinel := errors.New("boom")
	err := d.WithBuffer(4, func(buf []uint32, phys PhysHandle) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if len(prov.allocs) != 0 {
		t.Fatalf("expected buffer released even on error, %d still held", len(prov.allocs))
	}
}

func TestSubmitForwardsToken(t *testing.T) {
	d, prov := newTestDEA()
	tok := Token{HWOff: EncodeHWOffset(3, 0x100), Size: 64, Dir: MemToHw}
	fut, err := d.Submit(32, tok)
	if err != nil {
		t.Fatal(err)
	}
	if err := Await(context.Background(), fut); err != nil {
		t.Fatal(err)
	}
	if len(prov.Submitted) != 1 || prov.Submitted[0].HWOff != tok.HWOff {
		t.Fatalf("expected submitted token to match, got %+v", prov.Submitted)
	}
}

func TestEncodeHWOffsetEmbedsKernelID(t *testing.T) {
	got := EncodeHWOffset(0xa, 0x1234)
	want := uint32(0xa<<16) | 0x1234
	if got != want {
		t.Fatalf("EncodeHWOffset = %#x, want %#x", got, want)
	}
}
