// Package dea is the DMA Engine Adapter: scoped acquisition of a
// DMA-coherent page-aligned buffer, and a submit/await contract against an
// external DMA provider. The provider itself (dma_alloc/dma_submit/dma_wait)
// is out of scope — Provider below is the seam.
//
// Shaped like programming a hardware descriptor then polling/waiting for
// the engine to signal completion: submit work to an external accelerator,
// then block for its answer, whether the transport is a physical DMA
// channel or something else entirely.
package dea

import (
	"context"

	"github.com/oisee/artico3/pkg/a3errors"
	"github.com/oisee/artico3/pkg/hcs"
)

// Direction is the transfer direction between host memory and the shuffler.
type Direction int

const (
	MemToHw Direction = iota
	HwToMem
)

func (d Direction) String() string {
	if d == MemToHw {
		return "mem->hw"
	}
	return "hw->mem"
}

// PhysHandle identifies a DMA-coherent allocation to the external provider.
type PhysHandle uintptr

// Provider is the external physical-memory DMA collaborator: dma_alloc,
// dma_submit, dma_wait. Implementations talk to the kernel driver / UIO /
// VFIO layer that actually owns coherent memory; DEA only sequences calls
// against this interface.
type Provider interface {
	// Alloc reserves a DMA-coherent buffer of the given byte length and
	// returns a host-addressable view of it plus its physical handle.
	Alloc(size int) (buf []uint32, phys PhysHandle, err error)
	// Free releases a buffer previously returned by Alloc.
	Free(phys PhysHandle) error
	// Submit programs and starts a transfer, returning a Future that
	// completes when the provider signals the transfer is done.
	Submit(tok Token) (Future, error)
}

// Token is the transfer descriptor submitted to the provider.
type Token struct {
	MemPhys PhysHandle
	MemOff  int
	HWBase  uint32
	HWOff   uint32
	Size    int
	Dir     Direction
}

// Future is a pending DMA completion. Submit's caller must either Wait it
// or abandon it; abandoning (letting ctx expire or never calling Wait)
// cancels the wait but does not rewind the transfer — Go has no
// destructors, so cancellation is modeled with context.Context instead of a
// drop side effect.
type Future interface {
	Wait(ctx context.Context) error
}

// DEA sequences buffer acquisition, HCS programming and provider submission.
type DEA struct {
	hw   *hcs.HCS
	prov Provider
}

// New binds a DEA to a register surface and an external DMA provider.
func New(hw *hcs.HCS, prov Provider) *DEA {
	return &DEA{hw: hw, prov: prov}
}

// WithBuffer acquires a buffer of lenWords 32-bit words, runs body, and
// releases the buffer on every exit path — the Go equivalent of RAII-scoped
// ownership for a resource that has no destructor to rely on.
func (d *DEA) WithBuffer(lenWords int, body func(buf []uint32, phys PhysHandle) error) error {
	buf, phys, err := d.prov.Alloc(lenWords * 4)
	if err != nil {
		return a3errors.Wrap(a3errors.DmaUnavailable, "allocate DMA buffer", err)
	}
	defer d.prov.Free(phys) //nolint:errcheck // best-effort release on every exit path

	return body(buf, phys)
}

// Submit posts the transfer descriptor to the provider. blockSizeWords is
// accepted for the caller's documentation value only: publishing the block
// size is SHS's job (SHS.PublishLocked is called immediately before
// Submit), not DEA's. DEA must not re-publish its own Shadow here: a bare
// hcs.Shadow{BlockSize: ...} literal would zero the id/tmr/dmr nibbles the
// scheduler just wrote, misrouting the transfer to no accelerator at all.
func (d *DEA) Submit(blockSizeWords uint32, tok Token) (Future, error) {
	fut, err := d.prov.Submit(tok)
	if err != nil {
		return nil, a3errors.Wrap(a3errors.DmaUnavailable, "submit transfer", err)
	}
	return fut, nil
}

// Await blocks until fut completes or ctx is done. A context deadline
// exceeded surfaces as the optional DmaTimeout error kind.
func Await(ctx context.Context, fut Future) error {
	if err := fut.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return a3errors.Wrap(a3errors.DmaTimeout, "awaiting DMA completion", err)
		}
		return a3errors.Wrap(a3errors.DmaUnavailable, "awaiting DMA completion", err)
	}
	return nil
}

// EncodeHWOffset embeds the kernel identity into bits 16..19 of a hardware
// offset so the shuffler routes the transfer to the correct slot group.
func EncodeHWOffset(kernelID uint8, offset uint32) uint32 {
	return (uint32(kernelID&0xf) << 16) | offset
}
