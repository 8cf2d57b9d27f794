//go:build linux

package hcs

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MMIOWindow maps a physical register window via /dev/mem (or a UIO device
// node) and exposes it as a Window. Grounded on google-periph's
// host/pmem.Map (mmap of a physical address range through /dev/mem) and
// simokawa-periph's host/bcm283x/dma.go use of a raw mmap'd register
// window for DMA descriptor programming.
type MMIOWindow struct {
	file *os.File
	mem  []byte
}

// OpenMMIOWindow maps length bytes of physical memory starting at base
// through path (typically "/dev/mem" or a UIO device node).
func OpenMMIOWindow(path string, base uintptr, length int) (*MMIOWindow, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("hcs: open %s: %w", path, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), int64(base), length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hcs: mmap %s @0x%x len=%d: %w", path, base, length, err)
	}

	return &MMIOWindow{file: f, mem: mem}, nil
}

// Close unmaps the register window and closes the backing file descriptor.
func (w *MMIOWindow) Close() error {
	if w.mem != nil {
		if err := unix.Munmap(w.mem); err != nil {
			return err
		}
		w.mem = nil
	}
	return w.file.Close()
}

func (w *MMIOWindow) wordPtr(idx int) *uint32 {
	off := idx * 4
	return (*uint32)(unsafe.Pointer(&w.mem[off]))
}

// ReadWord performs an atomic 32-bit load at word index idx.
func (w *MMIOWindow) ReadWord(idx int) uint32 {
	off := idx * 4
	if off < 0 || off+4 > len(w.mem) {
		return 0
	}
	return atomic.LoadUint32(w.wordPtr(idx))
}

// WriteWord performs an atomic 32-bit store at word index idx.
func (w *MMIOWindow) WriteWord(idx int, v uint32) {
	off := idx * 4
	if off < 0 || off+4 > len(w.mem) {
		return
	}
	atomic.StoreUint32(w.wordPtr(idx), v)
}
