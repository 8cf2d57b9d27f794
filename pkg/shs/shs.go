// Package shs is the Shuffler Scheduler: owns the shuffler shadow state
// (id/tmr/dmr), computes the equivalent accelerator count and ready mask
// per kernel identity, serialises reconfiguration against in-flight
// execution, and sequences replicated configuration-register access under
// TMR > DMR > simplex priority.
//
// A single shared mutable shadow state is mutated under one lock by many
// concurrent callers, the same shape as a shared "current best" value
// guarded against concurrent workers.
package shs

import (
	"fmt"
	"sync"

	"github.com/oisee/artico3/internal/bits"
	"github.com/oisee/artico3/pkg/a3errors"
	"github.com/oisee/artico3/pkg/hcs"
)

// SlotState is a Slot's lifecycle state.
type SlotState int

const (
	Empty SlotState = iota
	Idle
	Loading
	Writing
	Running
	Ready
	Reading
)

func (s SlotState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Writing:
		return "writing"
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Reading:
		return "reading"
	default:
		return "?"
	}
}

// Slot is one reconfigurable region. KernelID is a back-reference (lookup,
// not ownership) into the kernel registry; 0 means unbound.
type Slot struct {
	Index    int
	State    SlotState
	KernelID int
}

// Shadow is the packed nibble view of id/tmr/dmr: bit width 4 per slot,
// slot i occupying bits [4i, 4i+4) of each 64-bit value.
type Shadow struct {
	ID  uint64
	TMR uint64
	DMR uint64
}

// BitstreamLoader is the external partial-reconfiguration collaborator:
// load_bitstream(path, is_partial).
type BitstreamLoader interface {
	Load(path string, isPartial bool) error
}

// PartialBitstreamPath returns the conventional partial-bitstream filename
// for a kernel/slot pair.
func PartialBitstreamPath(dir, kernelName string, slot int) string {
	return fmt.Sprintf("%s/a3_%s_a3_slot_%d_partial.bin", dir, kernelName, slot)
}

// Scheduler is the shuffler's shadow-register owner and reconfiguration
// gate. All state is guarded by one execution lock; exported Lock/Unlock
// let the Executor (pkg/exc) hold it across its own SEND/RECV prologs.
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	hw     *hcs.HCS
	loader BitstreamLoader

	nslots  int
	slots   []Slot
	shadow  Shadow
	running int
}

// New creates a Scheduler for nslots slots (read from hardware at system
// init).
func New(hw *hcs.HCS, loader BitstreamLoader, nslots int) *Scheduler {
	s := &Scheduler{
		hw:     hw,
		loader: loader,
		nslots: nslots,
		slots:  make([]Slot, nslots),
	}
	for i := range s.slots {
		s.slots[i].Index = i
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Lock acquires the execution lock. The Executor holds it across SEND's
// prolog/epilog: reconfiguration is a barrier, achieved by holding the
// execution lock across SEND's prolog/epilog.
func (s *Scheduler) Lock() { s.mu.Lock() }

// Unlock releases the execution lock.
func (s *Scheduler) Unlock() { s.mu.Unlock() }

// IncRunning increments the running-kernel counter. Caller must hold the
// execution lock.
func (s *Scheduler) IncRunning() {
	s.running++
}

// DecRunning decrements the running-kernel counter and wakes any Load/Unload
// blocked waiting for running to reach zero. Caller must hold the execution
// lock.
func (s *Scheduler) DecRunning() {
	s.running--
	if s.running == 0 {
		s.cond.Broadcast()
	}
}

// Slots returns a snapshot of the slot table.
func (s *Scheduler) Slots() []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Slot, len(s.slots))
	copy(out, s.slots)
	return out
}

func (s *Scheduler) toHCSShadowLocked(blockSize uint32) hcs.Shadow {
	idLo, idHi := bits.Unpack64(s.shadow.ID)
	tmrLo, tmrHi := bits.Unpack64(s.shadow.TMR)
	dmrLo, dmrHi := bits.Unpack64(s.shadow.DMR)
	return hcs.Shadow{
		IDLow: idLo, IDHigh: idHi,
		TMRLow: tmrLo, TMRHigh: tmrHi,
		DMRLow: dmrLo, DMRHigh: dmrHi,
		BlockSize: blockSize,
	}
}

// PublishLocked publishes the current shadow with the given block size.
// Caller must hold the execution lock; exported so the Executor can publish
// the per-round block size without re-deriving the shadow itself.
func (s *Scheduler) PublishLocked(blockSize uint32) error {
	return s.hw.Publish(s.toHCSShadowLocked(blockSize))
}

// naccsLocked collapses replicated slots into the equivalent accelerator
// count for kernelID. Caller must hold the execution lock.
func (s *Scheduler) naccsLocked(kernelID int) (int, error) {
	cleared := make([]bool, s.nslots)
	count := 0
	for i := 0; i < s.nslots; i++ {
		if cleared[i] {
			continue
		}
		if int(bits.Nibble(s.shadow.ID, i)) != kernelID {
			continue
		}
		tmrN := bits.Nibble(s.shadow.TMR, i)
		dmrN := bits.Nibble(s.shadow.DMR, i)
		switch {
		case tmrN != 0:
			for j := i + 1; j < s.nslots; j++ {
				if int(bits.Nibble(s.shadow.ID, j)) == kernelID && bits.Nibble(s.shadow.TMR, j) == tmrN {
					cleared[j] = true
				}
			}
		case dmrN != 0:
			for j := i + 1; j < s.nslots; j++ {
				if int(bits.Nibble(s.shadow.ID, j)) == kernelID && bits.Nibble(s.shadow.DMR, j) == dmrN {
					cleared[j] = true
				}
			}
		}
		count++
	}
	if count == 0 {
		return 0, a3errors.New(a3errors.NoAccelerators, fmt.Sprintf("kernel id %d", kernelID))
	}
	return count, nil
}

// Naccs returns the equivalent accelerator count for kernelID. Standalone
// convenience wrapper that takes the lock itself; the
// Executor's round loop instead holds the lock across Naccs+ReadyMask+SEND
// and should call NaccsLocked/ReadyMaskLocked directly.
func (s *Scheduler) Naccs(kernelID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.naccsLocked(kernelID)
}

// NaccsLocked is naccsLocked exported for callers (pkg/exc) that already
// hold the execution lock via Lock().
func (s *Scheduler) NaccsLocked(kernelID int) (int, error) {
	return s.naccsLocked(kernelID)
}

func (s *Scheduler) readyMaskLocked(kernelID int) uint32 {
	var mask uint32
	for i := 0; i < s.nslots; i++ {
		if int(bits.Nibble(s.shadow.ID, i)) == kernelID {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// ReadyMask returns the ready-register mask for kernelID.
func (s *Scheduler) ReadyMask(kernelID int) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyMaskLocked(kernelID)
}

// ReadyMaskLocked is readyMaskLocked exported for lock-holding callers.
func (s *Scheduler) ReadyMaskLocked(kernelID int) uint32 {
	return s.readyMaskLocked(kernelID)
}

// TransferIsDone collapses all replicas of kernelID into one "all done"
// predicate.
func (s *Scheduler) TransferIsDone(kernelID int) (bool, error) {
	mask := s.ReadyMask(kernelID)
	return s.hw.TransferIsDone(mask)
}
