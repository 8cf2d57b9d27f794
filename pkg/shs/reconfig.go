package shs

import (
	"fmt"

	"github.com/oisee/artico3/internal/bits"
	"github.com/oisee/artico3/pkg/a3errors"
)

// Load binds kernelID/tmr/dmr to slotIdx, loading a partial bitstream when
// the slot is empty, bound to a different kernel, or force is set. It
// blocks until no kernel is currently running (reconfiguration is a
// barrier), then holds the execution lock for the remainder of the call so
// no delegate can begin a new SEND in the meantime.
//
// Load(name, slot, tmr, dmr, force=false) is a no-op — it does not invoke
// the bitstream loader — when the slot already holds the same
// (kernelID, tmr, dmr).
func (s *Scheduler) Load(slotIdx int, kernelID int, tmr, dmr uint8, force bool, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.running > 0 {
		s.cond.Wait()
	}

	if slotIdx < 0 || slotIdx >= s.nslots {
		return a3errors.New(a3errors.SlotOutOfRange, fmt.Sprintf("slot %d", slotIdx))
	}

	slot := &s.slots[slotIdx]
	needsReconfig := slot.State == Empty || slot.KernelID != kernelID || force

	if needsReconfig {
		slot.State = Loading
		if err := s.loader.Load(path, true); err != nil {
			slot.State = Empty
			return a3errors.Wrap(a3errors.ReconfigFailed, path, err)
		}
		slot.State = Idle
	}

	slot.KernelID = kernelID
	s.shadow.ID = bits.SetNibble(s.shadow.ID, slotIdx, uint8(kernelID))
	s.shadow.TMR = bits.SetNibble(s.shadow.TMR, slotIdx, tmr)
	s.shadow.DMR = bits.SetNibble(s.shadow.DMR, slotIdx, dmr)

	return s.hw.Publish(s.toHCSShadowLocked(0))
}

// Unload clears slotIdx's shadow nibbles and state, blocking until no
// kernel is running.
func (s *Scheduler) Unload(slotIdx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.running > 0 {
		s.cond.Wait()
	}

	if slotIdx < 0 || slotIdx >= s.nslots {
		return a3errors.New(a3errors.SlotOutOfRange, fmt.Sprintf("slot %d", slotIdx))
	}

	slot := &s.slots[slotIdx]
	slot.State = Empty
	slot.KernelID = 0
	s.shadow.ID = bits.SetNibble(s.shadow.ID, slotIdx, 0)
	s.shadow.TMR = bits.SetNibble(s.shadow.TMR, slotIdx, 0)
	s.shadow.DMR = bits.SetNibble(s.shadow.DMR, slotIdx, 0)

	return s.hw.Publish(s.toHCSShadowLocked(0))
}
