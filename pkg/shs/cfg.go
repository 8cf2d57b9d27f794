package shs

import (
	"github.com/oisee/artico3/internal/bits"
	"github.com/oisee/artico3/pkg/a3errors"
	"github.com/oisee/artico3/pkg/hcs"
)

// group is one step of the replicated configuration-register sequence: the
// slots that jointly form one equivalent-accelerator unit.
type group struct {
	slots []int
}

// groupsLocked enumerates the replicated-access sequence: every TMR group
// in ascending group id (1..=15), then every DMR group in ascending group
// id (1..=15), then simplex slots in ascending slot index. Caller must hold
// the execution lock.
func (s *Scheduler) groupsLocked(kernelID int) []group {
	assigned := make([]bool, s.nslots)
	var groups []group

	for g := uint8(1); g <= 15; g++ {
		var slots []int
		for i := 0; i < s.nslots; i++ {
			if assigned[i] {
				continue
			}
			if int(bits.Nibble(s.shadow.ID, i)) == kernelID && bits.Nibble(s.shadow.TMR, i) == g {
				slots = append(slots, i)
				assigned[i] = true
			}
		}
		if len(slots) > 0 {
			groups = append(groups, group{slots: slots})
		}
	}

	for g := uint8(1); g <= 15; g++ {
		var slots []int
		for i := 0; i < s.nslots; i++ {
			if assigned[i] {
				continue
			}
			if int(bits.Nibble(s.shadow.ID, i)) == kernelID && bits.Nibble(s.shadow.DMR, i) == g {
				slots = append(slots, i)
				assigned[i] = true
			}
		}
		if len(slots) > 0 {
			groups = append(groups, group{slots: slots})
		}
	}

	for i := 0; i < s.nslots; i++ {
		if assigned[i] {
			continue
		}
		if int(bits.Nibble(s.shadow.ID, i)) == kernelID {
			groups = append(groups, group{slots: []int{i}})
		}
	}

	return groups
}

// pseudoShadowLocked derives a shadow containing only the nibbles for the
// given slots, leaving every other slot's id/tmr/dmr at zero.
func (s *Scheduler) pseudoShadowLocked(kernelID int, slots []int) Shadow {
	var sh Shadow
	for _, i := range slots {
		sh.ID = bits.SetNibble(sh.ID, i, uint8(kernelID))
		sh.TMR = bits.SetNibble(sh.TMR, i, bits.Nibble(s.shadow.TMR, i))
		sh.DMR = bits.SetNibble(sh.DMR, i, bits.Nibble(s.shadow.DMR, i))
	}
	return sh
}

func toHCSShadow(sh Shadow, blockSize uint32) hcs.Shadow {
	idLo, idHi := bits.Unpack64(sh.ID)
	tmrLo, tmrHi := bits.Unpack64(sh.TMR)
	dmrLo, dmrHi := bits.Unpack64(sh.DMR)
	return hcs.Shadow{
		IDLow: idLo, IDHigh: idHi,
		TMRLow: tmrLo, TMRHigh: tmrHi,
		DMRLow: dmrLo, DMRHigh: dmrHi,
		BlockSize: blockSize,
	}
}

// Wcfg writes cfg (one word per equivalent-accelerator unit) to offset on
// every participating unit, sequenced TMR > DMR > simplex, then restores
// the prior shadow. It holds the execution lock for the entire sequence,
// serialising against delegates and Load/Unload.
func (s *Scheduler) Wcfg(kernelID int, offset uint16, cfg []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.groupsLocked(kernelID)
	if len(groups) == 0 {
		return a3errors.New(a3errors.NoAccelerators, "wcfg")
	}
	if len(cfg) != len(groups) {
		return a3errors.New(a3errors.BadWorkSize, "cfg length must equal equivalent accelerator count")
	}

	prev := s.shadow
	defer func() {
		s.shadow = prev
		_ = s.hw.Publish(s.toHCSShadowLocked(0))
	}()

	for i, g := range groups {
		s.shadow = s.pseudoShadowLocked(kernelID, g.slots)
		if err := s.hw.Publish(toHCSShadow(s.shadow, 0)); err != nil {
			return err
		}
		if err := s.hw.Regwrite(uint8(kernelID), hcs.OpRegister, offset, cfg[i]); err != nil {
			return err
		}
	}
	return nil
}

// Rcfg reads one word per equivalent-accelerator unit from offset,
// sequenced identically to Wcfg, and restores the prior shadow.
func (s *Scheduler) Rcfg(kernelID int, offset uint16) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.groupsLocked(kernelID)
	if len(groups) == 0 {
		return nil, a3errors.New(a3errors.NoAccelerators, "rcfg")
	}

	prev := s.shadow
	defer func() {
		s.shadow = prev
		_ = s.hw.Publish(s.toHCSShadowLocked(0))
	}()

	out := make([]uint32, len(groups))
	for i, g := range groups {
		s.shadow = s.pseudoShadowLocked(kernelID, g.slots)
		if err := s.hw.Publish(toHCSShadow(s.shadow, 0)); err != nil {
			return nil, err
		}
		v, err := s.hw.Regread(uint8(kernelID), hcs.OpRegister, offset)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
