package exc

import (
	"encoding/binary"

	"github.com/oisee/artico3/pkg/dea"
	"github.com/oisee/artico3/pkg/hcs"
	"github.com/oisee/artico3/pkg/kpr"
)

// sendPort pairs a port with whether it is a constant: a constant's slice
// size and source offset are computed differently from a regular input's.
type sendPort struct {
	port     *kpr.Port
	constant bool
}

// sendLayout returns the ports participating in this round's SEND and
// whether constants were prepended. When the kernel defines constant ports
// and they have not yet been loaded, the constants are prepended to the
// transfer layout.
func sendLayout(k *kpr.Kernel) (ports []sendPort, loadingConsts bool) {
	if len(k.Consts) > 0 && !k.ConstantsLoaded {
		loadingConsts = true
		for _, p := range k.Consts {
			ports = append(ports, sendPort{port: p, constant: true})
		}
	}
	for _, p := range k.Inputs {
		ports = append(ports, sendPort{port: p, constant: false})
	}
	return ports, loadingConsts
}

func memPerBankBytes(k *kpr.Kernel) int {
	return k.MemBytes / k.Banks
}

// send performs one round's SEND phase. Caller must hold the scheduler's
// execution lock; it is released by the round loop only after send returns.
func (e *Executor) send(kernel *kpr.Kernel, naccs, round, nrounds int) error {
	ports, loadingConsts := sendLayout(kernel)
	nports := len(ports)

	if nports == 0 {
		// Only constants are defined and they are already loaded: arm the
		// hardware with a zero-length transfer, then trigger execution with
		// a software start command.
		if err := e.shs.PublishLocked(0); err != nil {
			return err
		}
		hwOff := uint32(len(kernel.Consts) * memPerBankBytes(kernel))
		tok := dea.Token{HWOff: dea.EncodeHWOffset(uint8(kernel.ID), hwOff), Size: 0, Dir: dea.MemToHw}
		fut, err := e.dea.Submit(0, tok)
		if err != nil {
			return err
		}
		if err := dea.Await(e.ctx, fut); err != nil {
			return err
		}
		return e.hw.Regwrite(uint8(kernel.ID), hcs.OpStart, 0, 0)
	}

	memPerBank := memPerBankBytes(kernel)
	blksize := nports * (memPerBank / 4)

	return e.dea.WithBuffer(naccs*blksize, func(buf []uint32, phys dea.PhysHandle) error {
		for a := 0; a < naccs; a++ {
			if round+a >= nrounds {
				continue // boundary rule: this unit has no more rounds to do
			}
			for p, sp := range ports {
				sizeSlice := len(sp.port.Buffer) / 4 / nrounds
				srcOffsetWords := a*sizeSlice + round*sizeSlice
				if sp.constant {
					sizeSlice = len(sp.port.Buffer) / 4
					srcOffsetWords = 0
				}
				idxMem := p*(blksize/nports) + a*blksize
				copyBytesToWords(buf[idxMem:idxMem+sizeSlice], sp.port.Buffer, srcOffsetWords)
			}
		}

		if err := e.shs.PublishLocked(uint32(blksize)); err != nil {
			return err
		}

		hwOff := uint32(0)
		if kernel.ConstantsLoaded {
			hwOff = uint32(len(kernel.Consts) * memPerBank)
		}
		tok := dea.Token{
			MemPhys: phys,
			HWOff:   dea.EncodeHWOffset(uint8(kernel.ID), hwOff),
			Size:    naccs * blksize * 4,
			Dir:     dea.MemToHw,
		}
		fut, err := e.dea.Submit(uint32(blksize), tok)
		if err != nil {
			return err
		}
		if err := dea.Await(e.ctx, fut); err != nil {
			return err
		}

		if loadingConsts {
			kernel.ConstantsLoaded = true
		}
		return nil
	})
}

// recv performs one round's RECV phase, symmetric to send.
func (e *Executor) recv(kernel *kpr.Kernel, naccs, round, nrounds int) error {
	var ports []*kpr.Port
	ports = append(ports, kernel.Outputs...)
	ports = append(ports, kernel.InOuts...)
	nports := len(ports)
	if nports == 0 {
		return nil
	}

	memPerBank := memPerBankBytes(kernel)
	blksize := nports * (memPerBank / 4)
	hwOff := dea.EncodeHWOffset(uint8(kernel.ID), uint32(kernel.MemBytes)-uint32(blksize)*4)

	return e.dea.WithBuffer(naccs*blksize, func(buf []uint32, phys dea.PhysHandle) error {
		if err := e.shs.PublishLocked(uint32(blksize)); err != nil {
			return err
		}
		tok := dea.Token{MemPhys: phys, HWOff: hwOff, Size: naccs * blksize * 4, Dir: dea.HwToMem}
		fut, err := e.dea.Submit(uint32(blksize), tok)
		if err != nil {
			return err
		}
		if err := dea.Await(e.ctx, fut); err != nil {
			return err
		}

		for a := 0; a < naccs; a++ {
			if round+a >= nrounds {
				continue
			}
			for p, port := range ports {
				sizeSlice := len(port.Buffer) / 4 / nrounds
				idxMem := p*(blksize/nports) + a*blksize
				dstOffsetWords := a*sizeSlice + round*sizeSlice
				copyWordsToBytes(port.Buffer, dstOffsetWords, buf[idxMem:idxMem+sizeSlice])
			}
		}
		return nil
	})
}

func copyBytesToWords(dst []uint32, src []byte, srcOffsetWords int) {
	for i := range dst {
		off := (srcOffsetWords + i) * 4
		dst[i] = binary.LittleEndian.Uint32(src[off : off+4])
	}
}

func copyWordsToBytes(dst []byte, dstOffsetWords int, src []uint32) {
	for i, w := range src {
		off := (dstOffsetWords + i) * 4
		binary.LittleEndian.PutUint32(dst[off:off+4], w)
	}
}
