package coordinator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Packed little-endian argument encoders/decoders for the Request argument
// layout: a fixed little-endian header framed with binary.Write/binary.Read
// rather than a general-purpose serialization library, matching a
// no-new-wire-protocol constraint.

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

func readCString(r *bytes.Reader) (string, error) {
	var b bytes.Buffer
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("coordinator: read c-string: %w", err)
		}
		if c == 0 {
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}

// EncodeKernelCreate packs name;membytes;membanks;regs for FuncTag
// KernelCreate.
func EncodeKernelCreate(name string, memBytes, memBanks, regs uint64) []byte {
	var buf bytes.Buffer
	writeCString(&buf, name)
	binary.Write(&buf, binary.LittleEndian, memBytes)  //nolint:errcheck // bytes.Buffer never errors
	binary.Write(&buf, binary.LittleEndian, memBanks)  //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, regs)      //nolint:errcheck
	return buf.Bytes()
}

// KernelCreateArgs is the decoded form of EncodeKernelCreate's payload.
type KernelCreateArgs struct {
	Name                     string
	MemBytes, MemBanks, Regs uint64
}

func DecodeKernelCreate(args []byte) (KernelCreateArgs, error) {
	r := bytes.NewReader(args)
	name, err := readCString(r)
	if err != nil {
		return KernelCreateArgs{}, err
	}
	var a KernelCreateArgs
	a.Name = name
	if err := binary.Read(r, binary.LittleEndian, &a.MemBytes); err != nil {
		return KernelCreateArgs{}, fmt.Errorf("coordinator: decode membytes: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &a.MemBanks); err != nil {
		return KernelCreateArgs{}, fmt.Errorf("coordinator: decode membanks: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &a.Regs); err != nil {
		return KernelCreateArgs{}, fmt.Errorf("coordinator: decode regs: %w", err)
	}
	return a, nil
}

// EncodeKernelExecute packs name;gsize;lsize for FuncTag KernelExecute.
func EncodeKernelExecute(name string, gsize, lsize uint64) []byte {
	var buf bytes.Buffer
	writeCString(&buf, name)
	binary.Write(&buf, binary.LittleEndian, gsize) //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, lsize) //nolint:errcheck
	return buf.Bytes()
}

// KernelExecuteArgs is the decoded form of EncodeKernelExecute's payload.
type KernelExecuteArgs struct {
	Name         string
	Gsize, Lsize uint64
}

func DecodeKernelExecute(args []byte) (KernelExecuteArgs, error) {
	r := bytes.NewReader(args)
	name, err := readCString(r)
	if err != nil {
		return KernelExecuteArgs{}, err
	}
	var a KernelExecuteArgs
	a.Name = name
	if err := binary.Read(r, binary.LittleEndian, &a.Gsize); err != nil {
		return KernelExecuteArgs{}, fmt.Errorf("coordinator: decode gsize: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &a.Lsize); err != nil {
		return KernelExecuteArgs{}, fmt.Errorf("coordinator: decode lsize: %w", err)
	}
	return a, nil
}

// EncodeAlloc packs size;kname;pname;direction for FuncTag Alloc.
func EncodeAlloc(size uint64, kname, pname string, direction uint32) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, size) //nolint:errcheck
	writeCString(&buf, kname)
	writeCString(&buf, pname)
	binary.Write(&buf, binary.LittleEndian, direction) //nolint:errcheck
	return buf.Bytes()
}

// AllocArgs is the decoded form of EncodeAlloc's payload.
type AllocArgs struct {
	Size         uint64
	Kname, Pname string
	Direction    uint32
}

func DecodeAlloc(args []byte) (AllocArgs, error) {
	r := bytes.NewReader(args)
	var a AllocArgs
	if err := binary.Read(r, binary.LittleEndian, &a.Size); err != nil {
		return AllocArgs{}, fmt.Errorf("coordinator: decode size: %w", err)
	}
	var err error
	if a.Kname, err = readCString(r); err != nil {
		return AllocArgs{}, err
	}
	if a.Pname, err = readCString(r); err != nil {
		return AllocArgs{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &a.Direction); err != nil {
		return AllocArgs{}, fmt.Errorf("coordinator: decode direction: %w", err)
	}
	return a, nil
}

// EncodeLoad packs name;slot;tmr;dmr;force for FuncTag Load.
func EncodeLoad(name string, slot, tmr, dmr uint8, force bool) []byte {
	var buf bytes.Buffer
	writeCString(&buf, name)
	buf.WriteByte(slot)
	buf.WriteByte(tmr)
	buf.WriteByte(dmr)
	if force {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// LoadArgs is the decoded form of EncodeLoad's payload.
type LoadArgs struct {
	Name           string
	Slot, Tmr, Dmr uint8
	Force          bool
}

func DecodeLoad(args []byte) (LoadArgs, error) {
	r := bytes.NewReader(args)
	name, err := readCString(r)
	if err != nil {
		return LoadArgs{}, err
	}
	rest := make([]byte, 4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return LoadArgs{}, fmt.Errorf("coordinator: decode load tail: %w", err)
	}
	return LoadArgs{Name: name, Slot: rest[0], Tmr: rest[1], Dmr: rest[2], Force: rest[3] != 0}, nil
}

// EncodeUnload packs slot for FuncTag Unload.
func EncodeUnload(slot uint8) []byte {
	return []byte{slot}
}

// DecodeUnload unpacks Unload's single-byte payload.
func DecodeUnload(args []byte) (uint8, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("coordinator: decode unload: short payload")
	}
	return args[0], nil
}

// EncodeWcfg packs name;offset;naccs*u32 configuration words for FuncTag
// KernelWcfg.
func EncodeWcfg(name string, offset uint16, words []uint32) []byte {
	var buf bytes.Buffer
	writeCString(&buf, name)
	binary.Write(&buf, binary.LittleEndian, offset) //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, words)  //nolint:errcheck
	return buf.Bytes()
}

// WcfgArgs is the decoded form of EncodeWcfg's payload.
type WcfgArgs struct {
	Name   string
	Offset uint16
	Words  []uint32
}

// DecodeWcfg decodes a Wcfg payload; naccs tells it how many trailing u32
// words to read (the coordinator layer, not the wire layout, knows naccs at
// dispatch time).
func DecodeWcfg(args []byte, naccs int) (WcfgArgs, error) {
	r := bytes.NewReader(args)
	name, err := readCString(r)
	if err != nil {
		return WcfgArgs{}, err
	}
	var a WcfgArgs
	a.Name = name
	if err := binary.Read(r, binary.LittleEndian, &a.Offset); err != nil {
		return WcfgArgs{}, fmt.Errorf("coordinator: decode wcfg offset: %w", err)
	}
	a.Words = make([]uint32, naccs)
	if err := binary.Read(r, binary.LittleEndian, a.Words); err != nil {
		return WcfgArgs{}, fmt.Errorf("coordinator: decode wcfg words: %w", err)
	}
	return a, nil
}

// EncodeRcfg packs name;offset for FuncTag KernelRcfg (the read has no
// trailing payload; the response carries naccs*u32 words back).
func EncodeRcfg(name string, offset uint16) []byte {
	var buf bytes.Buffer
	writeCString(&buf, name)
	binary.Write(&buf, binary.LittleEndian, offset) //nolint:errcheck
	return buf.Bytes()
}

// DecodeRcfg decodes a Rcfg request payload (name, offset).
func DecodeRcfg(args []byte) (string, uint16, error) {
	r := bytes.NewReader(args)
	name, err := readCString(r)
	if err != nil {
		return "", 0, err
	}
	var offset uint16
	if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
		return "", 0, fmt.Errorf("coordinator: decode rcfg offset: %w", err)
	}
	return name, offset, nil
}

// EncodeName packs a single C-string name, the payload shape shared by
// KernelRelease, KernelWait, KernelReset and GetNaccs.
func EncodeName(name string) []byte {
	var buf bytes.Buffer
	writeCString(&buf, name)
	return buf.Bytes()
}

// DecodeName unpacks the single-C-string payload.
func DecodeName(args []byte) (string, error) {
	return readCString(bytes.NewReader(args))
}

// EncodeFree packs kname;pname for FuncTag Free.
func EncodeFree(kname, pname string) []byte {
	var buf bytes.Buffer
	writeCString(&buf, kname)
	writeCString(&buf, pname)
	return buf.Bytes()
}

// FreeArgs is the decoded form of EncodeFree's payload.
type FreeArgs struct {
	Kname, Pname string
}

func DecodeFree(args []byte) (FreeArgs, error) {
	r := bytes.NewReader(args)
	var a FreeArgs
	var err error
	if a.Kname, err = readCString(r); err != nil {
		return FreeArgs{}, err
	}
	if a.Pname, err = readCString(r); err != nil {
		return FreeArgs{}, err
	}
	return a, nil
}
