// Package kpr is the Kernel & Port Registry: an in-memory catalogue of
// kernels and their ports, with a bank-layout invariant and a strictly
// ascending name-sorted insertion order for each port list.
//
// Combines a name-keyed lookup map with an ordered slice per direction for
// deterministic iteration, and keeps each list sorted by name after every
// insert.
package kpr

import (
	"sort"
	"sync"

	"github.com/oisee/artico3/pkg/a3errors"
)

// Direction is a port's data-flow role: constant, input, output, or
// bidirectional.
type Direction int

const (
	Constant Direction = iota
	Input
	Output
	InOut
)

func (d Direction) String() string {
	switch d {
	case Constant:
		return "const"
	case Input:
		return "in"
	case Output:
		return "out"
	case InOut:
		return "inout"
	default:
		return "?"
	}
}

// Port is one typed I/O port of a Kernel.
type Port struct {
	Name      string
	Size      int // bytes, always a multiple of 4
	Direction Direction
	Bank      int
	Buffer    []byte // user-visible backing storage
}

// Kernel is a registered logical accelerator program.
type Kernel struct {
	ID       int
	Name     string
	MemBytes int // rounded so every bank holds an integral number of words
	Banks    int
	RegFileSize int

	Consts  []*Port
	Inputs  []*Port
	Outputs []*Port
	InOuts  []*Port

	ConstantsLoaded bool

	bankUsed []bool
}

// NumPorts returns the total port count across all four lists.
func (k *Kernel) NumPorts() int {
	return len(k.Consts) + len(k.Inputs) + len(k.Outputs) + len(k.InOuts)
}

func (k *Kernel) listFor(dir Direction) *[]*Port {
	switch dir {
	case Constant:
		return &k.Consts
	case Input:
		return &k.Inputs
	case Output:
		return &k.Outputs
	default:
		return &k.InOuts
	}
}

// Registry is the kernel catalogue. A shared lock guards the map and
// identity table; lookups take a read lock, inserts/removes an exclusive
// one.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*Kernel
	byID       []*Kernel // index 0 unused, identities are 1..=MaxKernels
	maxKernels int
}

// New creates an empty Registry accepting identities 1..=maxKernels.
func New(maxKernels int) *Registry {
	return &Registry{
		byName: make(map[string]*Kernel),
		byID:   make([]*Kernel, maxKernels+1),
		maxKernels: maxKernels,
	}
}

// roundUpMemBytes rounds memBytes up so every one of banks banks holds an
// integral number of 32-bit words.
func roundUpMemBytes(memBytes, banks int) int {
	perBank := memBytes / banks
	if memBytes%banks != 0 {
		perBank++
	}
	wordsPerBank := (perBank + 3) / 4
	return banks * wordsPerBank * 4
}

// CreateKernel reserves the first free identity in 1..=MaxKernels, rounds
// mem_bytes per the bank-word-alignment rule, and registers an empty kernel.
func (r *Registry) CreateKernel(name string, memBytes, banks, regs int) (*Kernel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, a3errors.New(a3errors.DuplicateName, name)
	}

	id := 0
	for i := 1; i <= r.maxKernels; i++ {
		if r.byID[i] == nil {
			id = i
			break
		}
	}
	if id == 0 {
		return nil, a3errors.New(a3errors.TooManyKernels, name)
	}

	k := &Kernel{
		ID:          id,
		Name:        name,
		MemBytes:    roundUpMemBytes(memBytes, banks),
		Banks:       banks,
		RegFileSize: regs,
		bankUsed:    make([]bool, banks),
	}

	r.byID[id] = k
	r.byName[name] = k
	return k, nil
}

// ReleaseKernel removes the kernel's catalogue entry and drops its owned
// ports. Clearing any Slot bound to this kernel is the caller's
// responsibility: KPR does not own the slot table (see pkg/shs), so a
// caller that reassigns the released identity to a new kernel without first
// unloading every slot still bound to it will have that kernel's transfers
// misrouted to the stale slot. Callers must unload every bound slot before
// or alongside calling this.
func (r *Registry) ReleaseKernel(name string) (*Kernel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.byName[name]
	if !ok {
		return nil, a3errors.New(a3errors.NotFound, name)
	}

	delete(r.byName, name)
	r.byID[k.ID] = nil
	return k, nil
}

// Names returns the names of every currently registered kernel, in no
// particular order — used by diagnostics that want to snapshot the whole
// catalogue without knowing its contents in advance.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Lookup returns the kernel registered under name.
func (r *Registry) Lookup(name string) (*Kernel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byName[name]
	if !ok {
		return nil, a3errors.New(a3errors.NotFound, name)
	}
	return k, nil
}

// LookupByID returns the kernel registered under identity id.
func (r *Registry) LookupByID(id int) (*Kernel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id <= 0 || id >= len(r.byID) || r.byID[id] == nil {
		return nil, a3errors.New(a3errors.NotFound, "kernel id")
	}
	return r.byID[id], nil
}

// allocBank picks the next free bank for dir: ascending for inputs and
// constants, descending for outputs, ascending for bidirectional ports.
// Inputs fill banks from index 0 upwards; outputs fill banks from the
// highest index downwards.
func allocBank(used []bool, dir Direction) (int, bool) {
	if dir == Output {
		for b := len(used) - 1; b >= 0; b-- {
			if !used[b] {
				return b, true
			}
		}
		return 0, false
	}
	for b := 0; b < len(used); b++ {
		if !used[b] {
			return b, true
		}
	}
	return 0, false
}

// AllocPort locates the target list for direction, inserts a port in the
// lowest (or, for outputs, highest) free bank, then stably sorts the list
// by name ascending — the contract callers rely on for deterministic bank
// layout (see DESIGN.md for why this uses sort.SliceStable).
func (r *Registry) AllocPort(kname, pname string, size int, dir Direction) (*Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.byName[kname]
	if !ok {
		return nil, a3errors.New(a3errors.NotFound, kname)
	}

	list := k.listFor(dir)
	for _, p := range *list {
		if p.Name == pname {
			return nil, a3errors.New(a3errors.DuplicatePort, pname)
		}
	}

	bank, ok := allocBank(k.bankUsed, dir)
	if !ok {
		return nil, a3errors.New(a3errors.NoFreeBank, kname)
	}
	k.bankUsed[bank] = true

	p := &Port{Name: pname, Size: size, Direction: dir, Bank: bank, Buffer: make([]byte, size)}
	*list = append(*list, p)
	sort.SliceStable(*list, func(i, j int) bool { return (*list)[i].Name < (*list)[j].Name })

	if dir == Constant {
		k.ConstantsLoaded = false
	}

	return p, nil
}

// FreePort finds pname in any of the kernel's four lists and releases it.
func (r *Registry) FreePort(kname, pname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.byName[kname]
	if !ok {
		return a3errors.New(a3errors.NotFound, kname)
	}

	for _, list := range []*[]*Port{&k.Consts, &k.Inputs, &k.Outputs, &k.InOuts} {
		for i, p := range *list {
			if p.Name == pname {
				k.bankUsed[p.Bank] = false
				*list = append((*list)[:i], (*list)[i+1:]...)
				return nil
			}
		}
	}
	return a3errors.New(a3errors.NotFound, pname)
}
