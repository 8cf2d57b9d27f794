package runtime

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/oisee/artico3/pkg/kpr"
)

// KernelSnapshot is the gob-serialisable projection of one catalogue entry:
// a plain struct of exported fields persisted wholesale, no custom
// GobEncode.
type KernelSnapshot struct {
	ID          int
	Name        string
	MemBytes    int
	Banks       int
	RegFileSize int
	NumPorts    int
}

// Snapshot is a point-in-time dump of the kernel catalogue, used by a3ctl
// diagnostics to report daemon state without a live coordinator round-trip.
// It is not the coordinator's wire protocol — gob here persists to a file,
// never to the shared-memory mailbox, which uses its own fixed binary
// layout.
type Snapshot struct {
	Kernels []KernelSnapshot
}

// SnapshotOf builds a Snapshot from reg's current catalogue entries.
func SnapshotOf(reg *kpr.Registry, names []string) (Snapshot, error) {
	snap := Snapshot{Kernels: make([]KernelSnapshot, 0, len(names))}
	for _, name := range names {
		k, err := reg.Lookup(name)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Kernels = append(snap.Kernels, KernelSnapshot{
			ID:          k.ID,
			Name:        k.Name,
			MemBytes:    k.MemBytes,
			Banks:       k.Banks,
			RegFileSize: k.RegFileSize,
			NumPorts:    k.NumPorts(),
		})
	}
	return snap, nil
}

// SaveSnapshot writes snap to path as a gob-encoded file.
func SaveSnapshot(path string, snap Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("runtime: create snapshot %s: %w", path, err)
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(snap)
}

// LoadSnapshot reads a Snapshot previously written by SaveSnapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("runtime: open snapshot %s: %w", path, err)
	}
	defer f.Close()
	var snap Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("runtime: decode snapshot %s: %w", path, err)
	}
	return snap, nil
}
