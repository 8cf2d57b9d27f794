// Command a3ctl is the operator-facing diagnostic client: it reads the
// kernel-catalogue snapshot a3d periodically writes (pkg/runtime.Snapshot)
// and prints it, the same way a report is printed from a checkpoint file
// rather than re-running the work that produced it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oisee/artico3/pkg/runtime"
)

func main() {
	var snapshotPath string

	root := &cobra.Command{
		Use:   "a3ctl",
		Short: "artico3 diagnostic client",
	}

	kernelsCmd := &cobra.Command{
		Use:   "kernels",
		Short: "list the kernels registered in a3d's last snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printKernels(snapshotPath)
		},
	}
	kernelsCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "path to the snapshot file written by a3d --snapshot-path")
	kernelsCmd.MarkFlagRequired("snapshot")

	root.AddCommand(kernelsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func printKernels(path string) error {
	snap, err := runtime.LoadSnapshot(path)
	if err != nil {
		return fmt.Errorf("a3ctl: %w", err)
	}

	if len(snap.Kernels) == 0 {
		fmt.Println("no kernels registered")
		return nil
	}

	fmt.Printf("%-4s %-20s %10s %6s %8s %6s\n", "ID", "NAME", "MEMBYTES", "BANKS", "REGBYTES", "PORTS")
	for _, k := range snap.Kernels {
		fmt.Printf("%-4d %-20s %10d %6d %8d %6d\n", k.ID, k.Name, k.MemBytes, k.Banks, k.RegFileSize, k.NumPorts)
	}
	return nil
}
