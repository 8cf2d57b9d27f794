// Command a3d is the artico3 daemon: it owns the hardware control surface,
// the kernel/port registry and the shuffler scheduler, and multiplexes
// client requests onto them through the shared-memory coordinator mailbox.
// One cobra root command, flags bound directly to a config struct, RunE
// returning errors instead of scattering os.Exit calls through the daemon
// logic.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oisee/artico3/pkg/a3log"
	"github.com/oisee/artico3/pkg/config"
	"github.com/oisee/artico3/pkg/coordinator"
	"github.com/oisee/artico3/pkg/dea"
	"github.com/oisee/artico3/pkg/hcs"
	"github.com/oisee/artico3/pkg/runtime"
	"github.com/oisee/artico3/pkg/shs"
)

func main() {
	cfg := config.DefaultDaemon()
	var memDevice string
	var registerBase uint64
	var simulate bool
	var snapshotPath string
	var snapshotInterval time.Duration

	root := &cobra.Command{
		Use:   "a3d",
		Short: "artico3 multi-tenant accelerator scheduling daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.RegisterBase = uintptr(registerBase)
			log := a3log.New(os.Stderr, logLevel(cfg.Verbose), "a3d")
			return runDaemon(cfg, memDevice, simulate, snapshotPath, snapshotInterval, log)
		},
	}

	root.Flags().StringVar(&memDevice, "mem-device", "/dev/mem", "physical memory device to mmap the register window from")
	root.Flags().Uint64Var(&registerBase, "register-base", 0x43c00000, "physical base address of the shuffler register window")
	root.Flags().IntVar(&cfg.RegisterLen, "register-len", 0x10000, "byte length of the register window")
	root.Flags().IntVar(&cfg.MaxKernels, "max-kernels", cfg.MaxKernels, "maximum concurrently registered kernels")
	root.Flags().IntVar(&cfg.MaxUsers, "max-users", cfg.MaxUsers, "maximum concurrent coordinator users")
	root.Flags().IntVar(&cfg.ChannelsPerUser, "channels-per-user", cfg.ChannelsPerUser, "in-flight request channels per user")
	root.Flags().StringVar(&cfg.CoordinatorSHM, "coordinator-shm", cfg.CoordinatorSHM, "shared-memory object name for the request mailbox")
	root.Flags().StringVar(&cfg.BitstreamDir, "bitstream-dir", cfg.BitstreamDir, "directory partial bitstreams are loaded from")
	root.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "busy-wait polling period when --wait=poll")
	root.Flags().BoolVar(&simulate, "simulate", true, "use in-process DMA provider and bitstream loader stand-ins instead of the physical drivers (no IRQ source is wired; an embedder wires the real ones here)")
	root.Flags().StringVar(&snapshotPath, "snapshot-path", "", "if set, periodically write a kernel-catalogue snapshot here for a3ctl")
	root.Flags().DurationVar(&snapshotInterval, "snapshot-interval", 10*time.Second, "snapshot write period")
	root.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "debug-level logging")

	var waitMode string
	root.Flags().StringVar(&waitMode, "wait", "irq", "completion wait strategy: irq or poll")
	root.PreRunE = func(cmd *cobra.Command, args []string) error {
		switch waitMode {
		case "irq":
			cfg.Wait = config.WaitIRQ
		case "poll":
			cfg.Wait = config.WaitPoll
		default:
			return fmt.Errorf("unknown --wait value %q: use irq or poll", waitMode)
		}
		return nil
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func logLevel(verbose bool) a3log.Level {
	if verbose {
		return a3log.LevelDebug
	}
	return a3log.LevelInfo
}

func runDaemon(cfg config.Daemon, memDevice string, simulate bool, snapshotPath string, snapshotInterval time.Duration, log *a3log.Logger) error {
	win, closeWin, err := openWindow(memDevice, cfg, simulate)
	if err != nil {
		return err
	}
	defer closeWin()

	var prov dea.Provider = dea.NewFakeProvider()
	var loader shs.BitstreamLoader = shs.NewFakeLoader()
	if !simulate {
		return fmt.Errorf("a3d: --simulate=false requires an embedder-provided DMA provider and bitstream loader wired into runtime.New")
	}

	rt, err := runtime.New(cfg, win, prov, loader, nil, log)
	if err != nil {
		return fmt.Errorf("a3d: initialise runtime: %w", err)
	}
	defer rt.Close()

	coord := coordinator.New(cfg.MaxUsers, cfg.ChannelsPerUser, cfg.MaxKernels)
	disp := newDispatcher(rt, cfg, log)
	go coord.Run(disp.handle)

	if snapshotPath != "" {
		go periodicSnapshot(rt, snapshotPath, snapshotInterval, log)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("received termination signal, shutting down")
	coord.Terminate()
	return nil
}

func periodicSnapshot(rt *runtime.Runtime, path string, interval time.Duration, log *a3log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		names := rt.Kernels.Names()
		snap, err := runtime.SnapshotOf(rt.Kernels, names)
		if err != nil {
			log.Warn("snapshot build failed: %v", err)
			continue
		}
		if err := runtime.SaveSnapshot(path, snap); err != nil {
			log.Warn("snapshot write failed: %v", err)
		}
	}
}

func openWindow(device string, cfg config.Daemon, simulate bool) (hcs.Window, func(), error) {
	if simulate {
		return hcs.NewMemWindow(cfg.RegisterLen / 4), func() {}, nil
	}
	win, err := hcs.OpenMMIOWindow(device, cfg.RegisterBase, cfg.RegisterLen)
	if err != nil {
		return nil, nil, fmt.Errorf("a3d: map register window: %w", err)
	}
	return win, func() { win.Close() }, nil
}
