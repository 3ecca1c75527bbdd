package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sapphire/internal/config"
	"sapphire/internal/defs"
	"sapphire/internal/gfx"
	"sapphire/internal/vm"
)

var (
	vmTicks   int
	vmPixels  int
	vmProfOut string
)

func addVmCommand(root *cobra.Command) {
	vmCmd := &cobra.Command{
		Use:   "vm",
		Short: "Load, run, and profile FX-VM programs",
	}

	loadCmd := &cobra.Command{
		Use:   "load <program.img>",
		Short: "Parse and validate a program image, printing its header",
		Args:  cobra.ExactArgs(1),
		RunE:  runVmLoad,
	}

	runCmd := &cobra.Command{
		Use:   "run <program.img>",
		Short: "Run a program's init entry point, then tick its loop",
		Args:  cobra.ExactArgs(1),
		RunE:  runVmRun,
	}
	runCmd.Flags().IntVar(&vmTicks, "ticks", 1, "Number of loop ticks to run after init")
	runCmd.Flags().IntVar(&vmPixels, "pixels", 0, "Pixel attribute table size (0 = sum of program's pixel arrays)")

	profileCmd := &cobra.Command{
		Use:   "profile <program.img>",
		Short: "Run a program under the cycle profiler and emit a pprof file",
		Args:  cobra.ExactArgs(1),
		RunE:  runVmProfile,
	}
	profileCmd.Flags().IntVar(&vmTicks, "ticks", 1, "Number of loop ticks to profile")
	profileCmd.Flags().StringVar(&vmProfOut, "out", "vm.pprof", "Output pprof file path")

	vmCmd.AddCommand(loadCmd, runCmd, profileCmd)
	root.AddCommand(vmCmd)
}

func loadImage(path string) (*vm.Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	img, status := vm.ParseImage(raw)
	if !status.Ok() {
		return nil, fmt.Errorf("parsing %s: %s", path, status)
	}
	return img, nil
}

func runVmLoad(cmd *cobra.Command, args []string) error {
	img, err := loadImage(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "program_name_hash = %#08x\n", img.ProgramNameHash)
	fmt.Fprintf(out, "program_type = %d\n", img.ProgramType)
	fmt.Fprintf(out, "init_pc = %d, loop_pc = %d\n", img.InitPC, img.LoopPC)
	fmt.Fprintf(out, "functions = %d, publish = %d, db = %d, cron = %d, constants = %d\n",
		len(img.FuncTable), len(img.Publish), len(img.DB), len(img.Cron), len(img.ConstantPool))
	return nil
}

func newVmForImage(img *vm.Image) *vm.Vm_t {
	pixelCount := vmPixels
	if pixelCount == 0 {
		for _, d := range img.PixelArrays {
			pixelCount += int(d.Count)
		}
	}
	m := vm.NewVm(img, pixelCount)

	cfg, _ := config.Load()
	if cfg.Vm.MaxCycles != 0 {
		m.SetMaxCycles(cfg.Vm.MaxCycles)
	}
	if cfg.Gfx.FramePeriodMs != 0 {
		m.SetFramePeriod(uint64(cfg.Gfx.FramePeriodMs))
	}

	buf := gfx.NewBuffer()
	buf.InterleaveX = cfg.Gfx.InterleaveX
	buf.InvertX = cfg.Gfx.InvertX
	buf.Transpose = cfg.Gfx.Transpose
	m.Lib = buf
	m.Out = os.Stdout
	return m
}

func runVmRun(cmd *cobra.Command, args []string) error {
	img, err := loadImage(args[0])
	if err != nil {
		return err
	}
	m := newVmForImage(img)
	m.Out = cmd.OutOrStdout()

	if status := m.RunInit(); status != defs.VM_STATUS_OK && status != defs.VM_STATUS_HALT {
		return fmt.Errorf("run_init: status %d", status)
	}

	wall := time.Now()
	for i := 0; i < vmTicks; i++ {
		results := m.Tick(uint64(100), wall)
		for _, status := range results {
			if status != defs.VM_STATUS_OK && status != defs.VM_STATUS_HALT &&
				status != defs.VM_STATUS_YIELDED && status != defs.VM_STATUS_DID_NOT_RUN {
				fmt.Fprintf(cmd.ErrOrStderr(), "tick %d: thread status %d\n", i, status)
			}
		}
		wall = wall.Add(100 * time.Millisecond)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "kvdb: %d entries (%d published)\n", m.Db().Count(), len(img.Publish))
	return nil
}

func runVmProfile(cmd *cobra.Command, args []string) error {
	img, err := loadImage(args[0])
	if err != nil {
		return err
	}
	m := newVmForImage(img)
	m.Out = cmd.OutOrStdout()

	prof := vm.NewProfiler()
	m.AttachProfiler(prof)

	if status := m.RunInit(); status != defs.VM_STATUS_OK && status != defs.VM_STATUS_HALT {
		return fmt.Errorf("run_init: status %d", status)
	}
	wall := time.Now()
	for i := 0; i < vmTicks; i++ {
		m.Tick(uint64(100), wall)
		wall = wall.Add(100 * time.Millisecond)
	}

	f, err := os.Create(vmProfOut)
	if err != nil {
		return fmt.Errorf("creating %s: %w", vmProfOut, err)
	}
	defer f.Close()
	if err := prof.ToPprof().Write(f); err != nil {
		return fmt.Errorf("writing pprof: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d cycles sampled)\n", vmProfOut, prof.Total())
	return nil
}
