package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sapphire/internal/config"
)

func addConfigCommand(root *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show sapphire.toml",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the resolved sapphire.toml path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.Path())
			return nil
		},
	})
	root.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config file: %s\n", config.Path())
	fmt.Fprintf(out, "device.image_path = %s\n", cfg.Device.ImagePath)
	fmt.Fprintf(out, "device.block_count = %d\n", cfg.Device.BlockCount)
	fmt.Fprintf(out, "vm.max_cycles = %d\n", cfg.Vm.MaxCycles)
	fmt.Fprintf(out, "vm.max_threads = %d\n", cfg.Vm.MaxThreads)
	fmt.Fprintf(out, "vm.tick_ms = %d\n", cfg.Vm.TickMs)
	fmt.Fprintf(out, "gfx.frame_period_ms = %d\n", cfg.Gfx.FramePeriodMs)
	return nil
}
