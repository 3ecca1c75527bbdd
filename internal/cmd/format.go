package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sapphire/internal/ffs"
)

var formatBlockCount int

func addFormatCommand(root *cobra.Command) {
	formatCmd := &cobra.Command{
		Use:   "format <image-path>",
		Short: "Create and format a new flash image",
		Args:  cobra.ExactArgs(1),
		RunE:  runFormat,
	}
	formatCmd.Flags().IntVar(&formatBlockCount, "blocks", 256, "Number of 4 KiB blocks in the image")
	root.AddCommand(formatCmd)
}

func runFormat(cmd *cobra.Command, args []string) error {
	path := args[0]
	size := uint32(formatBlockCount) * ffs.BlockSize

	dev, err := ffs.OpenFileDevice(path, size)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer dev.Close()

	fs, status := ffs.Format(dev)
	if !status.Ok() {
		logger.LogStatus("ffs.format", status)
		return fmt.Errorf("format: %s", status)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "formatted %s: %d blocks, %d bytes free\n",
		path, formatBlockCount, fs.FreeSpace())
	return nil
}
