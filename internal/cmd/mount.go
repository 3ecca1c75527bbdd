package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sapphire/internal/ffs"
)

var mountVerifyFree bool

func addMountCommand(root *cobra.Command) {
	mountCmd := &cobra.Command{
		Use:   "mount <image-path>",
		Short: "Mount a flash image and report its status",
		Args:  cobra.ExactArgs(1),
		RunE:  runMount,
	}
	mountCmd.Flags().BoolVar(&mountVerifyFree, "verify-free", false, "Byte-verify every free block during mount")
	root.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	path := args[0]

	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	dev, err := ffs.OpenFileDevice(path, uint32(fi.Size()))
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer dev.Close()

	fs, status := ffs.Mount(dev, mountVerifyFree)
	if !status.Ok() {
		logger.LogStatus("ffs.mount", status)
		return fmt.Errorf("mount: %s", status)
	}

	board, status := fs.BoardType()
	if !status.Ok() {
		logger.LogStatus("ffs.boardtype", status)
	}
	hardErrors, warning := fs.Stats()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "board_type = %d\n", board)
	fmt.Fprintf(out, "free_space = %d bytes\n", fs.FreeSpace())
	fmt.Fprintf(out, "file_count = %d\n", fs.FileCount())
	fmt.Fprintf(out, "hard_errors = %d\n", hardErrors)
	fmt.Fprintf(out, "warning = %v\n", warning)
	return nil
}
