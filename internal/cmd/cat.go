package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sapphire/internal/ffs"
)

func addCatCommand(root *cobra.Command) {
	catCmd := &cobra.Command{
		Use:   "cat <image-path> <file>",
		Short: "Print a file's contents from a flash image",
		Args:  cobra.ExactArgs(2),
		RunE:  runCat,
	}
	root.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	path, name := args[0], args[1]
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	dev, err := ffs.OpenFileDevice(path, uint32(fi.Size()))
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer dev.Close()

	fs, status := ffs.Mount(dev, false)
	if !status.Ok() {
		return fmt.Errorf("mount: %s", status)
	}

	h, status := fs.Open(name)
	if !status.Ok() {
		return fmt.Errorf("open %s: %s", name, status)
	}

	buf := make([]byte, h.Size())
	n, status := h.Read(buf)
	if !status.Ok() {
		return fmt.Errorf("read %s: %s", name, status)
	}
	_, err = cmd.OutOrStdout().Write(buf[:n])
	return err
}
