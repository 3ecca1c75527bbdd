package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sapphire/internal/ffs"
)

func addLsCommand(root *cobra.Command) {
	lsCmd := &cobra.Command{
		Use:   "ls <image-path>",
		Short: "List files in a flash image",
		Args:  cobra.ExactArgs(1),
		RunE:  runLs,
	}
	root.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
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

	fs, status := ffs.Mount(dev, false)
	if !status.Ok() {
		return fmt.Errorf("mount: %s", status)
	}

	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	for _, name := range fs.Files().Names() {
		fid, status := fs.Files().Lookup(name)
		if !status.Ok() {
			continue
		}
		p.Fprintf(w, "%s\t%d bytes\n", name, fs.Files().Size(fid))
	}
	return w.Flush()
}
