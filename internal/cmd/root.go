// Package cmd builds sapphirectl's command tree with
// github.com/spf13/cobra, the way dsmmcken-dh-cli's root.go does
// (NewRootCmd, PersistentPreRunE, per-command addXCommand helpers), per
// SPEC_FULL.md §2's CLI section.
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sapphire/internal/config"
	"sapphire/internal/logging"
)

var Version = "dev"

var (
	verboseFlag bool
	quietFlag   bool
	ConfigDir   string

	logger *logging.Logger
)

// NewRootCmd assembles the full sapphirectl command tree.
func NewRootCmd() *cobra.Command {
	cmd := newRootCmd()
	addFormatCommand(cmd)
	addMountCommand(cmd)
	addLsCommand(cmd)
	addCatCommand(cmd)
	addVmCommand(cmd)
	addConfigCommand(cmd)
	return cmd
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sapphirectl",
		Short:         "Sapphire flash filesystem and FX-VM control tool",
		Long:          "sapphirectl -- format and inspect a Sapphire flash image, and load/run/profile FX-VM programs against it.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			level := log.InfoLevel
			if verboseFlag {
				level = log.DebugLevel
			}
			if quietFlag {
				level = log.ErrorLevel
			}
			logger = logging.New(level)
			config.SetDir(ConfigDir)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.StringVar(&ConfigDir, "config-dir", "", "Directory to resolve sapphire.toml from (default: $SAPPHIRE_HOME or .)")

	if v := os.Getenv("SAPPHIRE_HOME"); v != "" && ConfigDir == "" {
		ConfigDir = v
	}

	return rootCmd
}

func Execute() error {
	return NewRootCmd().Execute()
}
