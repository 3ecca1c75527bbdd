package cmd

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestTopLevelCommandsRegistered(t *testing.T) {
	root := NewRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"format", "mount", "ls", "cat", "vm", "config"} {
		if !names[name] {
			t.Errorf("%q subcommand not registered on root", name)
		}
	}
}

func TestVmSubcommandsRegistered(t *testing.T) {
	root := NewRootCmd()
	var vmCmd *cobra.Command
	for _, c := range root.Commands() {
		if c.Name() == "vm" {
			vmCmd = c
		}
	}
	if vmCmd == nil {
		t.Fatal("'vm' subcommand not registered")
	}
	subNames := map[string]bool{}
	for _, c := range vmCmd.Commands() {
		subNames[c.Name()] = true
	}
	for _, name := range []string{"load", "run", "profile"} {
		if !subNames[name] {
			t.Errorf("'vm %s' subcommand not found", name)
		}
	}
}
