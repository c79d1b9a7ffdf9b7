package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/marcus/plate/internal/output"
	"github.com/marcus/plate/internal/shortcuts"
)

var shortcutsCmd = &cobra.Command{
	Use:     "shortcuts",
	Short:   "Manage global shortcut bindings",
	GroupID: "system",
}

var shortcutsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bindings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		bindings, err := be.Shortcuts()
		if err != nil {
			return err
		}
		if jsonOut {
			return output.JSON(bindings)
		}
		out := cmd.OutOrStdout()
		for _, b := range bindings {
			acc := b.Accelerator
			if acc == "" {
				acc = "(unbound)"
			}
			fmt.Fprintf(out, "%-14s %s\n", b.Action, acc)
		}
		return nil
	},
}

var shortcutsSetCmd = &cobra.Command{
	Use:   "set <action> [accelerator]",
	Short: "Bind an action; omit the accelerator to unbind",
	Example: `  plate shortcuts set quick-access CommandOrControl+Shift+V
  plate shortcuts set toggle-sync Alt+F9
  plate shortcuts set clear-history`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc := ""
		if len(args) == 2 {
			acc = args[1]
		}

		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		bindings, err := be.Shortcuts()
		if err != nil {
			return err
		}
		bindings, err = shortcuts.Set(bindings, args[0], acc)
		if err != nil {
			return err
		}
		if err := be.SaveShortcuts(bindings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s bound to %q\n", args[0], acc)
		return nil
	},
}

var shortcutsExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write bindings as YAML to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		bindings, err := be.Shortcuts()
		if err != nil {
			return err
		}
		if len(args) == 0 || args[0] == "-" {
			return shortcuts.Export(cmd.OutOrStdout(), bindings)
		}

		var buf bytes.Buffer
		if err := shortcuts.Export(&buf, bindings); err != nil {
			return err
		}
		if err := atomic.WriteFile(args[0], &buf); err != nil {
			return fmt.Errorf("write %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d bindings to %s\n", len(bindings), args[0])
		return nil
	},
}

var shortcutsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace bindings from a YAML file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		bindings, err := shortcuts.Import(r)
		if err != nil {
			return err
		}

		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		if err := be.SaveShortcuts(bindings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d bindings\n", len(bindings))
		return nil
	},
}

func init() {
	shortcutsCmd.AddCommand(shortcutsListCmd, shortcutsSetCmd, shortcutsExportCmd, shortcutsImportCmd)
	rootCmd.AddCommand(shortcutsCmd)
}
