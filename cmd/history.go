package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcus/plate/internal/classify"
	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/output"
	"github.com/marcus/plate/internal/shell"
)

// resolveEntry finds an entry by full id or by a unique id suffix (the short
// id shown by list).
func resolveEntry(entries []models.Entry, ref string) (models.Entry, error) {
	var match []models.Entry
	for _, e := range entries {
		if e.ID == ref {
			return e, nil
		}
		if strings.HasSuffix(e.ID, ref) {
			match = append(match, e)
		}
	}
	switch len(match) {
	case 0:
		return models.Entry{}, fmt.Errorf("entry %s: %w", ref, shell.ErrNotFound)
	case 1:
		return match[0], nil
	default:
		return models.Entry{}, fmt.Errorf("id %q matches %d entries, use more characters", ref, len(match))
	}
}

func previewWidth() int {
	return max(output.TerminalWidth(100)-30, 20)
}

func printEntries(w io.Writer, entries []models.Entry) error {
	if jsonOut {
		return output.JSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return nil
	}
	width := previewWidth()
	for _, e := range entries {
		fmt.Fprintln(w, output.FormatEntryShort(e, width))
	}
	return nil
}

// stdinIsTerminal reports whether interactive prompts can be shown
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List clipboard history, newest first",
	GroupID: "history",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		entries, err := be.History()
		if err != nil {
			return err
		}

		if c, _ := cmd.Flags().GetString("category"); c != "" {
			want := models.NormalizeCategory(c)
			var filtered []models.Entry
			for _, e := range entries {
				if e.Category == want {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}
		if n, _ := cmd.Flags().GetInt("limit"); n > 0 && len(entries) > n {
			entries = entries[:n]
		}
		return printEntries(cmd.OutOrStdout(), entries)
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show one entry in full",
	GroupID: "history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		entries, err := be.History()
		if err != nil {
			return err
		}
		e, err := resolveEntry(entries, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOut {
			return output.JSON(e)
		}
		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			fmt.Fprint(out, e.Content)
			return nil
		}

		body := e.Content
		if e.Category == models.CategoryCode {
			if rendered, err := output.RenderCode(e.Content, classify.Language(e.Content), output.TerminalWidth(80)); err == nil {
				body = rendered
			}
		}
		fmt.Fprint(out, output.FormatEntryLong(e, body))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	Aliases: []string{"find"},
	Short:   "Search history content",
	Long:    "Case-insensitive substring search over text entries. --fuzzy ranks subsequence matches instead.",
	GroupID: "history",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		fuzzy, _ := cmd.Flags().GetBool("fuzzy")
		entries, err := be.Search(strings.Join(args, " "), fuzzy)
		if err != nil {
			return err
		}
		return printEntries(cmd.OutOrStdout(), entries)
	},
}

var copyCmd = &cobra.Command{
	Use:     "copy <id>",
	Aliases: []string{"cp"},
	Short:   "Put an entry back on the clipboard",
	GroupID: "history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		entries, err := be.History()
		if err != nil {
			return err
		}
		e, err := resolveEntry(entries, args[0])
		if err != nil {
			return err
		}
		if _, err := be.Copy(e.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Copied %s %s\n", output.ShortID(e.ID), output.FormatCategory(e.Category))
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"delete"},
	Short:   "Remove entries from history",
	GroupID: "history",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		entries, err := be.History()
		if err != nil {
			return err
		}
		var failed int
		for _, ref := range args {
			e, err := resolveEntry(entries, ref)
			if err == nil {
				err = be.Remove(e.ID)
			}
			if err != nil {
				output.Error("%v", err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", output.ShortID(e.ID))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d entries not removed", failed, len(args))
		}
		return nil
	},
}

var errNotConfirmed = errors.New("not confirmed")

var clearCmd = &cobra.Command{
	Use:     "clear",
	Short:   "Remove every entry from history",
	GroupID: "history",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			if !stdinIsTerminal() {
				return fmt.Errorf("refusing to clear history without --yes")
			}
			var ok bool
			err := huh.NewConfirm().
				Title("Clear the whole clipboard history?").
				Affirmative("Clear").
				Negative("Cancel").
				Value(&ok).
				Run()
			if err != nil {
				return err
			}
			if !ok {
				return errNotConfirmed
			}
		}

		be, err := openBackend()
		if err != nil {
			return err
		}
		defer be.Close()

		if err := be.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	},
}

func init() {
	listCmd.Flags().IntP("limit", "n", 20, "show at most n entries (0 for all)")
	listCmd.Flags().StringP("category", "c", "", "only text, link, code or image entries")
	showCmd.Flags().Bool("raw", false, "print the content only")
	searchCmd.Flags().BoolP("fuzzy", "f", false, "fuzzy subsequence match")
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(listCmd, showCmd, searchCmd, copyCmd, rmCmd, clearCmd)
}
