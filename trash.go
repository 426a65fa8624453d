package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
	"github.com/cloudstack-files/cloudstack-go/internal/trashview"
)

func newTrashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Browse and manage trashed files",
		Args:  cobra.NoArgs,
		RunE:  runTrashLs,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List trashed files",
		Args:  cobra.NoArgs,
		RunE:  runTrashLs,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <id>...",
		Short: "Restore trashed files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTrashRestore,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge <id>...",
		Short: "Permanently delete trashed files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTrashPurge,
	})

	empty := &cobra.Command{
		Use:   "empty",
		Short: "Permanently delete everything in the trash",
		Args:  cobra.NoArgs,
		RunE:  runTrashEmpty,
	}
	empty.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	cmd.AddCommand(empty)

	return cmd
}

// withTrash opens a session and loads the trash listing before running fn.
func withTrash(cmd *cobra.Command, fn func(*trashview.View) error) error {
	return withSession(cmd.Context(), func(sess *Session) error {
		view := trashview.New(sess.Client, sess.Logger)
		if err := view.Load(cmd.Context()); err != nil {
			return err
		}

		return fn(view)
	})
}

func runTrashLs(cmd *cobra.Command, _ []string) error {
	return withTrash(cmd, func(view *trashview.View) error {
		files := view.Files()

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), files)
		}

		if len(files) == 0 {
			statusf("Trash is empty.\n")
			return nil
		}

		printFilesTable(cmd.OutOrStdout(), files)

		return nil
	})
}

func runTrashRestore(cmd *cobra.Command, args []string) error {
	return withTrash(cmd, func(view *trashview.View) error {
		results := make([]trashview.Result, 0, len(args))
		for _, id := range args {
			results = append(results, view.Restore(cmd.Context(), id))
		}

		return reportTrashResults(cmd.OutOrStdout(), results)
	})
}

func runTrashPurge(cmd *cobra.Command, args []string) error {
	return withTrash(cmd, func(view *trashview.View) error {
		return reportTrashResults(cmd.OutOrStdout(), view.PermanentDelete(cmd.Context(), args...))
	})
}

// reportTrashResults prints one line per result and returns the failures
// joined. A session failure is returned as-is so the login hint is shown.
func reportTrashResults(w io.Writer, results []trashview.Result) error {
	if flagJSON {
		if err := printJSON(w, trashResultsJSON(results)); err != nil {
			return err
		}
	}

	var errs []error

	for _, r := range results {
		if r.Err != nil {
			if api.IsSessionExpired(r.Err) {
				return r.Err
			}

			errs = append(errs, fmt.Errorf("%s: %s", labelOf(r), errorMessage(r.Err)))

			continue
		}

		if !flagJSON {
			fmt.Fprintf(w, "%-12s %s\n", r.Outcome, labelOf(r))
		}
	}

	return errors.Join(errs...)
}

type trashResultJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

func trashResultsJSON(results []trashview.Result) []trashResultJSON {
	out := make([]trashResultJSON, 0, len(results))
	for _, r := range results {
		j := trashResultJSON{ID: r.ID, Name: r.Name, Outcome: r.Outcome.String()}
		if r.Err != nil {
			j.Error = errorMessage(r.Err)
		}

		out = append(out, j)
	}

	return out
}

func labelOf(r trashview.Result) string {
	if r.Name == "" {
		return r.ID
	}

	return fmt.Sprintf("%s (%s)", r.Name, r.ID)
}

func runTrashEmpty(cmd *cobra.Command, _ []string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}

	return withTrash(cmd, func(view *trashview.View) error {
		n := len(view.Files())
		if n == 0 {
			statusf("Trash is already empty.\n")
			return nil
		}

		if !yes {
			ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
				fmt.Sprintf("Permanently delete %d trashed file(s)? [y/N] ", n))
			if err != nil {
				return err
			}

			if !ok {
				statusf("Aborted.\n")
				return nil
			}
		}

		msg, err := view.Empty(cmd.Context())
		if err != nil {
			return err
		}

		if msg != nil && msg.Message != "" {
			statusf("%s\n", msg.Message)
		} else {
			statusf("Trash emptied.\n")
		}

		return nil
	})
}

var errConfirmNeeded = errors.New("refusing to empty trash without a terminal; pass --yes")

// confirm asks a yes/no question on an interactive terminal.
func confirm(in io.Reader, prompt io.Writer, question string) (bool, error) {
	if f, ok := in.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		return false, errConfirmNeeded
	}

	fmt.Fprint(prompt, question)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes", nil
}
