package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
	"github.com/cloudstack-files/cloudstack-go/internal/transfer"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List files",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path>...",
		Short: "Upload files",
		Long: `Upload one or more local files. Uploads run in parallel up to
[transfers] parallel_uploads.

With --watch, the command instead keeps running and uploads every new file
that appears in the given directory once it stops changing.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("watch"); dir != "" {
				return cobra.NoArgs(cmd, args)
			}

			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: runPut,
	}

	cmd.Flags().String("watch", "", "watch a directory and upload new files")
	cmd.Flags().Duration("settle", transfer.DefaultSettle, "quiet period before a watched file is uploaded")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id> [local-path]",
		Short: "Download a file",
		Long: `Download a file by ID. Without a local path the file is saved in the
current directory under the name the server reports.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}
}

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <id>",
		Short: "Print a preview URL for an image or PDF",
		Args:  cobra.ExactArgs(1),
		RunE:  runPreview,
	}

	cmd.Flags().Bool("force", false, "request a preview without checking the file type")

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Move files to the trash",
		Long: `Move files to the trash. Trashed files can be restored with
'cloudstack trash restore' until they are purged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRm,
	}
}

// runLs prints the file listing. With --json the records pass through
// unchanged, including fields this client does not interpret.
func runLs(cmd *cobra.Command, _ []string) error {
	return withSession(cmd.Context(), func(sess *Session) error {
		files, err := sess.Client.ListFiles(cmd.Context())
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), files)
		}

		if len(files) == 0 {
			statusf("No files.\n")
			return nil
		}

		printFilesTable(cmd.OutOrStdout(), files)

		return nil
	})
}

func printFilesTable(w io.Writer, files []api.File) {
	rows := make([][]string, 0, len(files))
	for i := range files {
		f := &files[i]
		rows = append(rows, []string{f.ID, f.Size, fileKind(f.Type), f.UploadDate, f.Name})
	}

	printTable(w, []string{"ID", "SIZE", "TYPE", "UPLOADED", "NAME"}, rows)
}

func runPut(cmd *cobra.Command, args []string) error {
	dir, err := cmd.Flags().GetString("watch")
	if err != nil {
		return err
	}

	if dir != "" {
		settle, err := cmd.Flags().GetDuration("settle")
		if err != nil {
			return err
		}

		return runWatch(cmd, dir, settle)
	}

	return withSession(cmd.Context(), func(sess *Session) error {
		results, err := transfer.UploadAll(cmd.Context(), sess.Uploader(), args,
			resolvedCfg.Transfers.ParallelUploads, sess.Logger)

		for _, r := range results {
			printUploaded(cmd.OutOrStdout(), r)
		}

		if err != nil {
			return err
		}

		if len(args) > 1 {
			statusf("Uploaded %d files.\n", len(results))
		}

		return nil
	})
}

func printUploaded(w io.Writer, r transfer.Result) {
	if flagJSON {
		_ = printJSON(w, r.File)
		return
	}

	fmt.Fprintf(w, "%s  %s  (%s)\n", r.File.ID, r.File.Name, formatSize(r.Size))
}

// runWatch uploads files dropped into dir until interrupted.
func runWatch(cmd *cobra.Command, dir string, settle time.Duration) error {
	return withSession(cmd.Context(), func(sess *Session) error {
		ctx := shutdownContext(cmd.Context(), sess.Logger, func() {
			statusf("Stopping after the current upload. Press Ctrl-C again to quit now.\n")
		})

		w := transfer.NewWatcher(dir, sess.Uploader(), transfer.WatchOptions{
			Settle: settle,
			OnResult: func(r transfer.Result, err error) {
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "upload %s: %s\n", filepath.Base(r.Path), errorMessage(err))
					return
				}

				printUploaded(cmd.OutOrStdout(), r)
			},
		}, sess.Logger)

		statusf("Watching %s for new files (Ctrl-C to stop).\n", dir)

		return w.Run(ctx)
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	id := args[0]

	target := ""
	if len(args) > 1 {
		target = args[1]
	}

	return withSession(cmd.Context(), func(sess *Session) error {
		info, path, err := downloadTo(cmd.Context(), sess, id, target)
		if err != nil {
			return err
		}

		statusf("Downloaded %s (%s) to %s.\n", info.Name, formatSize(info.Size), path)

		return nil
	})
}

// downloadTo streams file id into a hidden .partial file next to its
// destination and renames it into place once the body is complete. An
// interrupted download never leaves a truncated file under the real name.
// An empty target means the server's file name in the current directory; a
// directory target keeps the server's name inside it.
func downloadTo(ctx context.Context, sess *Session, id, target string) (*api.DownloadInfo, string, error) {
	dir := "."

	if target != "" {
		if st, err := os.Stat(target); err == nil && st.IsDir() {
			dir = target
			target = ""
		} else {
			dir = filepath.Dir(target)
		}
	}

	tmp, err := os.CreateTemp(dir, ".cloudstack-*.partial")
	if err != nil {
		return nil, "", fmt.Errorf("creating download file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	info, err := sess.Transfer.Download(ctx, id, sess.Limiter.WrapWriter(ctx, tmp))
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing download file: %w", closeErr)
	}

	if err != nil {
		return nil, "", err
	}

	dest := target
	if dest == "" {
		name := info.Name
		if name == "" {
			name = id
		}

		dest = filepath.Join(dir, name)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, "", fmt.Errorf("saving %s: %w", dest, err)
	}

	success = true

	sess.Logger.Debug("download saved", slog.String("id", id), slog.String("path", dest))

	return info, dest, nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	id := args[0]

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	return withSession(cmd.Context(), func(sess *Session) error {
		if !force {
			if err := checkPreviewable(cmd.Context(), sess.Client, id); err != nil {
				return err
			}
		}

		p, err := sess.Client.Preview(cmd.Context(), id)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), p)
		}

		fmt.Fprintln(cmd.OutOrStdout(), p.URL)

		return nil
	})
}

var errNoPreview = errors.New("preview is only available for images and PDFs")

// checkPreviewable looks the file up in the listing and refuses types the
// server cannot preview.
func checkPreviewable(ctx context.Context, client *api.Client, id string) error {
	files, err := client.ListFiles(ctx)
	if err != nil {
		return err
	}

	for i := range files {
		if files[i].ID != id {
			continue
		}

		if !api.PreviewEligible(files[i].Type) {
			return fmt.Errorf("%s (%s): %w", files[i].Name, files[i].Type, errNoPreview)
		}

		return nil
	}

	return fmt.Errorf("file %s not found", id)
}

func runRm(cmd *cobra.Command, args []string) error {
	return withSession(cmd.Context(), func(sess *Session) error {
		var errs []error

		for _, id := range args {
			f, err := sess.Client.Delete(cmd.Context(), id)
			if api.IsSessionExpired(err) {
				return err
			}

			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %s", id, errorMessage(err)))
				continue
			}

			statusf("Moved %s to trash.\n", f.Name)
		}

		return errors.Join(errs...)
	})
}
