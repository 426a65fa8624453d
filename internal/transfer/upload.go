// Package transfer runs uploads on behalf of the CLI: a bounded parallel
// batch for explicit paths, and a drop-folder watcher.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
)

// Uploader uploads one local file. Satisfied by *api.Client.
type Uploader interface {
	UploadFile(ctx context.Context, path string) (*api.File, error)
}

// Result is one finished upload.
type Result struct {
	Path string
	Size int64 // local size in bytes
	File *api.File
}

// UploadAll uploads paths with at most parallel uploads in flight. Results
// are in completion order, not input order. The first failure cancels the
// uploads still running and is returned with the results completed so far.
func UploadAll(ctx context.Context, up Uploader, paths []string, parallel int, logger *slog.Logger) ([]Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if parallel < 1 {
		parallel = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(paths))
	)

	for _, path := range paths {
		g.Go(func() error {
			res, err := uploadOne(gctx, up, path)
			if err != nil {
				logger.Error("upload failed", slog.String("path", path), slog.String("error", err.Error()))
				return err
			}

			logger.Debug("upload complete", slog.String("path", path), slog.Int64("size", res.Size))

			mu.Lock()
			results = append(results, res)
			mu.Unlock()

			return nil
		})
	}

	err := g.Wait()

	return results, err
}

func uploadOne(ctx context.Context, up Uploader, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Path: path}, fmt.Errorf("uploading %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return Result{Path: path}, fmt.Errorf("uploading %s: not a regular file", path)
	}

	f, err := up.UploadFile(ctx, path)
	if err != nil {
		return Result{Path: path}, fmt.Errorf("uploading %s: %w", path, err)
	}

	return Result{Path: path, Size: info.Size(), File: f}, nil
}
