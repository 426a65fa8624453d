package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
)

// burstMultiplier sets the token bucket burst relative to the per-second rate.
const burstMultiplier = 2

// BandwidthLimiter caps aggregate transfer throughput. One limiter is shared
// by every concurrent upload and download of a command. A nil
// *BandwidthLimiter means unlimited and is safe to use.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter parses a limit such as "5MB/s", "512KiB/s" or "0".
// Returns nil for "0" or empty (unlimited).
func NewBandwidthLimiter(limit string, logger *slog.Logger) (*BandwidthLimiter, error) {
	bytesPerSec, err := ParseBandwidth(limit)
	if err != nil {
		return nil, err
	}

	if bytesPerSec == 0 {
		return nil, nil //nolint:nilnil // nil limiter = unlimited
	}

	if logger == nil {
		logger = slog.Default()
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Debug("bandwidth limiter created",
		slog.Uint64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &BandwidthLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}, nil
}

// ParseBandwidth converts a rate with an optional "/s" suffix to bytes per
// second. "" and "0" mean unlimited.
func ParseBandwidth(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	size := s
	if strings.HasSuffix(strings.ToLower(size), "/s") {
		size = size[:len(size)-len("/s")]
	}

	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth limit %q: %w", s, err)
	}

	return n, nil
}

// WrapWriter returns a rate-limited w, or w itself when bl is nil.
func (bl *BandwidthLimiter) WrapWriter(ctx context.Context, w io.Writer) io.Writer {
	if bl == nil {
		return w
	}

	return &limitedWriter{w: w, limiter: bl.limiter, ctx: ctx}
}

// WrapReadSeeker returns a rate-limited rs, or rs itself when bl is nil.
// Seeking is not throttled.
func (bl *BandwidthLimiter) WrapReadSeeker(ctx context.Context, rs io.ReadSeeker) io.ReadSeeker {
	if bl == nil {
		return rs
	}

	return &limitedReadSeeker{rs: rs, limiter: bl.limiter, ctx: ctx}
}

type limitedReadSeeker struct {
	rs      io.ReadSeeker
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *limitedReadSeeker) Read(p []byte) (int, error) {
	n, err := r.rs.Read(p)
	if n > 0 {
		if waitErr := waitN(r.ctx, r.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

func (r *limitedReadSeeker) Seek(offset int64, whence int) (int64, error) {
	return r.rs.Seek(offset, whence)
}

type limitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		if waitErr := waitN(w.ctx, w.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN splits a large token request into burst-sized chunks.
// rate.Limiter.WaitN rejects requests exceeding the burst size.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}

// FileUploader sends one named stream. Satisfied by *api.Client.
type FileUploader interface {
	Upload(ctx context.Context, name string, r io.ReadSeeker) (*api.File, error)
}

// ThrottledUploader uploads local files through a shared BandwidthLimiter.
type ThrottledUploader struct {
	Client  FileUploader
	Limiter *BandwidthLimiter
}

// UploadFile uploads the file at path under its base name.
func (u *ThrottledUploader) UploadFile(ctx context.Context, path string) (*api.File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer fh.Close()

	return u.Client.Upload(ctx, filepath.Base(path), u.Limiter.WrapReadSeeker(ctx, fh))
}
