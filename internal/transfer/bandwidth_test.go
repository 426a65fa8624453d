package transfer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
)

func TestParseBandwidth(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"100KB/s", 100_000, false},
		{"1MiB/s", 1 << 20, false},
		{"5mb/S", 5_000_000, false},
		{"2048", 2048, false},
		{"fast", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBandwidth(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewBandwidthLimiter_UnlimitedIsNil(t *testing.T) {
	bl, err := NewBandwidthLimiter("0", nil)
	require.NoError(t, err)
	assert.Nil(t, bl)

	// nil limiter passes streams through untouched.
	var buf bytes.Buffer
	assert.Same(t, &buf, bl.WrapWriter(context.Background(), &buf))
}

func TestBandwidthLimiter_ThrottlesWrites(t *testing.T) {
	bl, err := NewBandwidthLimiter("1KB/s", nil)
	require.NoError(t, err)
	require.NotNil(t, bl)

	var buf bytes.Buffer
	w := bl.WrapWriter(context.Background(), &buf)

	// The first 2 KB fit the burst; the next 500 bytes wait ~0.5s.
	start := time.Now()
	_, err = w.Write(make([]byte, 2500))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, 2500, buf.Len())
}

func TestBandwidthLimiter_CanceledContext(t *testing.T) {
	bl, err := NewBandwidthLimiter("1KB/s", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = bl.WrapWriter(ctx, io.Discard).Write(make([]byte, 10))
	require.ErrorIs(t, err, context.Canceled)
}

type recordingUploader struct {
	name string
	body []byte
}

func (r *recordingUploader) Upload(_ context.Context, name string, rs io.ReadSeeker) (*api.File, error) {
	// Read twice, as a retried upload does.
	if _, err := io.ReadAll(rs); err != nil {
		return nil, err
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(rs)
	if err != nil {
		return nil, err
	}

	r.name, r.body = name, data

	return &api.File{ID: "1", Name: name}, nil
}

func TestThrottledUploader_StreamsWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	content := bytes.Repeat([]byte("x"), 4096)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	bl, err := NewBandwidthLimiter("1MB/s", nil)
	require.NoError(t, err)

	rec := &recordingUploader{}
	up := &ThrottledUploader{Client: rec, Limiter: bl}

	f, err := up.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "big.bin", f.Name)
	assert.Equal(t, "big.bin", rec.name)
	assert.Equal(t, content, rec.body)
}

func TestThrottledUploader_MissingFile(t *testing.T) {
	up := &ThrottledUploader{Client: &recordingUploader{}}

	_, err := up.UploadFile(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
