package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as TOML-like text to w
// for the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	if r.Path != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", r.Path)
	} else {
		ew.printf("# Effective configuration (defaults)\n\n")
	}

	ew.printf("[api]\n")
	ew.printf("  base_url   = %q\n", r.API.BaseURL)
	ew.printf("  timeout    = %q\n", r.API.Timeout)

	if r.API.UserAgent != "" {
		ew.printf("  user_agent = %q\n", r.API.UserAgent)
	}

	ew.printf("\n[session]\n")
	ew.printf("  store = %q\n", r.Session.Store)
	ew.printf("  path  = %q\n", r.SessionPath())

	ew.printf("\n[transfers]\n")
	ew.printf("  parallel_uploads = %d\n", r.Transfers.ParallelUploads)
	ew.printf("  bandwidth_limit  = %q\n", r.Transfers.BandwidthLimit)

	ew.printf("\n[logging]\n")
	ew.printf("  log_level  = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format = %q\n", r.Logging.LogFormat)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
