package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
	"github.com/cloudstack-files/cloudstack-go/internal/config"
	"github.com/cloudstack-files/cloudstack-go/internal/credstore"
	"github.com/cloudstack-files/cloudstack-go/internal/transfer"
)

// Session holds the credential store and the authenticated clients built on
// it for one command invocation. Both clients share one HeaderBuilder and
// one TokenService, so a refresh triggered by either is seen by both.
type Session struct {
	Store    credstore.Store
	Tokens   *api.TokenService
	Client   *api.Client                // metadata ops (configured timeout)
	Transfer *api.Client                // uploads/downloads (no timeout)
	Limiter  *transfer.BandwidthLimiter // nil = unlimited
	Logger   *slog.Logger
}

// NewSession opens the configured credential store and wires the API stack
// on top of it. Callers must Close the session.
func NewSession(ctx context.Context, resolved *config.Resolved, logger *slog.Logger) (*Session, error) {
	path := resolved.SessionPath()
	if path == "" && resolved.Session.Store != credstore.KindMemory {
		return nil, fmt.Errorf("cannot determine session path for store %q", resolved.Session.Store)
	}

	limiter, err := transfer.NewBandwidthLimiter(resolved.Transfers.BandwidthLimit, logger)
	if err != nil {
		return nil, err
	}

	store, err := credstore.Open(ctx, resolved.Session.Store, path, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("session store opened",
		slog.String("store", resolved.Session.Store),
		slog.String("path", path),
	)

	baseURL := resolved.API.BaseURL
	headers := api.NewHeaderBuilder(store, userAgent(resolved), logger)

	metaHTTP := &http.Client{Timeout: resolved.API.TimeoutDuration()}
	transferHTTP := &http.Client{}

	tokens := api.NewTokenService(baseURL, metaHTTP, store, headers, logger)

	return &Session{
		Store:    store,
		Tokens:   tokens,
		Client:   api.NewClient(api.NewGateway(baseURL, metaHTTP, headers, tokens, logger), logger),
		Transfer: api.NewClient(api.NewGateway(baseURL, transferHTTP, headers, tokens, logger), logger),
		Limiter:  limiter,
		Logger:   logger,
	}, nil
}

// Uploader returns the upload path for local files, throttled by the
// configured bandwidth limit.
func (s *Session) Uploader() *transfer.ThrottledUploader {
	return &transfer.ThrottledUploader{Client: s.Transfer, Limiter: s.Limiter}
}

// Close releases the credential store when its backend holds resources.
func (s *Session) Close() error {
	if c, ok := s.Store.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

func userAgent(resolved *config.Resolved) string {
	if resolved.API.UserAgent != "" {
		return resolved.API.UserAgent
	}

	return "cloudstack-go/" + version
}

// withSession resolves config, opens a session, runs fn, and closes the
// session afterwards.
func withSession(ctx context.Context, fn func(*Session) error) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	sess, err := NewSession(ctx, resolvedCfg, buildLogger())
	if err != nil {
		return err
	}

	defer func() {
		if cerr := sess.Close(); cerr != nil {
			sess.Logger.Warn("closing session store", slog.String("error", cerr.Error()))
		}
	}()

	return fn(sess)
}
