package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cloudstack-files/cloudstack-go/internal/credstore"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "cloudstack-go/0.1"

// HeaderBuilder derives per-request headers from the current session.
type HeaderBuilder struct {
	store     credstore.Store
	userAgent string
	logger    *slog.Logger
}

// NewHeaderBuilder returns a HeaderBuilder reading tokens from store.
func NewHeaderBuilder(store credstore.Store, userAgent string, logger *slog.Logger) *HeaderBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &HeaderBuilder{store: store, userAgent: userAgent, logger: logger}
}

// Build returns the headers for one request. Authorization is present iff the
// store holds an access token. Content-Type is application/json unless the
// body is a file upload, in which case the transport sets the multipart type
// with its boundary. Build never fails: a store error is logged and treated
// as "no token".
func (b *HeaderBuilder) Build(ctx context.Context, isFileUpload bool) http.Header {
	h := make(http.Header)

	h.Set("Accept", "application/json")
	h.Set("User-Agent", b.userAgent)

	if !isFileUpload {
		h.Set("Content-Type", "application/json")
	}

	token, err := b.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil {
		b.logger.Warn("reading access token failed, sending unauthenticated",
			slog.String("error", err.Error()),
		)

		return h
	}

	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	return h
}
