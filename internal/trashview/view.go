// Package trashview holds the client-side state of the trash listing: the
// visible trashed files and the set of ids with a permanent delete in flight.
package trashview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
)

// maxConcurrentPurges bounds parallel permanent deletes.
const maxConcurrentPurges = 8

// TrashAPI is the subset of *api.Client the view needs.
type TrashAPI interface {
	ListTrash(ctx context.Context) ([]api.File, error)
	Restore(ctx context.Context, id string) (*api.File, error)
	PermanentDelete(ctx context.Context, id string) error
	EmptyTrash(ctx context.Context) (*api.Message, error)
}

// Outcome is the user-visible result of a trash action.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeRestored
	OutcomeDeleted
	OutcomeAlreadyGone // the server no longer knows the file
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRestored:
		return "restored"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeAlreadyGone:
		return "already gone"
	default:
		return "failed"
	}
}

// Result reports the outcome for one id.
type Result struct {
	ID      string
	Name    string // display name when the file was visible, else ""
	Outcome Outcome
	Err     error // set when Outcome is OutcomeFailed
}

// View is safe for concurrent use.
type View struct {
	api    TrashAPI
	logger *slog.Logger

	mu      sync.Mutex
	files   []api.File
	pending map[string]struct{}
}

// New returns an empty View. Call Load to populate it.
func New(client TrashAPI, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}

	return &View{api: client, logger: logger, pending: make(map[string]struct{})}
}

// Load replaces the visible list with the server's trash.
func (v *View) Load(ctx context.Context) error {
	files, err := v.api.ListTrash(ctx)
	if err != nil {
		v.logger.Error("fetching trash failed", slog.String("error", err.Error()))
		return fmt.Errorf("fetching trash: %w", err)
	}

	v.mu.Lock()
	v.files = files
	v.mu.Unlock()

	return nil
}

// Files returns a snapshot of the visible trashed files.
func (v *View) Files() []api.File {
	v.mu.Lock()
	defer v.mu.Unlock()

	return slices.Clone(v.files)
}

// IsPending reports whether a permanent delete of id is in flight.
func (v *View) IsPending(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.pending[id]

	return ok
}

// Restore takes id out of the trash. A not-found answer means the file was
// already purged elsewhere: it is dropped from the list and reported as
// OutcomeAlreadyGone rather than as a failure.
func (v *View) Restore(ctx context.Context, id string) Result {
	res := Result{ID: id, Name: v.nameOf(id)}

	_, err := v.api.Restore(ctx, id)

	switch {
	case err == nil:
		v.remove(id)
		res.Outcome = OutcomeRestored
	case errors.Is(err, api.ErrNotFound):
		v.logger.Warn("restore target already gone", slog.String("id", id))
		v.remove(id)
		res.Outcome = OutcomeAlreadyGone
	default:
		v.logger.Error("restore failed", slog.String("id", id), slog.String("error", err.Error()))
		res.Err = err
	}

	return res
}

// PermanentDelete purges ids concurrently. Each id is pending while its
// request is in flight and is unmarked whatever the outcome. Success and
// not-found both drop the file from the list. Results keep the order of ids.
func (v *View) PermanentDelete(ctx context.Context, ids ...string) []Result {
	results := make([]Result, len(ids))

	var g errgroup.Group
	g.SetLimit(maxConcurrentPurges)

	for i, id := range ids {
		results[i] = Result{ID: id, Name: v.nameOf(id)}

		if !v.markPending(id) {
			results[i].Err = fmt.Errorf("permanent delete of %s already in progress", id)
			continue
		}

		g.Go(func() error {
			defer v.unmarkPending(id)

			err := v.api.PermanentDelete(ctx, id)

			switch {
			case err == nil:
				v.remove(id)
				results[i].Outcome = OutcomeDeleted
			case errors.Is(err, api.ErrNotFound):
				v.logger.Warn("permanent delete target already gone", slog.String("id", id))
				v.remove(id)
				results[i].Outcome = OutcomeAlreadyGone
			default:
				v.logger.Error("permanent delete failed", slog.String("id", id), slog.String("error", err.Error()))
				results[i].Err = err
			}

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// Empty purges the whole trash and clears the list on success.
func (v *View) Empty(ctx context.Context) (*api.Message, error) {
	msg, err := v.api.EmptyTrash(ctx)
	if err != nil {
		v.logger.Error("emptying trash failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("emptying trash: %w", err)
	}

	v.mu.Lock()
	v.files = nil
	v.mu.Unlock()

	return msg, nil
}

func (v *View) nameOf(id string) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, f := range v.files {
		if f.ID == id {
			return f.Name
		}
	}

	return ""
}

func (v *View) remove(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.files = slices.DeleteFunc(v.files, func(f api.File) bool { return f.ID == id })
}

// markPending adds id to the pending set. It returns false if id is
// already pending.
func (v *View) markPending(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.pending[id]; ok {
		return false
	}

	v.pending[id] = struct{}{}

	return true
}

func (v *View) unmarkPending(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.pending, id)
}
