package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/rvcheck/internal/store"
)

// openJournal opens an existing journal. Unlike store.Open it refuses to
// create one.
func openJournal(path string) (*store.Store, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "--journal is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "journal not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return st, nil
}

// selectRun returns the run named id, or the latest run when id is empty.
func selectRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	var (
		run store.Run
		err error
	)
	if id == "" {
		run, err = st.LatestRun(ctx)
	} else {
		run, err = st.ReadRun(ctx, id)
	}
	if errors.Is(err, store.ErrRunNotFound) {
		return store.Run{}, WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to read run: %w", err)
	}
	return run, nil
}
