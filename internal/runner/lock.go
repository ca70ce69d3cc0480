package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

// RunLock serializes coverage runs per project so two concurrent runs
// cannot interleave their purge-then-write cycles against the store.
type RunLock struct {
	fl *flock.Flock
}

// AcquireRunLock takes the project run lock without blocking. A held lock
// means another run is in flight.
func AcquireRunLock(projectRoot string) (*RunLock, error) {
	dir := filepath.Join(projectRoot, WorkDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
	}
	fl := flock.New(filepath.Join(dir, "run.lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
	}
	if !ok {
		return nil, cqerrors.New(cqerrors.ErrCodeInternal,
			fmt.Sprintf("another coverage run is already in progress (lock %s)", fl.Path()), nil)
	}
	return &RunLock{fl: fl}, nil
}

// Release drops the lock.
func (l *RunLock) Release() error {
	return l.fl.Unlock()
}
