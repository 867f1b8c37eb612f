package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockFile = "swarm.lock"

// lockWait is how long one-shot commands wait for another one to finish.
var lockWait = 3 * time.Second

// lockState takes the exclusive state lock under the data directory so two
// processes never load, mutate and save snapshots over each other. A zero
// wait tries once.
func lockState(ctx context.Context, wait time.Duration) (*flock.Flock, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(paths.Data, lockFile))

	var (
		ok  bool
		err error
	)
	if wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		ok, err = fl.TryLockContext(waitCtx, 100*time.Millisecond)
	} else {
		ok, err = fl.TryLock()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("locking state: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("state is in use by another swarm process (is `swarm serve` running? use the gateway instead): %s", fl.Path())
	}
	return fl, nil
}
