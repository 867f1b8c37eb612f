package store

import (
	"context"
	"errors"
	"time"
)

// Source produces the current value of one named snapshot.
type Source struct {
	Name    string
	Capture func() any
}

// SaveAll stores every source. It saves as many as it can and joins the
// errors.
func (db *DB) SaveAll(ctx context.Context, sources ...Source) error {
	var errs []error
	for _, s := range sources {
		if err := db.SaveSnapshot(ctx, s.Name, s.Capture()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Autosave saves sources every interval until ctx is done, then saves once
// more with a fresh context so shutdown state is not lost.
func (db *DB) Autosave(ctx context.Context, every time.Duration, sources ...Source) {
	if every <= 0 {
		<-ctx.Done()
	} else {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if err := db.SaveAll(ctx, sources...); err != nil {
					db.log.Error().Err(err).Msg("autosave failed")
				}
			}
		}
	}

	final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.SaveAll(final, sources...); err != nil {
		db.log.Error().Err(err).Msg("final save failed")
		return
	}
	db.log.Info().Int("snapshots", len(sources)).Msg("state saved")
}
