package position

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/g960059/viasacra/internal/db"
	"github.com/g960059/viasacra/internal/model"
)

var ErrStationOutOfRange = errors.New("station out of range")

// Saver persists the displayed station. *db.Store implements it.
type Saver interface {
	SavePosition(ctx context.Context, station int) error
	LoadPosition(ctx context.Context) (int, error)
}

// Tracker owns the station currently shown to the participant. Every write
// is validated and persisted before it becomes visible.
type Tracker struct {
	mu      sync.RWMutex
	saver   Saver
	station int
}

func NewTracker(saver Saver) *Tracker {
	return &Tracker{saver: saver, station: model.FirstStation}
}

func (t *Tracker) Station() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.station
}

// Set persists and displays station. It reports whether the displayed value
// changed.
func (t *Tracker) Set(ctx context.Context, station int) (bool, error) {
	if !model.ValidStation(station) {
		return false, fmt.Errorf("%w: %d", ErrStationOutOfRange, station)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.saver.SavePosition(ctx, station); err != nil {
		return false, err
	}
	changed := t.station != station
	t.station = station
	return changed, nil
}

// Restore loads the persisted position, falling back to the first station
// when nothing usable is stored.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	station, err := t.saver.LoadPosition(ctx)
	switch {
	case errors.Is(err, db.ErrNotFound):
		station = model.FirstStation
	case err != nil:
		return 0, fmt.Errorf("restore position: %w", err)
	case !model.ValidStation(station):
		station = model.FirstStation
	}
	t.mu.Lock()
	t.station = station
	t.mu.Unlock()
	return station, nil
}

// Reset shows the first station without persisting it. Used after the
// persisted position has been cleared alongside the session.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.station = model.FirstStation
	t.mu.Unlock()
}
