package position

import (
	"errors"
	"testing"

	"github.com/g960059/viasacra/internal/testutil"
)

func TestSetPersistsAndReportsChange(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	tracker := NewTracker(store)

	if got := tracker.Station(); got != 1 {
		t.Fatalf("expected initial station 1, got %d", got)
	}
	changed, err := tracker.Set(ctx, 6)
	if err != nil || !changed {
		t.Fatalf("set 6: changed=%v err=%v", changed, err)
	}
	changed, err = tracker.Set(ctx, 6)
	if err != nil || changed {
		t.Fatalf("repeat set 6: changed=%v err=%v", changed, err)
	}

	restored := NewTracker(store)
	station, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if station != 6 || restored.Station() != 6 {
		t.Fatalf("expected restored station 6, got %d", station)
	}
}

func TestSetRejectsOutOfRange(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	tracker := NewTracker(store)
	if _, err := tracker.Set(ctx, 4); err != nil {
		t.Fatalf("set 4: %v", err)
	}
	for _, bad := range []int{0, 15, -3} {
		if _, err := tracker.Set(ctx, bad); !errors.Is(err, ErrStationOutOfRange) {
			t.Fatalf("set %d: expected ErrStationOutOfRange, got %v", bad, err)
		}
	}
	if got := tracker.Station(); got != 4 {
		t.Fatalf("expected station retained at 4, got %d", got)
	}
}

func TestRestoreWithoutPositionStartsAtFirstStation(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	tracker := NewTracker(store)
	station, err := tracker.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if station != 1 {
		t.Fatalf("expected station 1, got %d", station)
	}
}
