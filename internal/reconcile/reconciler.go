package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/g960059/viasacra/internal/model"
)

var ErrStationOutOfRange = errors.New("snapshot station out of range")

type Outcome int

const (
	// OutcomeHostAuthoritative: the local host drives the room, the snapshot
	// station is informational only.
	OutcomeHostAuthoritative Outcome = iota
	OutcomeApplied
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHostAuthoritative:
		return "host_authoritative"
	case OutcomeApplied:
		return "applied"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Display is the locally shown station. *position.Tracker implements it.
type Display interface {
	Station() int
	Set(ctx context.Context, station int) (bool, error)
}

type Reconciler struct {
	display Display
}

func NewReconciler(display Display) *Reconciler {
	return &Reconciler{display: display}
}

// Reconcile aligns the displayed station with snap for the given local role.
// A host never has its display overwritten by a poll.
func (r *Reconciler) Reconcile(ctx context.Context, snap model.RoomSnapshot, role model.Role) (Outcome, error) {
	if role == model.RoleHost {
		if snap.CurrentStation != r.display.Station() {
			log.Debug().
				Str("room_id", snap.RoomID).
				Int("room_station", snap.CurrentStation).
				Int("displayed", r.display.Station()).
				Msg("host display ahead of room snapshot")
		}
		return OutcomeHostAuthoritative, nil
	}
	if !model.ValidStation(snap.CurrentStation) {
		return OutcomeUnchanged, fmt.Errorf("%w: room %s reported %d", ErrStationOutOfRange, snap.RoomID, snap.CurrentStation)
	}
	changed, err := r.display.Set(ctx, snap.CurrentStation)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("apply room station: %w", err)
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeApplied, nil
}
