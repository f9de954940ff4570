package room

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/g960059/viasacra/internal/model"
	"github.com/g960059/viasacra/internal/roomclient"
)

// Reclaim re-authenticates the local participant as host of the current room
// with the room password. On success the new token is stored and the display
// jumps to the room's station; on failure nothing changes.
func (e *Engine) Reclaim(ctx context.Context, password, name string) (model.Session, error) {
	current := e.sessions.Current()
	if !current.InRoom() {
		return current, ErrNoRoom
	}
	name = e.participantName(name)

	var out model.Session
	err := e.gate.Exclusive(func() error {
		cred, err := e.rooms.HostLogin(ctx, current.RoomID, password, name)
		if err != nil {
			return fmt.Errorf("reclaim host: %w", err)
		}
		sess, changed, err := e.promoteHost(ctx, current.RoomID, cred, name)
		if err != nil {
			return err
		}
		out = sess
		if changed {
			e.emit(Event{Kind: EventStationChanged, RoomID: sess.RoomID, Station: cred.CurrentStation})
		}
		return nil
	})
	if err != nil {
		if out.RoomID != "" {
			return out, err
		}
		return e.sessions.Current(), err
	}
	log.Info().Str("room_id", out.RoomID).Msg("host role reclaimed")
	return out, nil
}

// promoteHost stores the host credential and jumps to the room's station
// without a poll delivery in between.
func (e *Engine) promoteHost(ctx context.Context, roomID string, cred roomclient.HostCredential, name string) (model.Session, bool, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	sess, err := e.sessions.AdoptRoom(ctx, roomID, model.RoleHost, cred.HostToken, name)
	if err != nil {
		return model.Session{}, false, err
	}
	if !model.ValidStation(cred.CurrentStation) {
		log.Warn().Int("station", cred.CurrentStation).Str("room_id", roomID).Msg("host login returned invalid station")
		return sess, false, nil
	}
	changed, err := e.display.Set(ctx, cred.CurrentStation)
	return sess, changed, err
}
