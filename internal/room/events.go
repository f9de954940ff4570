package room

import "fmt"

type EventKind string

const (
	EventStationChanged    EventKind = "station_changed"
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
	EventSyncDegraded      EventKind = "sync_degraded"
	EventSyncRestored      EventKind = "sync_restored"
	EventRoomClosed        EventKind = "room_closed"
	EventFinished          EventKind = "finished"
)

// Event is a notification for the room view. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind    EventKind
	RoomID  string
	Station int
	Name    string
	Err     error
	// Remote marks station changes taken from a room snapshot.
	Remote bool
}

func (e Event) String() string {
	switch e.Kind {
	case EventStationChanged:
		return fmt.Sprintf("station %d", e.Station)
	case EventParticipantJoined:
		return e.Name + " joined"
	case EventParticipantLeft:
		return e.Name + " left"
	case EventSyncDegraded:
		if e.Err != nil {
			return "sync degraded: " + e.Err.Error()
		}
		return "sync degraded"
	case EventSyncRestored:
		return "sync restored"
	case EventRoomClosed:
		return "room closed"
	case EventFinished:
		return "finished"
	default:
		return string(e.Kind)
	}
}
