package model

import (
	"strings"
	"time"
)

// Role is the local session role relative to a room.
type Role string

const (
	RoleSolo     Role = "solo"
	RoleHost     Role = "host"
	RoleFollower Role = "follower"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSolo, RoleHost, RoleFollower:
		return true
	default:
		return false
	}
}

const (
	FirstStation = 1
	LastStation  = 14
)

// ValidStation reports whether n is inside the fixed station sequence.
func ValidStation(n int) bool {
	return n >= FirstStation && n <= LastStation
}

// Session is the durable local identity of one client instance.
type Session struct {
	RoomID          string
	Role            Role
	HostToken       string
	ParticipantName string
}

// InRoom reports whether the session is attached to a shared room.
func (s Session) InRoom() bool {
	return strings.TrimSpace(s.RoomID) != ""
}

// Normalize enforces the session invariants: only hosts carry a token and
// a session without a room is always solo.
func (s Session) Normalize() Session {
	s.RoomID = strings.TrimSpace(s.RoomID)
	s.ParticipantName = strings.TrimSpace(s.ParticipantName)
	if !s.Role.Valid() {
		s.Role = RoleSolo
	}
	if s.RoomID == "" {
		s.Role = RoleSolo
	}
	if s.Role != RoleHost {
		s.HostToken = ""
	}
	return s
}

type Participant struct {
	Name     string
	IsHost   bool
	JoinedAt time.Time
}

// RoomSnapshot is the authoritative room state as of one poll.
type RoomSnapshot struct {
	RoomID         string
	Name           string
	CurrentStation int
	Participants   []Participant
	ExpiresAt      *time.Time
	FetchedAt      time.Time
}

type PresenceDelta struct {
	Joined []string
	Left   []string
}

func (d PresenceDelta) Empty() bool {
	return len(d.Joined) == 0 && len(d.Left) == 0
}

type RoomListing struct {
	RoomID    string
	Name      string
	ExpiresAt time.Time
}

// Station is the devotional content for one step, served by the content API.
type Station struct {
	ID              int
	Title           string
	ImageURL        string
	Versicle        string
	Meditation      string
	Prayer          string
	StandardPrayers string
	Hymn            string
}
