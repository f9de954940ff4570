package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorResponse is the backend's error body. Detail is a plain string for
// domain errors and a list of field errors for request validation failures.
type ErrorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

func (e ErrorResponse) Message() string {
	raw := strings.TrimSpace(string(e.Detail))
	if raw == "" || raw == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(e.Detail, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var items []ValidationItem
	if err := json.Unmarshal(e.Detail, &items); err == nil && len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, item.String())
		}
		return strings.Join(parts, "; ")
	}
	return raw
}

type ValidationItem struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

func (v ValidationItem) String() string {
	if len(v.Loc) == 0 {
		return v.Msg
	}
	loc := make([]string, 0, len(v.Loc))
	for _, part := range v.Loc {
		loc = append(loc, fmt.Sprint(part))
	}
	return strings.Join(loc, ".") + ": " + v.Msg
}

type RoomListItem struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CreateRoomRequest struct {
	Name      string `json:"name"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type CreateRoomResponse struct {
	RoomID         string     `json:"room_id"`
	Name           string     `json:"name,omitempty"`
	HostToken      string     `json:"host_token"`
	CurrentStation int        `json:"current_station,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type JoinRoomRequest struct {
	RoomID    string `json:"room_id"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type JoinRoomResponse struct {
	RoomID         string     `json:"room_id"`
	Name           string     `json:"name,omitempty"`
	CurrentStation int        `json:"current_station,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type ParticipantResponse struct {
	Name     string    `json:"name"`
	IsHost   bool      `json:"is_host"`
	JoinedAt time.Time `json:"joined_at"`
}

type RoomResponse struct {
	RoomID         string                `json:"room_id"`
	Name           string                `json:"name"`
	CurrentStation int                   `json:"current_station"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
	Participants   []ParticipantResponse `json:"participants"`
}

type StationUpdateRequest struct {
	Station   int    `json:"station"`
	HostToken string `json:"host_token"`
}

type CompleteRoomRequest struct {
	HostToken string `json:"host_token"`
}

type LeaveRoomRequest struct {
	Name string `json:"name"`
}

type HostLoginRequest struct {
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type HostLoginResponse struct {
	HostToken      string `json:"host_token"`
	CurrentStation int    `json:"current_station"`
}

type StationResponse struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	ImageURL        string `json:"image_url"`
	Versicle        string `json:"versicle"`
	Meditation      string `json:"meditation"`
	Prayer          string `json:"prayer"`
	StandardPrayers string `json:"standard_prayers"`
	Hymn            string `json:"hymn"`
}

// SplitName turns a display name into the first/last pair the backend
// expects: the first word and everything after it.
func SplitName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
