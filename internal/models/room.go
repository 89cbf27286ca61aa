// internal/models/room.go
package models

import "github.com/google/uuid"

// RoomStatus is the lifecycle state of a Room as recorded by the backend.
// The progression is open -> full -> playing -> closed; the only backwards
// edge is full -> open, when the guest leaves before play starts. A closed
// room is never reopened.
type RoomStatus string

const (
	RoomOpen    RoomStatus = "open"
	RoomFull    RoomStatus = "full"
	RoomPlaying RoomStatus = "playing"
	RoomClosed  RoomStatus = "closed"
)

// RoomMode selects how a room is scored and paired.
type RoomMode string

const (
	ModeCasual RoomMode = "casual"
	ModeBet    RoomMode = "bet"
	ModeAI     RoomMode = "ai"
)

// Room is one pairing slot between two players, as returned by the backend.
// GuestID is nil until someone joins; at most one guest at a time.
// Status == playing implies both player ids are set and MatchID is non-nil.
type Room struct {
	ID         uuid.UUID  `json:"id"`
	OwnerID    uuid.UUID  `json:"ownerId"`
	GuestID    *uuid.UUID `json:"guestId,omitempty"`
	Mode       RoomMode   `json:"mode"`
	BetAmount  int        `json:"betAmount,omitempty"`
	IsPrivate  bool       `json:"isPrivate"`
	InviteCode string     `json:"inviteCode,omitempty"`
	Status     RoomStatus `json:"status"`

	// MatchID is set by the backend once the owner starts the match.
	MatchID *uuid.UUID `json:"matchId,omitempty"`
}

// HasGuest reports whether a guest currently occupies the room.
func (r *Room) HasGuest() bool {
	return r.GuestID != nil && *r.GuestID != uuid.Nil
}
