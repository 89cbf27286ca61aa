// internal/models/match.go
package models

import "github.com/google/uuid"

// Match is one live game instance, bound 1:1 to a room once play starts.
// Its identity is immutable after creation; score and table state are
// maintained elsewhere.
type Match struct {
	ID            uuid.UUID `json:"id"`
	RoomID        uuid.UUID `json:"roomId"`
	Player1ID     uuid.UUID `json:"player1Id"`
	Player2ID     uuid.UUID `json:"player2Id"`
	GameMode      string    `json:"gameMode"`
	FirstPlayerID uuid.UUID `json:"firstPlayerId"`
}

// Player is the minimal identity carried in lifecycle broadcasts.
type Player struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}
