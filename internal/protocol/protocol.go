// internal/protocol/protocol.go
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuelab/poolsync/internal/models"
)

// Event names carried on the room channel (low-frequency lifecycle traffic).
const (
	EventPlayerJoined = "player-joined"
	EventPlayerLeft   = "player-left"
	EventGameStarted  = "game-started"
	EventRoomClosed   = "room-closed"
)

// Event names carried on the game channel (high-frequency in-match traffic).
const (
	EventShotMade     = "shot-made"
	EventBallsUpdate  = "balls-update"
	EventBallPocketed = "ball-pocketed"
	EventTurnChange   = "turn-change"
	EventFoul         = "foul"
	EventTypeAssigned = "type-assigned"
	EventGameOver     = "game-over"
	EventStateSync    = "state-sync"
	EventAimUpdate    = "aim-update"
	EventVoiceSignal  = "voice-signal"
)

// Envelope is the wire format for every broadcast. The transport delivers
// envelopes at most once, in no particular order, and never back to their
// sender.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	SenderID  string          `json:"senderId"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope marshals payload and stamps the envelope with the sender and
// the current wall clock (unix milliseconds).
func NewEnvelope(event string, payload interface{}, senderID string) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{
		Event:     event,
		Payload:   data,
		SenderID:  senderID,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// RoomChannel returns the name of the lifecycle channel for a room. Both
// participants derive the same name from the room id, so no discovery step
// is needed.
func RoomChannel(roomID uuid.UUID) string {
	return "room:" + roomID.String()
}

// GameChannel returns the name of the in-match telemetry channel for a room.
func GameChannel(roomID uuid.UUID) string {
	return "game:" + roomID.String()
}

// PlayerJoined announces a guest entering the room.
type PlayerJoined struct {
	Player models.Player `json:"player"`
}

// PlayerLeft announces a guest leaving before play starts.
type PlayerLeft struct {
	PlayerID uuid.UUID `json:"playerId"`
}

// GameStarted carries everything a client needs to navigate into the match.
// The polling reconciler synthesizes the same shape from the authoritative
// room record when the broadcast is lost.
type GameStarted struct {
	RoomID        uuid.UUID     `json:"roomId"`
	MatchID       uuid.UUID     `json:"matchId"`
	Player1       models.Player `json:"player1"`
	Player2       models.Player `json:"player2"`
	GameMode      string        `json:"gameMode"`
	FirstPlayerID uuid.UUID     `json:"firstPlayerId"`
}

// RoomClosed carries no payload; the event name is the signal.
type RoomClosed struct{}
