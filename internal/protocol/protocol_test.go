// internal/protocol/protocol_test.go
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuelab/poolsync/internal/models"
)

func TestChannelNamesAreDeterministic(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, "room:6ba7b810-9dad-11d1-80b4-00c04fd430c8", RoomChannel(id))
	assert.Equal(t, "game:6ba7b810-9dad-11d1-80b4-00c04fd430c8", GameChannel(id))
	assert.NotEqual(t, RoomChannel(id), GameChannel(id))
}

func TestNewEnvelopeStampsSenderAndTime(t *testing.T) {
	guest := models.Player{ID: uuid.New(), Username: "minnesota"}
	env, err := NewEnvelope(EventPlayerJoined, PlayerJoined{Player: guest}, "sender-1")
	require.NoError(t, err)

	assert.Equal(t, EventPlayerJoined, env.Event)
	assert.Equal(t, "sender-1", env.SenderID)
	assert.Positive(t, env.Timestamp)

	var decoded PlayerJoined
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, guest, decoded.Player)
}

func TestNewEnvelopeRejectsUnmarshalablePayload(t *testing.T) {
	_, err := NewEnvelope(EventStateSync, make(chan int), "sender-1")
	assert.Error(t, err)
}
