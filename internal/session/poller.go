// internal/session/poller.go
package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/cuelab/poolsync/internal/models"
	"github.com/cuelab/poolsync/internal/protocol"
)

// The polling reconciler is the consistency backstop for the lossy push
// transport: every interval it fetches the authoritative room record and
// read-repairs local state. It is explicitly idempotent with respect to the
// push path: every terminal transition it fires goes through the same
// single-fire guard the broadcasts use.

func (s *Session) runPoller(ep, visit uint64, roomID uuid.UUID, stop <-chan struct{}) {
	ticker := s.clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if !s.pollOnce(ep, visit, roomID) {
				return
			}
		}
	}
}

// pollOnce fetches and reconciles one authoritative snapshot. It returns
// false when polling should stop: the session is stale, a terminal
// transition fired, or the room is gone.
func (s *Session) pollOnce(ep, visit uint64, roomID uuid.UUID) bool {
	if !s.alive(ep) {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PollInterval)
	room, err := s.cfg.Backend.GetRoom(ctx, roomID)
	cancel()
	if err != nil {
		// Fetch failure or not-found: the room is treated as already gone.
		s.logger.WithField("room", roomID).Warnf("authoritative poll failed, stopping poller: %v", err)
		return false
	}
	return s.reconcileRoom(ep, visit, room)
}

// reconcileRoom diffs the authoritative record against local state. Also
// called once at attach time to seed presence.
func (s *Session) reconcileRoom(ep, visit uint64, room *models.Room) bool {
	if !s.alive(ep) {
		return false
	}
	switch room.Status {
	case models.RoomClosed:
		s.fireClosed()
		return false
	case models.RoomPlaying:
		s.fireNavigated(s.synthesizeStart(room))
		return false
	}

	s.mu.Lock()
	prevGuest := s.guestID
	var arrived *models.Player
	var departed uuid.UUID
	rebroadcast := false
	roomCh := s.roomCh
	if room.HasGuest() {
		gid := *room.GuestID
		if prevGuest != gid {
			arrived = &models.Player{ID: gid}
			if gid == s.userID {
				arrived.Username = s.username
			}
			// Rebroadcast the synthesized arrival at most once per guest,
			// so poller-originated broadcasts cannot feed back on
			// themselves.
			if !s.guestSeen[gid] {
				rebroadcast = true
			}
		}
	} else if prevGuest != uuid.Nil {
		departed = prevGuest
	}
	s.mu.Unlock()

	if arrived != nil {
		s.markGuestPresent(*arrived)
		if rebroadcast && roomCh != nil {
			// The other client may have missed the original push; this
			// nudges it to converge without waiting for its own poll.
			_ = s.publish(ep, visit, roomCh, protocol.EventPlayerJoined, protocol.PlayerJoined{Player: *arrived})
		}
	}
	if departed != uuid.Nil {
		s.markGuestAbsent(departed)
	}
	return true
}

// synthesizeStart builds the payload shape the push path would have
// delivered, from the authoritative record alone. Usernames beyond our own
// and the break assignment are unknown here; the record's owner breaks by
// convention.
func (s *Session) synthesizeStart(room *models.Room) protocol.GameStarted {
	p := protocol.GameStarted{
		RoomID:        room.ID,
		GameMode:      string(room.Mode),
		Player1:       models.Player{ID: room.OwnerID},
		FirstPlayerID: room.OwnerID,
	}
	if room.MatchID != nil {
		p.MatchID = *room.MatchID
	}
	if room.HasGuest() {
		p.Player2 = models.Player{ID: *room.GuestID}
	}
	s.mu.Lock()
	if room.OwnerID == s.userID {
		p.Player1.Username = s.username
	} else if s.guestName != "" && room.HasGuest() && *room.GuestID == s.guestID {
		p.Player2.Username = s.guestName
	}
	if room.HasGuest() && *room.GuestID == s.userID {
		p.Player2.Username = s.username
	}
	s.mu.Unlock()
	return p
}
