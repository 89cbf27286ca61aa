// internal/session/state.go
package session

import "github.com/google/uuid"

// Phase is the client-side view of the room lifecycle.
type Phase int

const (
	PhaseWaitingForGuest Phase = iota
	PhaseGuestPresent
	PhaseMatchStarting
	PhaseNavigated
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForGuest:
		return "waiting-for-guest"
	case PhaseGuestPresent:
		return "guest-present"
	case PhaseMatchStarting:
		return "match-starting"
	case PhaseNavigated:
		return "navigated"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal outcomes behind the single-fire handoff guard. The guard is an
// atomic compare-and-set from outcomeNone: whichever signal arrives first
// (the push broadcast or the polling reconciler) wins, and every later
// trigger is a no-op. Navigating to the match and navigating back to the
// lobby on close are mutually exclusive outcomes of the same guard.
const (
	outcomeNone int32 = iota
	outcomeNavigated
	outcomeClosed
)

// tryFinish attempts the one permitted terminal transition.
func (s *Session) tryFinish(outcome int32) bool {
	return s.outcome.CompareAndSwap(outcomeNone, outcome)
}

// Phase reports the current lifecycle phase.
func (s *Session) Phase() Phase {
	switch s.outcome.Load() {
	case outcomeNavigated:
		return PhaseNavigated
	case outcomeClosed:
		return PhaseClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting {
		return PhaseMatchStarting
	}
	if s.guestID != uuid.Nil {
		return PhaseGuestPresent
	}
	return PhaseWaitingForGuest
}
