// internal/session/reconnect.go
package session

import (
	"context"
	"time"
)

// The reconnection supervisor reacts to transport errors with a full
// session rebuild (detach, then attach with the stored room/user) rather
// than trying to resume a half-open channel. Delays grow exponentially up
// to a cap; once the attempt ceiling is reached the session is permanently
// failed and surfaced through OnConnectionFailed.

// backoffDelay computes min(base * 2^attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// handleTransportError is invoked when either channel reports an error.
// Errors arriving while a rebuild is already in flight are dropped.
func (s *Session) handleTransportError(visit uint64, cause error) {
	s.mu.Lock()
	if s.visit != visit || !s.joined || s.reconnecting || s.failed {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()
	s.logger.Warnf("transport error, scheduling session rebuild: %v", cause)
	go s.reconnectLoop(visit, cause)
}

func (s *Session) reconnectLoop(visit uint64, cause error) {
	for {
		s.mu.Lock()
		if s.visit != visit {
			s.mu.Unlock()
			return
		}
		attempt := s.reconnects
		roomID, userID, username := s.roomID, s.userID, s.username
		s.mu.Unlock()

		if attempt >= s.cfg.MaxReconnects {
			s.logger.WithField("attempts", attempt).Errorf("reconnect ceiling reached, session failed: %v", cause)
			s.mu.Lock()
			stale := s.visit != visit
			s.reconnecting = false
			if !stale {
				s.failed = true
			}
			s.mu.Unlock()
			if stale {
				return
			}
			if h := s.cfg.Hooks.OnConnectionFailed; h != nil {
				h(cause)
			}
			s.Leave()
			return
		}

		delay := backoffDelay(s.cfg.BaseRetryDelay, s.cfg.MaxRetryDelay, attempt)
		s.logger.Infof("reconnect attempt %d/%d in %s", attempt+1, s.cfg.MaxReconnects, delay)
		<-s.clock.After(delay)

		s.mu.Lock()
		if s.visit != visit {
			s.mu.Unlock()
			return
		}
		s.reconnects++
		s.mu.Unlock()

		s.detach(false)
		ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		err := s.attach(ctx, roomID, userID, username, visit, false)
		cancel()
		if err == nil {
			s.mu.Lock()
			if s.visit == visit {
				s.reconnects = 0
				s.reconnecting = false
			}
			s.mu.Unlock()
			s.logger.Info("session rebuilt after transport error")
			return
		}
		s.logger.Warnf("session rebuild failed: %v", err)
		cause = err
	}
}
