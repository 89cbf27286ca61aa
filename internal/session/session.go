// internal/session/session.go

// Package session implements the client side of the room synchronization
// protocol: it pairs two independent clients sitting in a waiting room into
// a live match over a best-effort, at-most-once broadcast transport.
//
// One Session is constructed per room visit. It owns two channels (a room
// channel for lifecycle events and a game channel for in-match telemetry),
// an authoritative polling reconciler that bounds staleness when broadcasts
// are lost, and a reconnection supervisor that rebuilds the whole session
// on transport failure. The navigated/closed handoff passes through a
// single-fire guard so that the push and pull signal paths can race freely
// without double-firing navigation.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/cuelab/poolsync/internal/backend"
	"github.com/cuelab/poolsync/internal/dispatch"
	"github.com/cuelab/poolsync/internal/models"
	"github.com/cuelab/poolsync/internal/protocol"
	"github.com/cuelab/poolsync/internal/throttle"
	"github.com/cuelab/poolsync/internal/transport"
)

var (
	// ErrConnecting means a join is already in flight; the call is dropped,
	// not queued. Callers retry through their own UI state.
	ErrConnecting = errors.New("session: join already in progress")
	ErrNotJoined  = errors.New("session: not joined to a room")
	ErrNotOwner   = errors.New("session: only the room owner can start the match")
	ErrNoGuest    = errors.New("session: no guest present")
)

const (
	defaultPollInterval   = 5 * time.Second
	defaultBaseRetryDelay = time.Second
	defaultMaxRetryDelay  = 30 * time.Second
	defaultMaxReconnects  = 5
	defaultBallInterval   = 100 * time.Millisecond
	defaultAimInterval    = 50 * time.Millisecond
	publishTimeout        = 5 * time.Second
	teardownTimeout       = 5 * time.Second
	rebuildTimeout        = 15 * time.Second
)

// Hooks are the UI-facing callbacks. Presence hooks may fire more than once
// for the same state and must be idempotent; OnMatchStarted, OnRoomClosed
// and OnConnectionFailed each fire at most once per room visit.
type Hooks struct {
	OnGuestPresent     func(models.Player)
	OnGuestLeft        func(uuid.UUID)
	OnMatchStarted     func(protocol.GameStarted)
	OnRoomClosed       func()
	OnConnectionFailed func(error)
}

// Config wires a Session to its collaborators.
type Config struct {
	Backend   backend.Client
	Transport transport.Transport
	Logger    *logrus.Logger
	Clock     clockwork.Clock
	Hooks     Hooks

	PollInterval       time.Duration
	BaseRetryDelay     time.Duration
	MaxRetryDelay      time.Duration
	MaxReconnects      int
	BallUpdateInterval time.Duration
	AimUpdateInterval  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = defaultBaseRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.BallUpdateInterval <= 0 {
		c.BallUpdateInterval = defaultBallInterval
	}
	if c.AimUpdateInterval <= 0 {
		c.AimUpdateInterval = defaultAimInterval
	}
}

// Session synchronizes one client's view of one room. All mutable state is
// owned by the Session instance and mutated only through its public
// contract; there is no process-wide state, so independent sessions never
// interfere.
type Session struct {
	cfg        Config
	clock      clockwork.Clock
	logger     *logrus.Logger
	dispatcher *dispatch.Dispatcher

	mu         sync.Mutex
	joined     bool
	connecting bool
	starting   bool
	// epoch is bumped on every channel attach/detach; callbacks capture the
	// epoch they were created under and bail out when it has moved on, so a
	// client that navigated away never receives a late callback.
	epoch uint64
	// visit is bumped only by user intent (Join/Leave) and by terminal
	// transitions; the reconnection supervisor aborts when it changes.
	visit        uint64
	roomID       uuid.UUID
	userID       uuid.UUID
	username     string
	ownerID      uuid.UUID
	guestID      uuid.UUID
	guestName    string
	guestSeen    map[uuid.UUID]bool
	roomCh       transport.Channel
	gameCh       transport.Channel
	ballThrottle *throttle.Throttle
	aimThrottle  *throttle.Throttle
	pollStop     chan struct{}
	reconnects   int
	reconnecting bool
	// failed marks the terminal connection-failed state: the supervisor
	// stops for good and later transport errors are ignored.
	failed bool

	outcome atomic.Int32
}

// New constructs a Session. The Session is inert until Join.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:        cfg,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		dispatcher: dispatch.New(cfg.Logger),
		guestSeen:  make(map[uuid.UUID]bool),
	}
}

// Join subscribes to the room's two channels and starts the polling
// reconciler. Joining the same room twice is a no-op; joining a different
// room performs an implicit Leave first. A call arriving while another join
// is in flight returns ErrConnecting and is dropped.
func (s *Session) Join(ctx context.Context, roomID, userID uuid.UUID, username string) error {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		return ErrConnecting
	}
	if s.joined && s.roomID == roomID {
		s.mu.Unlock()
		return nil
	}
	needLeave := s.joined
	s.mu.Unlock()

	if needLeave {
		s.Leave()
	}

	s.mu.Lock()
	if s.connecting || s.joined {
		s.mu.Unlock()
		return ErrConnecting
	}
	s.connecting = true
	s.failed = false
	s.visit++
	visit := s.visit
	s.mu.Unlock()

	err := s.attach(ctx, roomID, userID, username, visit, true)

	s.mu.Lock()
	s.connecting = false
	s.mu.Unlock()
	return err
}

// attach performs the subscribe/poll setup shared by Join and the
// reconnection supervisor. fresh is true for a user-initiated join, which
// resets the handoff guard and presence bookkeeping; a rebuild keeps both.
func (s *Session) attach(ctx context.Context, roomID, userID uuid.UUID, username string, visit uint64, fresh bool) error {
	// Fetch the authoritative record up front: it validates the room, tells
	// us who owns it, and seeds presence if the other player got here first.
	room, err := s.cfg.Backend.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.epoch++
	ep := s.epoch
	s.mu.Unlock()

	opts := func() transport.SubscribeOptions {
		return transport.SubscribeOptions{
			PresenceKey: userID.String(),
			OnMessage:   func(env protocol.Envelope) { s.handleEnvelope(ep, env) },
			OnError:     func(err error) { s.handleTransportError(visit, err) },
		}
	}
	roomCh, err := s.cfg.Transport.Subscribe(ctx, protocol.RoomChannel(roomID), opts())
	if err != nil {
		return err
	}
	gameCh, err := s.cfg.Transport.Subscribe(ctx, protocol.GameChannel(roomID), opts())
	if err != nil {
		s.discard(roomCh)
		return err
	}

	stop := make(chan struct{})

	s.mu.Lock()
	if s.visit != visit {
		// The user left (or the session finished) while we were connecting.
		s.mu.Unlock()
		s.discard(roomCh)
		s.discard(gameCh)
		return ErrNotJoined
	}
	s.joined = true
	s.roomID, s.userID, s.username = roomID, userID, username
	s.ownerID = room.OwnerID
	s.roomCh, s.gameCh = roomCh, gameCh
	s.pollStop = stop
	s.ballThrottle = throttle.New(s.clock, s.cfg.BallUpdateInterval, func(p interface{}) {
		_ = s.publish(ep, visit, gameCh, protocol.EventBallsUpdate, p)
	})
	s.aimThrottle = throttle.New(s.clock, s.cfg.AimUpdateInterval, func(p interface{}) {
		_ = s.publish(ep, visit, gameCh, protocol.EventAimUpdate, p)
	})
	if fresh {
		s.outcome.Store(outcomeNone)
		s.guestID = uuid.Nil
		s.guestName = ""
		s.guestSeen = make(map[uuid.UUID]bool)
		s.reconnects = 0
		if userID != room.OwnerID {
			// Our own arrival is announced below; never rebroadcast it from
			// the reconciler as well.
			s.guestSeen[userID] = true
		}
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"room": roomID,
		"user": userID,
	}).Info("joined room channels")

	go s.runPoller(ep, visit, roomID, stop)

	if fresh && userID != room.OwnerID {
		// Announce ourselves to the owner. If this broadcast is lost, the
		// owner's reconciler converges within one poll interval.
		_ = s.publish(ep, visit, roomCh, protocol.EventPlayerJoined, protocol.PlayerJoined{
			Player: models.Player{ID: userID, Username: username},
		})
	}

	s.reconcileRoom(ep, visit, room)
	return nil
}

// Leave tears the session down: the poll timer stops, both channels
// unsubscribe, and every registered handler is cleared. The network
// teardown itself is fire-and-forget; navigation never blocks on it.
// A guest leaving before play starts announces its departure so the owner
// can re-enable the waiting state without waiting for a poll.
func (s *Session) Leave() {
	s.mu.Lock()
	announce := s.joined && s.userID != s.ownerID && s.outcome.Load() == outcomeNone
	ep, visit := s.epoch, s.visit
	roomCh := s.roomCh
	userID := s.userID
	s.mu.Unlock()

	if announce && roomCh != nil {
		_ = s.publish(ep, visit, roomCh, protocol.EventPlayerLeft, protocol.PlayerLeft{PlayerID: userID})
	}

	s.mu.Lock()
	s.visit++
	s.reconnecting = false
	s.reconnects = 0
	s.mu.Unlock()
	s.detach(true)
}

// detach releases channels, throttles and the poller. Handlers survive when
// clearHandlers is false (reconnection rebuilds keep application handlers).
func (s *Session) detach(clearHandlers bool) {
	s.mu.Lock()
	s.epoch++
	s.joined = false
	roomCh, gameCh := s.roomCh, s.gameCh
	s.roomCh, s.gameCh = nil, nil
	ball, aim := s.ballThrottle, s.aimThrottle
	s.ballThrottle, s.aimThrottle = nil, nil
	stop := s.pollStop
	s.pollStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if ball != nil {
		ball.Stop()
	}
	if aim != nil {
		aim.Stop()
	}
	if clearHandlers {
		s.dispatcher.Clear()
	}
	if roomCh != nil {
		s.discard(roomCh)
	}
	if gameCh != nil {
		s.discard(gameCh)
	}
}

// discard unsubscribes best-effort in the background. Failures are logged
// and swallowed; teardown must never block UI navigation.
func (s *Session) discard(ch transport.Channel) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := ch.Unsubscribe(ctx); err != nil {
			s.logger.Debugf("unsubscribe %s: %v", ch.Name(), err)
		}
	}()
}

// Joined reports whether the session currently holds live channels.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// Failed reports whether the session reached the terminal
// connection-failed state.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// alive reports whether callbacks created under ep may still run.
func (s *Session) alive(ep uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined && s.epoch == ep
}

// On registers an application handler for a broadcast event. The returned
// function removes just that handler.
func (s *Session) On(event string, fn dispatch.Handler) (remove func()) {
	return s.dispatcher.On(event, fn)
}

// Off removes every handler for the event.
func (s *Session) Off(event string) {
	s.dispatcher.Off(event)
}

// handleEnvelope routes one inbound broadcast: lifecycle events drive the
// state machine, then everything fans out to application handlers.
func (s *Session) handleEnvelope(ep uint64, env protocol.Envelope) {
	if !s.alive(ep) {
		return
	}
	switch env.Event {
	case protocol.EventPlayerJoined:
		var p protocol.PlayerJoined
		if err := decode(env, &p); err != nil {
			s.logger.Warnf("bad player-joined payload: %v", err)
			break
		}
		s.markGuestPresent(p.Player)
	case protocol.EventPlayerLeft:
		var p protocol.PlayerLeft
		if err := decode(env, &p); err != nil {
			s.logger.Warnf("bad player-left payload: %v", err)
			break
		}
		s.markGuestAbsent(p.PlayerID)
	case protocol.EventGameStarted:
		var p protocol.GameStarted
		if err := decode(env, &p); err != nil {
			s.logger.Warnf("bad game-started payload: %v", err)
			break
		}
		s.fireNavigated(p)
	case protocol.EventRoomClosed:
		s.fireClosed()
	}
	s.dispatcher.Emit(env.Event, env.Payload)
}

// markGuestPresent records the guest and notifies the UI. Safe under
// double delivery: the hook is idempotent by contract.
func (s *Session) markGuestPresent(player models.Player) {
	s.mu.Lock()
	s.guestID = player.ID
	if player.Username != "" {
		s.guestName = player.Username
	}
	s.guestSeen[player.ID] = true
	s.mu.Unlock()
	if h := s.cfg.Hooks.OnGuestPresent; h != nil {
		h(player)
	}
}

func (s *Session) markGuestAbsent(playerID uuid.UUID) {
	s.mu.Lock()
	if s.guestID != playerID {
		s.mu.Unlock()
		return
	}
	s.guestID = uuid.Nil
	s.guestName = ""
	// Allow a rejoining guest to be rebroadcast by the reconciler again.
	delete(s.guestSeen, playerID)
	s.mu.Unlock()
	if h := s.cfg.Hooks.OnGuestLeft; h != nil {
		h(playerID)
	}
}

// fireNavigated is the exactly-once handoff to the match screen. Both the
// game-started broadcast and the polling reconciler funnel through here;
// only the first caller wins the guard.
func (s *Session) fireNavigated(p protocol.GameStarted) {
	if !s.tryFinish(outcomeNavigated) {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"room":  p.RoomID,
		"match": p.MatchID,
	}).Info("match started, navigating")
	if h := s.cfg.Hooks.OnMatchStarted; h != nil {
		h(p)
	}
	s.finish()
}

// fireClosed is the exactly-once handoff back to the lobby.
func (s *Session) fireClosed() {
	if !s.tryFinish(outcomeClosed) {
		return
	}
	s.logger.Info("room closed, returning to lobby")
	if h := s.cfg.Hooks.OnRoomClosed; h != nil {
		h()
	}
	s.finish()
}

// finish tears the session down after a terminal transition.
func (s *Session) finish() {
	s.mu.Lock()
	s.visit++
	s.reconnecting = false
	s.mu.Unlock()
	s.detach(true)
}

// StartMatch is the owner's guest-present -> match-starting transition: it
// creates and starts the match through the backend, then broadcasts
// game-started. Backend errors (e.g. insufficient credits) are returned to
// the caller untouched and never retried. The transport never echoes our
// own broadcast back, so the owner navigates itself after publishing.
func (s *Session) StartMatch(ctx context.Context) (*models.Match, error) {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil, ErrNotJoined
	}
	if s.userID != s.ownerID {
		s.mu.Unlock()
		return nil, ErrNotOwner
	}
	if s.guestID == uuid.Nil {
		s.mu.Unlock()
		return nil, ErrNoGuest
	}
	if s.starting {
		s.mu.Unlock()
		return nil, ErrConnecting
	}
	s.starting = true
	ep, visit := s.epoch, s.visit
	roomID := s.roomID
	owner := models.Player{ID: s.userID, Username: s.username}
	guest := models.Player{ID: s.guestID, Username: s.guestName}
	roomCh := s.roomCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	match, err := s.cfg.Backend.CreateMatch(ctx, roomID)
	if err != nil {
		return nil, err
	}
	match, err = s.cfg.Backend.StartMatch(ctx, match.ID)
	if err != nil {
		return nil, err
	}

	payload := protocol.GameStarted{
		RoomID:        roomID,
		MatchID:       match.ID,
		Player1:       owner,
		Player2:       guest,
		GameMode:      match.GameMode,
		FirstPlayerID: match.FirstPlayerID,
	}
	if err := s.publish(ep, visit, roomCh, protocol.EventGameStarted, payload); err != nil {
		// The guest still converges through its reconciler once the room
		// record reads playing.
		s.logger.Warnf("game-started broadcast failed, guest will converge via polling: %v", err)
	}
	s.fireNavigated(payload)
	return match, nil
}

// SendBallsUpdate submits a ball-position snapshot through its throttle.
// Snapshots are absolute state, so frames dropped inside a window are
// superseded by the one that flushes.
func (s *Session) SendBallsUpdate(payload interface{}) {
	s.mu.Lock()
	t := s.ballThrottle
	s.mu.Unlock()
	if t != nil {
		t.Offer(payload)
	}
}

// SendAimUpdate submits an aim-line snapshot through its throttle.
func (s *Session) SendAimUpdate(payload interface{}) {
	s.mu.Lock()
	t := s.aimThrottle
	s.mu.Unlock()
	if t != nil {
		t.Offer(payload)
	}
}

// SendGameEvent publishes a low-rate game event (shot-made, turn-change,
// foul, ...) on the game channel without throttling.
func (s *Session) SendGameEvent(event string, payload interface{}) error {
	s.mu.Lock()
	ch := s.gameCh
	ep, visit := s.epoch, s.visit
	s.mu.Unlock()
	if ch == nil {
		return ErrNotJoined
	}
	return s.publish(ep, visit, ch, event, payload)
}

// SendVoiceSignal forwards an opaque voice-signaling payload on the game
// channel. Payload semantics belong to the voice layer.
func (s *Session) SendVoiceSignal(payload interface{}) error {
	return s.SendGameEvent(protocol.EventVoiceSignal, payload)
}

// publish sends one envelope; transport failures are routed to the
// reconnection supervisor.
func (s *Session) publish(ep, visit uint64, ch transport.Channel, event string, payload interface{}) error {
	if !s.alive(ep) {
		return ErrNotJoined
	}
	s.mu.Lock()
	sender := s.userID.String()
	s.mu.Unlock()
	env, err := protocol.NewEnvelope(event, payload, sender)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := ch.Publish(ctx, env); err != nil {
		s.logger.Warnf("publish %s on %s failed: %v", event, ch.Name(), err)
		s.handleTransportError(visit, err)
		return err
	}
	return nil
}

func decode(env protocol.Envelope, out interface{}) error {
	return json.Unmarshal(env.Payload, out)
}
