// cmd/poolsync/main.go

// poolsync is a terminal client for the room synchronization protocol: it
// joins a waiting room, mirrors lifecycle events to the log, and exits to
// the match when the handoff fires. Useful for soaking the session layer
// against a real transport and backend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cuelab/poolsync/internal/auth"
	"github.com/cuelab/poolsync/internal/backend"
	"github.com/cuelab/poolsync/internal/config"
	"github.com/cuelab/poolsync/internal/models"
	"github.com/cuelab/poolsync/internal/protocol"
	"github.com/cuelab/poolsync/internal/session"
	"github.com/cuelab/poolsync/internal/transport"
	"github.com/cuelab/poolsync/internal/transport/memtransport"
	"github.com/cuelab/poolsync/internal/transport/natstransport"
	"github.com/cuelab/poolsync/internal/transport/redistransport"
	"github.com/cuelab/poolsync/internal/transport/wstransport"
)

func main() {
	roomFlag := flag.String("room", "", "room id to join")
	codeFlag := flag.String("code", "", "invite code for a private room")
	startFlag := flag.Bool("start", false, "start the match once a guest is present (owner only)")
	telemetryFlag := flag.Bool("telemetry", false, "send synthetic aim/ball telemetry while waiting")
	flag.Parse()

	logger := logrus.New()
	cfg := config.Load()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	identity, err := auth.IdentityFromToken(cfg.AccessToken)
	if err != nil {
		logger.Fatalf("POOLSYNC_TOKEN: %v", err)
	}

	be := backend.NewHTTP(cfg.BackendURL, cfg.AccessToken, logger)
	tr, cleanup, err := newTransport(cfg, logger)
	if err != nil {
		logger.Fatalf("transport: %v", err)
	}
	defer cleanup()

	resolveCtx, cancelResolve := context.WithTimeout(context.Background(), 30*time.Second)
	room, err := resolveRoom(resolveCtx, be, identity, *roomFlag, *codeFlag)
	cancelResolve()
	if err != nil {
		logger.Fatalf("resolve room: %v", err)
	}

	done := make(chan struct{})
	var closeDone sync.Once
	finish := func() { closeDone.Do(func() { close(done) }) }

	var sess *session.Session
	sess = session.New(session.Config{
		Backend:   be,
		Transport: tr,
		Logger:    logger,
		Hooks: session.Hooks{
			OnGuestPresent: func(p models.Player) {
				logger.Infof("guest present: %s (%s)", p.Username, p.ID)
				if *startFlag {
					go startMatch(logger, sess)
				}
			},
			OnGuestLeft: func(id uuid.UUID) {
				logger.Infof("guest left: %s", id)
			},
			OnMatchStarted: func(p protocol.GameStarted) {
				logger.Infof("match %s started, first to shoot: %s", p.MatchID, p.FirstPlayerID)
				finish()
			},
			OnRoomClosed: func() {
				logger.Info("room closed")
				finish()
			},
			OnConnectionFailed: func(err error) {
				logger.Errorf("connection failed: %v", err)
				finish()
			},
		},
	})

	joinCtx, cancelJoin := context.WithTimeout(context.Background(), 30*time.Second)
	err = sess.Join(joinCtx, room.ID, identity.UserID, identity.Username)
	cancelJoin()
	if err != nil {
		logger.Fatalf("join room %s: %v", room.ID, err)
	}
	logger.Infof("joined room %s as %s (%s)", room.ID, identity.Username, sess.Phase())

	if *telemetryFlag {
		go sendTelemetry(sess, done)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("leaving room")
	case <-done:
	}
	sess.Leave()

	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelLeave()
	if err := be.LeaveRoom(leaveCtx, room.ID); err != nil {
		logger.Warnf("backend leave: %v", err)
	}
}

func startMatch(logger *logrus.Logger, sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := sess.StartMatch(ctx); err != nil {
		logger.Errorf("start match: %v", err)
	}
}

func resolveRoom(ctx context.Context, be backend.Client, identity auth.Identity, roomArg, code string) (*models.Room, error) {
	if code != "" {
		return be.JoinRoomByCode(ctx, code)
	}
	roomID, err := uuid.Parse(roomArg)
	if err != nil {
		return nil, err
	}
	room, err := be.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.OwnerID == identity.UserID {
		return room, nil
	}
	return be.JoinRoom(ctx, roomID)
}

func newTransport(cfg config.Config, logger *logrus.Logger) (transport.Transport, func(), error) {
	switch cfg.Transport {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		return redistransport.New(rdb, logger), func() { _ = rdb.Close() }, nil
	case "nats":
		t, err := natstransport.Connect(cfg.NATSURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return t, t.Close, nil
	case "ws":
		return wstransport.New(cfg.RelayURL, logger), func() {}, nil
	case "mem":
		return memtransport.New(), func() {}, nil
	}
	return nil, nil, errUnknownTransport(cfg.Transport)
}

type errUnknownTransport string

func (e errUnknownTransport) Error() string { return "unknown transport: " + string(e) }

// sendTelemetry pushes synthetic absolute-state snapshots at render rate;
// the session throttles them down to the wire rate.
func sendTelemetry(sess *session.Session, done <-chan struct{}) {
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			seq++
			sess.SendAimUpdate(map[string]int{"seq": seq})
			sess.SendBallsUpdate(map[string]int{"seq": seq})
		}
	}
}
