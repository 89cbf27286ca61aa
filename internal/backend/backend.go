// internal/backend/backend.go

// Package backend is the narrow surface of the platform backend this core
// consumes: authoritative room records, join/leave bookkeeping, and match
// creation. Everything else the platform does (wallets, moderation,
// tournaments) lives behind other services and is out of scope here.
package backend

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/cuelab/poolsync/internal/models"
)

// ErrNotFound indicates the requested room no longer exists.
var ErrNotFound = errors.New("backend: room not found")

// APIError is an application-level failure reported by the backend as a
// human-readable string (e.g. "insufficient credits"). It is surfaced to
// the user directly and never retried.
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Client is the request/response collaborator the session layer talks to.
type Client interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	JoinRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	JoinRoomByCode(ctx context.Context, code string) (*models.Room, error)
	LeaveRoom(ctx context.Context, roomID uuid.UUID) error
	CreateMatch(ctx context.Context, roomID uuid.UUID) (*models.Match, error)
	StartMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error)
}
