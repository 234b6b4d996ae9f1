package session

import (
	"context"

	"github.com/2beens/gymweb/internal/backend"
)

//go:generate mockgen -source=$GOFILE -destination=deps_mocks_test.go -package=session

// PersistentStore is the durable key/value storage a session survives restarts in.
// Get reports a missing key with found=false and a nil error.
type PersistentStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Authenticator is the backend auth API.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.AuthResponse, error)
	Register(ctx context.Context, email, password, name string) (*backend.AuthResponse, error)
}
