package store

import (
	"context"
	"errors"
	"time"

	"github.com/jules-labs/fleet/internal/platform"
	"github.com/jules-labs/fleet/pkg/jules"
)

// ErrNATSConfigRequired mirrors pkg/capi's ErrNATSConfigRequired: selecting
// StorageNATS without a NATSURL is a configuration error, not a runtime one.
var ErrNATSConfigRequired = errors.New("NATS URL required for nats storage backend")

// Stores bundles the two stores julesclient wires into resource clients.
type Stores struct {
	Activities ActivityStore
	Sessions   SessionStore
}

// New builds Stores for cfg.Storage, the way pkg/capi.NewCacheFromConfig
// switches on CacheConfig.Type.
func New(ctx context.Context, cfg jules.Config, fs platform.Adapter) (*Stores, error) {
	switch cfg.Storage {
	case jules.StorageMemory, "":
		return &Stores{
			Activities: NewMemoryActivityStore(),
			Sessions:   NewMemorySessionStore(time.Now),
		}, nil

	case jules.StorageNATS:
		if cfg.NATSURL == "" {
			return nil, ErrNATSConfigRequired
		}
		activities, err := NewNATSActivityStore(ctx, cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Activities: activities,
			Sessions:   NewMemorySessionStore(time.Now), // session index still local; only the activity log benefits from shared NATS state
		}, nil

	case jules.StorageFile:
		activities, err := NewFileActivityStore(cfg.CacheRoot, fs)
		if err != nil {
			return nil, err
		}
		sessions, err := NewFileSessionStore(cfg.CacheRoot, fs, time.Now)
		if err != nil {
			return nil, err
		}
		return &Stores{Activities: activities, Sessions: sessions}, nil

	default:
		return nil, jules.NewError(jules.KindInvalidState, "unsupported storage backend: "+string(cfg.Storage), nil, "")
	}
}
