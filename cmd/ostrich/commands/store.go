package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/shakenfist/ostrich/pkg/config"
	"github.com/shakenfist/ostrich/pkg/engine"
	"github.com/shakenfist/ostrich/pkg/stores"
)

// stateStore is the configured state backend plus the operations the
// commands need beyond engine.StateStore.
type stateStore struct {
	engine.StateStore
	describe string
	remove   func(ctx context.Context) error
	close    func() error
}

func openStateStore(cfg *config.Config) (*stateStore, error) {
	switch cfg.State.Backend {
	case config.BackendFile:
		fs := stores.NewFileStore(cfg.State.Path)
		return &stateStore{
			StateStore: fs,
			describe:   fs.Path(),
			remove:     func(context.Context) error { return fs.Remove() },
			close:      func() error { return nil },
		}, nil

	case config.BackendRedis:
		var opts []stores.RedisOption
		if cfg.State.Redis.Key != "" {
			opts = append(opts, stores.WithKey(cfg.State.Redis.Key))
		}
		rs := stores.NewRedisStore(cfg.State.Redis.Address, cfg.State.Redis.Password, cfg.State.Redis.DB, opts...)
		key := cfg.State.Redis.Key
		if key == "" {
			key = stores.DefaultRedisKey
		}
		return &stateStore{
			StateStore: rs,
			describe:   fmt.Sprintf("redis://%s/%d %s", cfg.State.Redis.Address, cfg.State.Redis.DB, key),
			remove:     rs.Remove,
			close:      rs.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
}

// loadState returns the saved state, or an empty state when nothing has
// been saved yet.
func (s *stateStore) loadState(ctx context.Context) (*engine.State, error) {
	state, err := s.Load(ctx)
	if errors.Is(err, engine.ErrNoState) {
		return engine.NewState(), nil
	}
	if err != nil {
		return nil, err
	}
	if state.Complete == nil {
		state.Complete = map[string]engine.Outcome{}
	}
	return state, nil
}
