// Package config loads the ostrich application configuration.
//
// # Overview
//
// Configuration is a single YAML document. Every field has a default, so
// an empty or missing file yields a usable configuration rooted at
// ~/.ostrich. Relative paths are resolved against the state directory and
// a leading ~ is expanded.
//
// # Sections
//
//   - state: where runner state lives (file or redis)
//   - logs: the directory for per-execution step logs
//   - journal: the SQLite execution history
//   - display: interactive, stream or silent operator output
//   - patches: where patch files are read from and archived to
//   - defaults: the initial shared step context
//   - telemetry: diagnostic logging, tracing and metrics
//
// # Usage Example
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	store := stores.NewFileStore(cfg.State.Path)
//	runner, err := engine.New(ctx, store,
//	    engine.WithInitialContext(cfg.Defaults))
//
// The OSTRICH_STATE_DIR environment variable overrides state_dir.
package config
