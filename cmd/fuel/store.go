package main

import (
	"github.com/ashleyhindle/fuel/internal/config"
	"github.com/ashleyhindle/fuel/internal/store"
)

// openStore opens the database at cfg's default path. One-shot
// subcommands (add/done/retry) each open and close their own
// connection rather than talking to the running consume loop, since
// SQLite tolerates a second short-lived writer between ticks.
func openStore(cfg config.Config) (*store.Store, error) {
	return store.Open(store.DefaultDBPath(cfg.HomeDir))
}
