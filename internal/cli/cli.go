// Package cli assembles the thin command-line surface over an Engine:
// repository management, selection mutation, info queries, the two
// processing triggers, and serve/version, following the dependency-bag
// Root pattern a wider command tree used for its own subcommands.
package cli

import (
	"log/slog"

	"starbash/internal/starbash"
)

// Root carries everything a subcommand needs without each one reaching
// into globals.
type Root struct {
	engine *starbash.Engine
	log    *slog.Logger
}

// NewRoot builds a Root over an already-assembled Engine.
func NewRoot(engine *starbash.Engine, log *slog.Logger) *Root {
	return &Root{engine: engine, log: log}
}
