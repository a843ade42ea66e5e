package interfaces

import (
	"context"

	"flow-observer/src/models"
)

// -----------------------------------------------------------------------------
// IEngine is a streaming engine owning a set of per-symbol workers.
// -----------------------------------------------------------------------------

type IEngine interface {

	// Name returns the unique identifier of the engine
	Name() string

	// -----------------------------------------------------------------------------

	// Start launches the per-symbol workers. Cancelling ctx stops them.
	Start(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Stop closes every connection and timer and waits for the workers to exit.
	// No event is published after Stop returns.
	Stop() error

	// -----------------------------------------------------------------------------

	// Symbols returns the currently tracked symbols.
	Symbols() []string

	// -----------------------------------------------------------------------------

	// IsTracked reports whether symbol is served by this engine.
	IsTracked(symbol string) bool

	// -----------------------------------------------------------------------------

	// Health reports per-engine counters.
	Health() models.MEngineHealth
}
