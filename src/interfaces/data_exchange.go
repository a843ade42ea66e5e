package interfaces

import "flow-observer/src/models"

// -----------------------------------------------------------------------------
// IDataExchanger defines the interface for pushing engine events to external
// listeners.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// Broadcast pushes an event to every subscribed listener.
	Broadcast(event models.MEngineEvent)

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
