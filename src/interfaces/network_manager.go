package interfaces

import (
	"context"

	"flow-observer/src/models"
)

// -----------------------------------------------------------------------------
// IMarketDataClient defines the one-shot REST calls made against the exchange.
// -----------------------------------------------------------------------------

type IMarketDataClient interface {

	// FetchDepthBootstrap returns a full order book snapshot for symbol.
	FetchDepthBootstrap(ctx context.Context, symbol string) (*models.MDepthBootstrap, error)

	// -----------------------------------------------------------------------------

	// FetchTickerRanking returns 24h statistics for every listed symbol.
	FetchTickerRanking(ctx context.Context) ([]models.MSymbolTicker, error)
}
