package binance

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"flow-observer/src/helpers"
	"flow-observer/src/models"
	"flow-observer/src/network"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const bootstrapDepthLimit = 1000

// RestClient fetches order book bootstraps and the 24h ranking from the
// USDⓈ-M futures REST API.
type RestClient struct {
	client *futures.Client
	nm     *network.AsyncNetworkManager
}

// -----------------------------------------------------------------------------

func NewRestClient(nm *network.AsyncNetworkManager) *RestClient {
	client := futures.NewClient("", "")
	client.HTTPClient = nm.Client
	if base := nm.Config.Network.RestBaseURL; base != "" {
		client.SetApiEndpoint(strings.TrimRight(base, "/"))
	}
	return &RestClient{client: client, nm: nm}
}

// -----------------------------------------------------------------------------

func (rc *RestClient) FetchDepthBootstrap(ctx context.Context, symbol string) (*models.MDepthBootstrap, error) {
	res, err := network.Do(ctx, rc.nm, "depth bootstrap "+symbol, func(ctx context.Context) (*futures.DepthResponse, error) {
		return rc.client.NewDepthService().Symbol(symbol).Limit(bootstrapDepthLimit).Do(ctx)
	})
	if err != nil {
		return nil, err
	}

	bids := make([][2]string, len(res.Bids))
	for i, b := range res.Bids {
		bids[i] = [2]string{b.Price, b.Quantity}
	}
	asks := make([][2]string, len(res.Asks))
	for i, a := range res.Asks {
		asks[i] = [2]string{a.Price, a.Quantity}
	}

	bidLevels, err := ParseLevels(bids)
	if err != nil {
		return nil, helpers.NewMalformedMessageError("depth bootstrap bids", err)
	}
	askLevels, err := ParseLevels(asks)
	if err != nil {
		return nil, helpers.NewMalformedMessageError("depth bootstrap asks", err)
	}

	return &models.MDepthBootstrap{
		Symbol:       symbol,
		LastUpdateID: res.LastUpdateID,
		Bids:         bidLevels,
		Asks:         askLevels,
	}, nil
}

// -----------------------------------------------------------------------------

func (rc *RestClient) FetchTickerRanking(ctx context.Context) ([]models.MSymbolTicker, error) {
	stats, err := network.Do(ctx, rc.nm, "24h ticker ranking", func(ctx context.Context) ([]*futures.PriceChangeStats, error) {
		return rc.client.NewListPriceChangeStatsService().Do(ctx)
	})
	if err != nil {
		return nil, helpers.NewUpstreamRankingFetchError("fetch 24h tickers", err)
	}

	out := make([]models.MSymbolTicker, 0, len(stats))
	for _, s := range stats {
		if s == nil || s.Symbol == "" {
			continue
		}
		last, err1 := decimal.NewFromString(s.LastPrice)
		vol, err2 := decimal.NewFromString(s.QuoteVolume)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, models.MSymbolTicker{
			Symbol:      s.Symbol,
			LastPrice:   last.InexactFloat64(),
			QuoteVolume: vol.InexactFloat64(),
		})
	}
	if len(out) == 0 {
		return nil, helpers.NewUpstreamRankingFetchError("ticker ranking is empty", nil)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// RankByQuoteVolume keeps symbols quoted in quoteAsset, sorts them by quote
// volume (descending, ties by symbol) and returns the first topN.
func RankByQuoteVolume(tickers []models.MSymbolTicker, quoteAsset string, topN int) []models.MSymbolTicker {
	quoteAsset = strings.ToUpper(quoteAsset)
	filtered := make([]models.MSymbolTicker, 0, len(tickers))
	for _, t := range tickers {
		if quoteAsset != "" && !strings.HasSuffix(strings.ToUpper(t.Symbol), quoteAsset) {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].QuoteVolume != filtered[j].QuoteVolume {
			return filtered[i].QuoteVolume > filtered[j].QuoteVolume
		}
		return filtered[i].Symbol < filtered[j].Symbol
	})

	if topN > 0 && len(filtered) > topN {
		filtered = filtered[:topN]
	}
	return filtered
}

// -----------------------------------------------------------------------------

// String identifies the client in logs.
func (rc *RestClient) String() string {
	return fmt.Sprintf("binance-futures-rest(%s)", rc.nm.Config.Network.RestBaseURL)
}
