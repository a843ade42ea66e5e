package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"flow-observer/src/helpers"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/network"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *RestClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &models.MConfig{}
	cfg.Network.RestBaseURL = srv.URL
	cfg.Network.RequestTimeout = 2
	cfg.Network.MaxRetries = 1
	cfg.Network.RequestsPerSecond = 100
	cfg.Network.BackoffMinMs = 1
	cfg.Network.BackoffMaxMs = 5
	return NewRestClient(network.NewAsyncNetworkManager(cfg, logger.NewLogger(nil, "test")))
}

func TestRankByQuoteVolumeTopN(t *testing.T) {
	var tickers []models.MSymbolTicker
	for i := 1; i <= 31; i++ {
		tickers = append(tickers, models.MSymbolTicker{
			Symbol:      fmt.Sprintf("SYM%02dUSDT", i),
			QuoteVolume: float64(1000 - i),
		})
	}
	tickers = append(tickers, models.MSymbolTicker{Symbol: "BTCBUSD", QuoteVolume: 1e12})

	top := RankByQuoteVolume(tickers, "USDT", 30)
	if len(top) != 30 {
		t.Fatalf("expected 30 symbols, got %d", len(top))
	}
	if top[0].Symbol != "SYM01USDT" || top[29].Symbol != "SYM30USDT" {
		t.Fatalf("unexpected order: first %s last %s", top[0].Symbol, top[29].Symbol)
	}
	for _, s := range top {
		if s.Symbol == "SYM31USDT" || s.Symbol == "BTCBUSD" {
			t.Fatalf("%s should not be ranked", s.Symbol)
		}
	}
}

func TestFetchDepthBootstrap(t *testing.T) {
	rc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/depth" || r.URL.Query().Get("symbol") != "BTCUSDT" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"lastUpdateId":1027024,"E":1,"T":1,"bids":[["100.0","2.5"]],"asks":[["102.0","1.0"],["103.0","4.0"]]}`)
	})

	boot, err := rc.FetchDepthBootstrap(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if boot.LastUpdateID != 1027024 || len(boot.Bids) != 1 || len(boot.Asks) != 2 {
		t.Fatalf("unexpected bootstrap: %+v", boot)
	}
	if boot.Bids[0] != (models.MPriceLevel{100, 2.5}) {
		t.Fatalf("bid = %v", boot.Bids[0])
	}
}

func TestFetchTickerRankingFailureIsTyped(t *testing.T) {
	rc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1000,"msg":"boom"}`)
	})

	_, err := rc.FetchTickerRanking(context.Background())
	var rankErr *helpers.UpstreamRankingFetchError
	if !errors.As(err, &rankErr) {
		t.Fatalf("expected UpstreamRankingFetchError, got %v", err)
	}
}

func TestFetchTickerRanking(t *testing.T) {
	rc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","lastPrice":"30000.5","quoteVolume":"9000000"},{"symbol":"ETHUSDT","lastPrice":"2000","quoteVolume":"5000000"}]`)
	})

	tickers, err := rc.FetchTickerRanking(context.Background())
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(tickers) != 2 || tickers[0].LastPrice != 30000.5 || tickers[1].QuoteVolume != 5e6 {
		t.Fatalf("unexpected tickers: %+v", tickers)
	}
}
