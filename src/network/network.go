package network

import (
	"context"
	"net"
	"net/http"
	"time"

	"flow-observer/src/helpers"
	"flow-observer/src/logger"
	"flow-observer/src/models"

	"golang.org/x/time/rate"
)

// AsyncNetworkManager owns the shared HTTP transport, the request rate limit
// and the retry policy for one-shot REST calls.
type AsyncNetworkManager struct {
	Config  *models.MConfig
	Client  *http.Client
	Limiter *rate.Limiter
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	rps := cfg.Network.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	nm := &AsyncNetworkManager{
		Config:  cfg,
		Limiter: rate.NewLimiter(rate.Limit(rps), burst),
		Logger:  log,
	}
	nm.Client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   nm.RequestTimeout(),
	}
}

// -----------------------------------------------------------------------------

// RequestTimeout is the bound applied to every one-shot call.
func (nm *AsyncNetworkManager) RequestTimeout() time.Duration {
	if nm.Config.Network.RequestTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(nm.Config.Network.RequestTimeout) * time.Second
}

// -----------------------------------------------------------------------------

// BackoffBounds returns the configured reconnect backoff range.
func (nm *AsyncNetworkManager) BackoffBounds() (time.Duration, time.Duration) {
	min := time.Duration(nm.Config.Network.BackoffMinMs) * time.Millisecond
	max := time.Duration(nm.Config.Network.BackoffMaxMs) * time.Millisecond
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = 60 * time.Second
	}
	return min, max
}

// -----------------------------------------------------------------------------

// Do runs fn under the rate limiter with a per-attempt timeout, retrying
// failures with backoff up to the configured retry count.
func Do[T any](ctx context.Context, nm *AsyncNetworkManager, operation string, fn func(context.Context) (T, error)) (T, error) {
	min, _ := nm.BackoffBounds()
	retries := nm.Config.Network.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	return helpers.RetryWithBackoff(ctx, nm.Logger, operation, retries, min, func(ctx context.Context) (T, error) {
		var zero T
		if err := nm.Limiter.Wait(ctx); err != nil {
			return zero, err
		}

		callCtx, cancel := context.WithTimeout(ctx, nm.RequestTimeout())
		defer cancel()

		res, err := fn(callCtx)
		if err != nil {
			return zero, helpers.NewTransientNetworkError(operation, err)
		}
		return res, nil
	})
}
