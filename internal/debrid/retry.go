package debrid

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beluchon/stream-fusion/internal/apperror"
	"github.com/beluchon/stream-fusion/internal/ratelimit"
)

// Do performs an HTTP round trip with the shared retry policy:
// 429 -> exponential backoff starting at 2s, doubling, up to 5 attempts;
// other 4xx -> fail fast, no retry (ProviderClientError);
// 5xx or connection error -> retry up to 5 attempts (ProviderTransient if
// the budget is exhausted).
//
// limiter/scope gate every attempt, including retries, so rate limiting is
// enforced regardless of how many times a request is retried.
func Do(ctx context.Context, client *http.Client, limiter *ratelimit.Limiter, logger *zap.Logger, req *http.Request) (*http.Response, error) {
	const maxAttempts = 5
	backoff := 2 * time.Second
	scope := ratelimit.ScopeForURL(req.URL.String())

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := limiter.Acquire(ctx, scope); err != nil {
			return nil, apperror.Wrap(apperror.Timeout, "rate limiter wait cancelled", err)
		}

		res, err := client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			logger.Debug("debrid request failed, will retry", zap.Error(err), zap.Int("attempt", attempt))
			if !sleepOrDone(ctx, backoff) {
				return nil, apperror.Wrap(apperror.Timeout, "context cancelled during retry backoff", ctx.Err())
			}
			backoff *= 2
			continue
		}

		switch {
		case res.StatusCode == http.StatusTooManyRequests:
			res.Body.Close()
			lastErr = apperror.New(apperror.ProviderTransient, "received 429 from provider")
			if attempt == maxAttempts {
				break
			}
			if !sleepOrDone(ctx, backoff) {
				return nil, apperror.Wrap(apperror.Timeout, "context cancelled during 429 backoff", ctx.Err())
			}
			backoff *= 2
			continue
		case res.StatusCode >= 500:
			res.Body.Close()
			lastErr = apperror.New(apperror.ProviderTransient, "received 5xx from provider")
			if attempt == maxAttempts {
				break
			}
			if !sleepOrDone(ctx, backoff) {
				return nil, apperror.Wrap(apperror.Timeout, "context cancelled during 5xx backoff", ctx.Err())
			}
			backoff *= 2
			continue
		case res.StatusCode >= 400:
			// Non-429 4xx: fail fast, no retry.
			return res, apperror.New(apperror.ProviderClientError, "received 4xx from provider")
		default:
			return res, nil
		}
	}

	return nil, apperror.Wrap(apperror.ProviderTransient, "exhausted retry budget", lastErr)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
