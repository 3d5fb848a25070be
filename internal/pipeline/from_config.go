package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/renzoku/gateway/internal/config"
	"github.com/renzoku/gateway/internal/content"
	"github.com/renzoku/gateway/internal/ratelimit"
	"github.com/renzoku/gateway/internal/upstream"
)

// NewFromConfig builds a client from environment configuration. The endpoint table is
// the built-in one for the configured hosts, overridden per pair by ENDPOINTS_FILE.
func NewFromConfig(cfg config.Config, recorder Recorder, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	override, err := upstream.LoadTable(cfg.EndpointsFile)
	if err != nil {
		return nil, fmt.Errorf("load endpoint table: %w", err)
	}
	resolver, err := upstream.NewResolver(upstream.DefaultTable(cfg.UpstreamBaseURL, cfg.UpstreamMirrors...).Merge(override))
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}

	httpClient := upstream.NewHTTPClient(cfg.UpstreamBaseURL+"/", 0)
	fetcher := upstream.NewFetcher(httpClient, cfg.CORSProxyURL, logger)

	detailSlug := content.DetailPage
	detailSlug.StripSubIndo = cfg.StripSubIndoOnDetail

	return New(Options{
		Resolver: resolver,
		Fetcher:  fetcher,
		Limiter:  ratelimit.NewWindow(cfg.RateLimitMax, cfg.RateLimitWindow),
		Retry: upstream.RetryPolicy{
			ExtraPasses: cfg.RetryExtraPasses,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Logger:      logger,
		},
		RequestTimeout: cfg.RequestTimeout,
		CacheTTL:       cfg.CacheTTL,
		PreloadTTL:     cfg.PreloadTTL,
		DetailSlug:     detailSlug,
		HomeFallback:   cfg.DetailHomeFallback,
		Recorder:       recorder,
		Logger:         logger,
	})
}
