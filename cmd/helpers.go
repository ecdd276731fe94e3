package main

import (
	"context"
	"time"

	"github.com/sells-group/pharmacy-intel/internal/fetcher"
	"github.com/sells-group/pharmacy-intel/internal/pipeline"
	"github.com/sells-group/pharmacy-intel/internal/store"
)

// initStore validates the configuration for the given mode and opens the
// configured store. The caller owns Close.
func initStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return store.New(ctx, cfg.Store)
}

// newFetcher builds the scheme-routing download client from the sources
// configuration.
func newFetcher() fetcher.Fetcher {
	timeout := time.Duration(cfg.Sources.HTTPTimeout) * time.Second
	return fetcher.NewRouter(
		fetcher.HTTPOptions{
			UserAgent: cfg.Sources.UserAgent,
			Timeout:   timeout,
		},
		fetcher.FTPOptions{Timeout: timeout},
	)
}

func newPipeline(st store.Store) (*pipeline.Pipeline, error) {
	return pipeline.New(cfg, st, newFetcher())
}
