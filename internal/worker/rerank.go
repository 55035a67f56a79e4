package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const defaultInterval = time.Minute

// Reranker is the part of the queue service the worker drives.
type Reranker interface {
	RerankAll(ctx context.Context) error
}

// RerankWorker periodically re-ranks every partition so wait-time boosts
// move patients up even when nothing else happens in their queue.
type RerankWorker struct {
	Service  Reranker
	Interval time.Duration
	Logger   zerolog.Logger
}

// Start blocks until ctx is cancelled.
func (w *RerankWorker) Start(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Logger.Info().Dur("interval", interval).Msg("rerank worker started")
	for {
		select {
		case <-ctx.Done():
			w.Logger.Info().Msg("rerank worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *RerankWorker) runOnce(ctx context.Context) {
	start := time.Now()
	if err := w.Service.RerankAll(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.Logger.Error().Err(err).Msg("periodic rerank finished with errors")
		return
	}
	w.Logger.Debug().Dur("took", time.Since(start)).Msg("periodic rerank done")
}
