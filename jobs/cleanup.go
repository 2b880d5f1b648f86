package jobs

import (
	"context"

	"github.com/kilianp07/wastedispatch/core/cache"
	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/queue"
)

// CleanupHandler evicts expired cache entries.
type CleanupHandler struct {
	Cache cache.Cache
	Log   logger.Logger
}

func (h *CleanupHandler) Handle(ctx context.Context, job queue.Job) error {
	var p queue.CleanupPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	n, err := h.Cache.Sweep(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.OrNop(h.Log).Debugf("cleanup evicted %d cache entries", n)
	}
	return nil
}
