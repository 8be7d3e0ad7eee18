package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/padhai/ragserver/internal/indexcache"
	"github.com/padhai/ragserver/internal/service"
)

// IndexSweepJob evicts cached indexes whose folder contents changed since
// build time. An index is only valid for the exact document set it was built
// from, and uploads happen out of band, so drift is detected by re-listing
// storage and comparing fingerprints. Eviction just forces a rebuild on the
// next query.
type IndexSweepJob struct {
	cache *indexcache.Cache
	rag   *service.RAGService
}

func NewIndexSweepJob(cache *indexcache.Cache, rag *service.RAGService) *IndexSweepJob {
	return &IndexSweepJob{cache: cache, rag: rag}
}

func (j *IndexSweepJob) Name() string {
	return "index_sweep"
}

func (j *IndexSweepJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	evicted := 0
	for _, idx := range j.cache.Values() {
		current, err := j.rag.StorageFingerprint(ctx, idx.Owner, idx.Folder)
		if err != nil {
			// Listing failures are transient; keep the entry and let the
			// next sweep retry.
			logger.Warn("fingerprint check failed",
				zap.String("owner", idx.Owner),
				zap.String("folder", idx.Folder),
				zap.Error(err),
			)
			continue
		}
		if current != idx.Fingerprint {
			logger.Info("evicting stale index",
				zap.String("owner", idx.Owner),
				zap.String("folder", idx.Folder),
				zap.Time("built_at", idx.BuiltAt),
			)
			j.cache.Remove(idx.Owner, idx.Folder)
			evicted++
		}
	}
	logger.Info("index sweep done", zap.Int("cached", j.cache.Len()), zap.Int("evicted", evicted))
	return nil
}
