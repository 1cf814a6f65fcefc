package loader

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/tunnelmesh/chunkloader/internal/chunk"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
	"golang.org/x/sync/errgroup"
)

// FetchAllChunks fetches every distinct fingerprint in fps in parallel,
// bounded by the loader's Pool. Fingerprints no source has are left out of
// the result. The first error fails the whole batch: fetches that have not
// started yet are skipped and no partial result is returned.
func (l *Loader) FetchAllChunks(ctx context.Context, fps []fingerprint.Fingerprint) (map[fingerprint.Fingerprint]*chunk.Chunk, error) {
	seen := make(map[fingerprint.Fingerprint]struct{}, len(fps))
	order := make([]fingerprint.Fingerprint, 0, len(fps))
	for _, fp := range fps {
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		order = append(order, fp)
	}

	// Shuffled so concurrent batches over the same chunks spread their
	// requests instead of marching through sources in lockstep.
	rand.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	logger := l.logger.With().
		Str("batch_id", uuid.NewString()).
		Int("chunks", len(order)).
		Logger()
	logger.Debug().Int("requested", len(fps)).Msg("starting batch fetch")

	var mu sync.Mutex
	result := make(map[fingerprint.Fingerprint]*chunk.Chunk, len(order))

	g, gctx := errgroup.WithContext(ctx)
	var acquireErr error
	for _, fp := range order {
		if err := l.pool.Acquire(gctx); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer l.pool.Release()

			c, err := l.FetchChunk(gctx, fp)
			if err != nil {
				return err
			}
			if c != nil {
				mu.Lock()
				result[fp] = c
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = acquireErr
	}
	if err != nil {
		logger.Warn().Err(err).Msg("batch fetch failed")
		return nil, err
	}

	logger.Debug().Int("found", len(result)).Msg("batch fetch complete")
	return result, nil
}
