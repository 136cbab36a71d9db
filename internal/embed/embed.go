// Package embed provides embedding providers for semantic indexing.
// The index manager only sees the Embedder interface; the concrete
// provider (local model, remote API, or the hash-based fallback) is
// chosen at startup.
package embed

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	lexerrors "github.com/clearbrief/lexindex/internal/errors"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the width of every vector this embedder produces.
	Dimensions() int
	// Name identifies the provider and model for cache keys and stats.
	Name() string
	Close() error
}

// BatchOptions controls EmbedAll batching.
type BatchOptions struct {
	BatchSize int
	Workers   int
	// OnProgress, when set, is called after each batch with the number
	// of texts embedded so far.
	OnProgress func(done, total int)
}

// BatchResult carries the outcome of EmbedAll. Failed batches leave nil
// vectors at their positions; callers decide whether partial coverage is
// acceptable.
type BatchResult struct {
	Vectors [][]float32
	Failed  int // number of texts whose batch errored
	Err     error
}

// EmbedAll embeds texts in batches on a worker pool. Individual batch
// failures do not abort the run; the worst batch error is surfaced in
// Err alongside the count of affected texts.
func EmbedAll(ctx context.Context, e Embedder, texts []string, opts BatchOptions) BatchResult {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	result := BatchResult{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return result
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		result.Err = fmt.Errorf("create embedding pool: %w", err)
		result.Failed = len(texts)
		return result
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	for start := 0; start < len(texts); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			vectors, err := embedWithRetry(ctx, e, texts[start:end])

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed += end - start
				if result.Err == nil {
					result.Err = err
				}
				return
			}
			copy(result.Vectors[start:end], vectors)
			done += end - start
			if opts.OnProgress != nil {
				opts.OnProgress(done, len(texts))
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			result.Failed += end - start
			if result.Err == nil {
				result.Err = fmt.Errorf("submit embedding batch: %w", submitErr)
			}
			mu.Unlock()
		}
	}

	wg.Wait()
	return result
}

func embedWithRetry(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := lexerrors.Retry(ctx, lexerrors.DefaultRetryConfig(), func() error {
		var embErr error
		vectors, embErr = e.Embed(ctx, texts)
		return embErr
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, lexerrors.New(lexerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedder returned %d vectors for %d texts", len(vectors), len(texts)), nil)
	}
	return vectors, nil
}
