package decrypt

import (
	"context"
	"errors"
	"sync"
	"time"

	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	defaultChunkSize      = 10
	defaultMaxConcurrency = 10
	defaultCallTimeout    = 5 * time.Second
)

// Ciphertext is one order to decrypt, with the ledger facts its plaintext
// must agree with.
type Ciphertext struct {
	OrderID uuid.UUID
	Owner   uuid.UUID
	Amount  int64
	Payload []byte
}

// Result is the outcome for one Ciphertext. Exactly one of Plaintext and
// Err is meaningful; Err is always a *DecryptError.
type Result struct {
	OrderID   uuid.UUID
	Plaintext Plaintext
	Err       error
}

type GatewayConfig struct {
	ChunkSize      int
	MaxConcurrency int64
	CallTimeout    time.Duration
}

// Gateway decrypts batches through a Decryptor. Members of a batch fail
// independently; one slow or bad payload never blocks the others beyond
// its own timeout.
type Gateway struct {
	dec         Decryptor
	sem         *semaphore.Weighted
	chunkSize   int
	callTimeout time.Duration
	metrics     *observability.KeeperMetrics
	logger      zerolog.Logger
}

func NewGateway(dec Decryptor, cfg GatewayConfig, metrics *observability.KeeperMetrics, logger zerolog.Logger) *Gateway {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Gateway{
		dec:         dec,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrency),
		chunkSize:   cfg.ChunkSize,
		callTimeout: cfg.CallTimeout,
		metrics:     metrics,
		logger:      logger,
	}
}

// DecryptBatch returns one Result per input, in input order. Chunks are
// processed one after another; members of a chunk run concurrently up to
// the gateway's concurrency limit.
func (g *Gateway) DecryptBatch(ctx context.Context, items []Ciphertext) []Result {
	results := make([]Result, len(items))
	for start := 0; start < len(items); start += g.chunkSize {
		end := min(start+g.chunkSize, len(items))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			results[i].OrderID = items[i].OrderID
			if err := g.sem.Acquire(ctx, 1); err != nil {
				results[i].Err = &DecryptError{OrderID: items[i].OrderID, Err: ledgererr.Wrap(ledgererr.DecryptTimeout, err, "batch cancelled")}
				continue
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer g.sem.Release(1)
				results[i] = g.decryptOne(ctx, items[i])
			}(i)
		}
		wg.Wait()
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	g.logger.Debug().Int("total", len(items)).Int("failed", failed).Msg("decrypted batch")
	return results
}

func (g *Gateway) decryptOne(ctx context.Context, item Ciphertext) Result {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	if g.metrics != nil {
		g.metrics.DecryptInFlight.Inc()
		defer g.metrics.DecryptInFlight.Dec()
	}
	start := time.Now()

	pt, err := g.dec.Decrypt(callCtx, item.Payload)
	if err == nil {
		err = pt.Validate(item.Owner, item.Amount)
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !ledgererr.Is(err, ledgererr.DecryptTimeout) {
		err = ledgererr.Wrap(ledgererr.DecryptTimeout, err, "decrypt call timed out")
	}
	if err != nil {
		if _, ok := ledgererr.CodeOf(err); !ok {
			err = ledgererr.Wrap(ledgererr.Internal, err, "decryptor")
		}
	}

	if g.metrics != nil {
		g.metrics.DecryptDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			code, _ := ledgererr.CodeOf(err)
			g.metrics.DecryptRequests.WithLabelValues(string(code)).Inc()
		} else {
			g.metrics.DecryptRequests.WithLabelValues("ok").Inc()
		}
	}

	if err != nil {
		return Result{OrderID: item.OrderID, Err: &DecryptError{OrderID: item.OrderID, Err: err}}
	}
	return Result{OrderID: item.OrderID, Plaintext: pt}
}
