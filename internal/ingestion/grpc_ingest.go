package ingestion

import (
	"context"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/observability"

	"github.com/google/uuid"
)

// GRPCIngestService is the gRPC entry into the core. Keepers submit
// settlements through it and operators use it for manual injection; bulk
// traffic goes through NATS.
type GRPCIngestService struct {
	submitter Submitter
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewGRPCIngestService(submitter Submitter, metrics *observability.Metrics) *GRPCIngestService {
	return &GRPCIngestService{submitter: submitter, metrics: metrics, now: time.Now}
}

// Apply submits evt and waits for the core's decision.
func (s *GRPCIngestService) Apply(ctx context.Context, evt event.Event) (*core.Result, error) {
	start := s.now()
	res, err := s.submitter.Submit(ctx, evt)
	if err == nil && s.metrics != nil {
		s.metrics.IngestToApply.WithLabelValues(evt.EventType().String()).Observe(time.Since(start).Seconds())
	}
	return res, err
}

// InjectDeposit credits owner from outside the ledger. A nil depositID is
// replaced with a fresh one, which makes the call non-idempotent.
func (s *GRPCIngestService) InjectDeposit(ctx context.Context, depositID, owner uuid.UUID, asset string, amount int64) (*core.Result, error) {
	if amount <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "deposit amount must be positive")
	}
	if depositID == uuid.Nil {
		depositID = uuid.New()
	}
	return s.Apply(ctx, &event.Deposit{
		DepositID: depositID,
		Owner:     owner,
		Asset:     asset,
		Amount:    amount,
		Timestamp: s.now().UTC(),
	})
}

// InjectWithdrawal moves available funds out of the ledger.
func (s *GRPCIngestService) InjectWithdrawal(ctx context.Context, withdrawalID, owner uuid.UUID, asset string, amount int64) (*core.Result, error) {
	if amount <= 0 {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "withdrawal amount must be positive")
	}
	if withdrawalID == uuid.Nil {
		withdrawalID = uuid.New()
	}
	return s.Apply(ctx, &event.Withdraw{
		WithdrawalID: withdrawalID,
		Owner:        owner,
		Asset:        asset,
		Amount:       amount,
		Timestamp:    s.now().UTC(),
	})
}
