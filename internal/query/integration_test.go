package query_test

import (
	"context"
	"testing"
	"time"

	"ShadowSwap/internal/core"
	"ShadowSwap/internal/event"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/persistence"
	"ShadowSwap/internal/projection"
	"ShadowSwap/internal/query"
	"ShadowSwap/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Commands are applied by a core, written to the event log and projected,
// then read back through the query service.
func TestIntegration_ProjectAndQuery(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	outputs := make(chan core.CoreOutput, 64)
	c := core.NewDeterministicCore(0, outputs, nil, nil, nil)

	authority := uuid.New()
	owner := uuid.New()
	ts := time.UnixMicro(9_000_000).UTC()

	res, err := c.ProcessEvent(&event.InitializeOrderBook{
		RequestID:        uuid.New(),
		Authority:        authority,
		BaseAsset:        "SOL",
		QuoteAsset:       "USDC",
		FeeBps:           25,
		FeeRecipient:     authority,
		MinBaseOrderSize: 1,
		BaseUnit:         1,
		Timestamp:        ts,
	})
	require.NoError(t, err)
	bookID := res.OrderBook.ID

	_, err = c.ProcessEvent(&event.Deposit{DepositID: uuid.New(), Owner: owner, Asset: "USDC", Amount: 1_000, Timestamp: ts.Add(time.Millisecond)})
	require.NoError(t, err)
	_, err = c.ProcessEvent(&event.Withdraw{WithdrawalID: uuid.New(), Owner: owner, Asset: "USDC", Amount: 400, Timestamp: ts.Add(2 * time.Millisecond)})
	require.NoError(t, err)
	close(outputs)

	writer := persistence.NewEventLogWriter(db)
	for out := range outputs {
		row, journals := persistence.RowsFromOutput(out)
		require.NoError(t, writer.WriteEventBatch(ctx, db, []persistence.EventRow{row}))
		if len(journals) > 0 {
			require.NoError(t, writer.WriteJournalBatch(ctx, db, journals))
		}
		require.NoError(t, projection.Apply(ctx, db, out))
		// Re-projecting the same output must not double count.
		require.NoError(t, projection.Apply(ctx, db, out))
	}

	qs := query.NewQueryService(db, nil)

	balances, err := qs.GetBalances(ctx, owner)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "USDC", balances[0].Asset)
	assert.Equal(t, int64(600), balances[0].Available)
	assert.Equal(t, int64(0), balances[0].InEscrow)
	assert.Equal(t, int64(2), balances[0].AsOfSequence)

	book, err := qs.GetOrderBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, bookID, book.ID)
	assert.Equal(t, uint16(25), book.FeeBps)

	_, err = qs.GetOrderBook(ctx, uuid.New())
	assert.True(t, ledgererr.Is(err, ledgererr.OrderBookNotFound))

	_, err = qs.GetOrder(ctx, uuid.New())
	assert.True(t, ledgererr.Is(err, ledgererr.OrderNotFound))

	journals, err := qs.GetJournalHistory(ctx, owner, query.Page{})
	require.NoError(t, err)
	assert.Len(t, journals, 2)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)

	wm, err := qs.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), wm)
}
