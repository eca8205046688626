package decrypt_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ShadowSwap/internal/decrypt"
	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/matching"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDecryptor wraps the mock layout with hooks for slow or failing calls.
type fakeDecryptor struct {
	mock     decrypt.MockDecryptor
	block    map[string]bool // payload keys that hang until ctx ends
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (f *fakeDecryptor) Decrypt(ctx context.Context, ct []byte) (decrypt.Plaintext, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	if f.block[string(ct)] {
		<-ctx.Done()
		return decrypt.Plaintext{}, ctx.Err()
	}
	return f.mock.Decrypt(ctx, ct)
}

func item(side matching.Side, amount, price int64) decrypt.Ciphertext {
	return decrypt.Ciphertext{
		OrderID: uuid.New(),
		Owner:   uuid.New(),
		Amount:  amount,
		Payload: decrypt.EncodePayload(side, amount, price, 42),
	}
}

func TestMockDecryptor_RoundTripLayout(t *testing.T) {
	payload := decrypt.EncodePayload(matching.SideSell, 6, 95, 1700)

	pt, err := decrypt.NewMockDecryptor().Decrypt(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, matching.SideSell, pt.Side)
	assert.Equal(t, int64(6), pt.Amount)
	assert.Equal(t, int64(95), pt.Price)
	assert.Equal(t, uint32(1700), pt.Timestamp)
}

func TestMockDecryptor_RejectsBadPayloads(t *testing.T) {
	_, err := decrypt.NewMockDecryptor().Decrypt(context.Background(), []byte{1, 2, 3})
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidCipherPayload))

	bad := decrypt.EncodePayload(matching.Side(2), 1, 1, 0)
	_, err = decrypt.NewMockDecryptor().Decrypt(context.Background(), bad)
	assert.True(t, ledgererr.Is(err, ledgererr.InvalidCipherPayload))
}

func TestPlaintextValidate(t *testing.T) {
	owner := uuid.New()
	pt := decrypt.Plaintext{Side: matching.SideBuy, Amount: 10, Price: 100}

	assert.NoError(t, pt.Validate(owner, 10))
	assert.Error(t, pt.Validate(owner, 11), "amount must match the ledger")

	pt.Owner = uuid.New()
	assert.Error(t, pt.Validate(owner, 10), "owner must match the ledger")

	pt.Owner = owner
	pt.Price = 0
	assert.Error(t, pt.Validate(owner, 10))
}

func TestGateway_DecryptsInInputOrder(t *testing.T) {
	g := decrypt.NewGateway(&fakeDecryptor{}, decrypt.GatewayConfig{ChunkSize: 3, MaxConcurrency: 2}, nil, zerolog.Nop())
	items := []decrypt.Ciphertext{
		item(matching.SideBuy, 10, 100),
		item(matching.SideSell, 6, 95),
		item(matching.SideSell, 1, 90),
		item(matching.SideBuy, 2, 80),
		item(matching.SideBuy, 3, 70),
	}

	results := g.DecryptBatch(context.Background(), items)

	require.Len(t, results, len(items))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, items[i].OrderID, r.OrderID)
		assert.Equal(t, items[i].Amount, r.Plaintext.Amount)
	}
}

func TestGateway_BoundsConcurrency(t *testing.T) {
	fake := &fakeDecryptor{}
	g := decrypt.NewGateway(fake, decrypt.GatewayConfig{ChunkSize: 20, MaxConcurrency: 3}, nil, zerolog.Nop())
	items := make([]decrypt.Ciphertext, 20)
	for i := range items {
		items[i] = item(matching.SideBuy, int64(i+1), 100)
	}

	g.DecryptBatch(context.Background(), items)

	assert.LessOrEqual(t, fake.peak.Load(), int64(3))
}

func TestGateway_FailuresAreIndependent(t *testing.T) {
	slow := item(matching.SideBuy, 5, 100)
	fake := &fakeDecryptor{block: map[string]bool{string(slow.Payload): true}}
	g := decrypt.NewGateway(fake, decrypt.GatewayConfig{CallTimeout: 50 * time.Millisecond}, nil, zerolog.Nop())

	mismatched := item(matching.SideSell, 7, 100)
	mismatched.Amount = 8
	good := item(matching.SideSell, 5, 100)
	garbage := decrypt.Ciphertext{OrderID: uuid.New(), Payload: []byte("short")}

	results := g.DecryptBatch(context.Background(), []decrypt.Ciphertext{slow, mismatched, good, garbage})

	var de *decrypt.DecryptError
	require.True(t, errors.As(results[0].Err, &de))
	assert.Equal(t, slow.OrderID, de.OrderID)
	assert.Equal(t, ledgererr.DecryptTimeout, de.Code())
	assert.True(t, ledgererr.IsRetryable(results[0].Err))

	require.True(t, errors.As(results[1].Err, &de))
	assert.Equal(t, ledgererr.InvalidCipherPayload, de.Code())

	assert.NoError(t, results[2].Err)
	assert.Equal(t, int64(5), results[2].Plaintext.Amount)

	require.True(t, errors.As(results[3].Err, &de))
	assert.Equal(t, ledgererr.InvalidCipherPayload, de.Code())
}

func TestGateway_CancelledContext(t *testing.T) {
	g := decrypt.NewGateway(&fakeDecryptor{}, decrypt.GatewayConfig{}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := g.DecryptBatch(ctx, []decrypt.Ciphertext{item(matching.SideBuy, 1, 1)})

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}
