package decrypt

import (
	"context"
	"encoding/binary"
	"math"

	"ShadowSwap/internal/ledgererr"
	"ShadowSwap/internal/matching"
)

// PayloadSize is the length of the plaintext order layout understood by
// MockDecryptor: side u32, amount u64, price u64, timestamp u32, all
// little-endian.
const PayloadSize = 24

// MockDecryptor reads the plaintext layout directly. It is selected for
// local runs and tests; payloads are not actually encrypted.
type MockDecryptor struct{}

func NewMockDecryptor() *MockDecryptor { return &MockDecryptor{} }

func (MockDecryptor) Decrypt(ctx context.Context, ciphertext []byte) (Plaintext, error) {
	if err := ctx.Err(); err != nil {
		return Plaintext{}, ledgererr.Wrap(ledgererr.DecryptTimeout, err, "mock decrypt")
	}
	if len(ciphertext) < PayloadSize {
		return Plaintext{}, ledgererr.New(ledgererr.InvalidCipherPayload, "payload is %d bytes, expected at least %d", len(ciphertext), PayloadSize)
	}
	side := binary.LittleEndian.Uint32(ciphertext[0:4])
	amount := binary.LittleEndian.Uint64(ciphertext[4:12])
	price := binary.LittleEndian.Uint64(ciphertext[12:20])
	ts := binary.LittleEndian.Uint32(ciphertext[20:24])

	if side > uint32(matching.SideSell) {
		return Plaintext{}, ledgererr.New(ledgererr.InvalidCipherPayload, "invalid side %d", side)
	}
	if amount > math.MaxInt64 || price > math.MaxInt64 {
		return Plaintext{}, ledgererr.New(ledgererr.NumericalOverflow, "amount or price exceeds int64")
	}
	return Plaintext{
		Side:      matching.Side(side),
		Amount:    int64(amount),
		Price:     int64(price),
		Timestamp: ts,
	}, nil
}

// EncodePayload builds the MockDecryptor layout. Clients and tests use it to
// produce cipher payloads for local runs.
func EncodePayload(side matching.Side, amount, price int64, ts uint32) []byte {
	buf := make([]byte, PayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(side))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(amount))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(price))
	binary.LittleEndian.PutUint32(buf[20:24], ts)
	return buf
}
