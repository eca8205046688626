// Package audit publishes one record per keeper matching cycle: a fingerprint
// of the order set the keeper saw and the pairs it produced. Plaintext of
// unmatched orders never appears in a record.
package audit

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"ShadowSwap/internal/matching"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"github.com/zeebo/blake3"
)

// OrderRef is the non-secret view of an order in the cycle input.
type OrderRef struct {
	OrderID   uuid.UUID
	Remaining int64
	Payload   []byte // cipher payload, hashed only
}

type PairRecord struct {
	BuyOrderID     uuid.UUID `json:"buy_order_id"`
	SellOrderID    uuid.UUID `json:"sell_order_id"`
	MatchedAmount  int64     `json:"matched_amount"`
	ExecutionPrice int64     `json:"execution_price"`
}

type Record struct {
	ID          string         `json:"id"`
	CycleID     string         `json:"cycle_id"`
	OrderBookID uuid.UUID      `json:"order_book"`
	Keeper      uuid.UUID      `json:"keeper"`
	Fingerprint string         `json:"input_fingerprint"`
	OrderCount  int            `json:"order_count"`
	Pairs       []PairRecord   `json:"pairs"`
	Stats       matching.Stats `json:"stats"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Fingerprint hashes the cycle input in order id order, so two keepers that
// saw the same ledger state produce the same fingerprint.
func Fingerprint(orders []OrderRef) string {
	sorted := make([]OrderRef, len(orders))
	copy(sorted, orders)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].OrderID.String() < sorted[j].OrderID.String()
	})

	h := blake3.New()
	var buf [8]byte
	for _, o := range sorted {
		h.Write(o.OrderID[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(o.Remaining))
		h.Write(buf[:])
		payload := blake3.Sum256(o.Payload)
		h.Write(payload[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewRecord builds the audit record of a cycle.
func NewRecord(cycleID string, bookID, keeper uuid.UUID, orders []OrderRef, pairs []matching.MatchedPair, stats matching.Stats, now time.Time) Record {
	rec := Record{
		ID:          ulid.Make().String(),
		CycleID:     cycleID,
		OrderBookID: bookID,
		Keeper:      keeper,
		Fingerprint: Fingerprint(orders),
		OrderCount:  len(orders),
		Pairs:       make([]PairRecord, 0, len(pairs)),
		Stats:       stats,
		CreatedAt:   now.UTC(),
	}
	for _, p := range pairs {
		rec.Pairs = append(rec.Pairs, PairRecord{
			BuyOrderID:     p.Buy.OrderID,
			SellOrderID:    p.Sell.OrderID,
			MatchedAmount:  p.MatchedAmount,
			ExecutionPrice: p.ExecutionPrice,
		})
	}
	return rec
}

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records to a Kafka topic keyed by order book.
type KafkaSink struct {
	writer Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// NewSinkWithWriter wraps an existing writer.
func NewSinkWithWriter(w Writer) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Publish(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.OrderBookID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "record_id", Value: []byte(rec.ID)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
