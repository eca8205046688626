package identity_test

import (
	"ShadowSwap/internal/identity"
	"testing"

	"github.com/google/uuid"
)

func TestOrderBookID_Deterministic(t *testing.T) {
	a := identity.OrderBookID("SOL", "USDC")
	b := identity.OrderBookID("SOL", "USDC")
	if a != b {
		t.Errorf("got %s and %s for the same seeds", a, b)
	}
	if a == identity.OrderBookID("USDC", "SOL") {
		t.Error("swapped pair must derive a different id")
	}
}

func TestOrderID_DependsOnSequence(t *testing.T) {
	book := identity.OrderBookID("SOL", "USDC")
	if identity.OrderID(book, 0) == identity.OrderID(book, 1) {
		t.Error("different sequence numbers must derive different ids")
	}
	other := identity.OrderBookID("BTC", "USDC")
	if identity.OrderID(book, 7) == identity.OrderID(other, 7) {
		t.Error("same sequence in different books must derive different ids")
	}
}

func TestDerive_LengthPrefixed(t *testing.T) {
	a := identity.Derive([]byte("ab"), []byte("c"))
	b := identity.Derive([]byte("a"), []byte("bc"))
	if a == b {
		t.Error("seed boundaries must be part of the hash")
	}
}

func TestCallbackAuthID_PerKeeper(t *testing.T) {
	book := identity.OrderBookID("SOL", "USDC")
	k1, k2 := uuid.New(), uuid.New()
	if identity.CallbackAuthID(book, k1) == identity.CallbackAuthID(book, k2) {
		t.Error("different keepers must derive different ids")
	}
	if identity.CallbackAuthID(book, k1) != identity.CallbackAuthID(book, k1) {
		t.Error("callback auth id must be stable")
	}
}
