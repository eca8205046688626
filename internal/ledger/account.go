package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeEscrow
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeAvailable AccountSubType = iota

	// Escrow sub-types
	SubTypeHeld

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AssetID names a token (mint). Assets are registered implicitly when an
// order book references them.
type AssetID string

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // owner id for users, escrow id for escrows
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for a user's spendable balance
func NewUserAccountKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeAvailable,
		AssetID:  assetID,
	}
}

// NewEscrowAccountKey creates a key for funds locked behind one order
func NewEscrowAccountKey(escrowID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeEscrow,
		EntityID: escrowID,
		SubType:  SubTypeHeld,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", uuid.UUID(k.EntityID), k.subTypeName(), k.AssetID)
	case AccountScopeEscrow:
		return fmt.Sprintf("escrow:%s:%s:%s", uuid.UUID(k.EntityID), k.subTypeName(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.AssetID)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeAvailable:
		return "available"
	case SubTypeHeld:
		return "held"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}

func parseSubType(s string) (AccountSubType, bool) {
	switch s {
	case "available":
		return SubTypeAvailable, true
	case "held":
		return SubTypeHeld, true
	case "deposits":
		return SubTypeExternalDeposits, true
	case "withdrawals":
		return SubTypeExternalWithdrawals, true
	}
	return 0, false
}

// ParseAccountPath is the inverse of AccountPath. Snapshots store balances by
// path, so restore depends on the round trip being exact.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 4 && (parts[0] == "user" || parts[0] == "escrow"):
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		sub, ok := parseSubType(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[2])
		}
		scope := AccountScopeUser
		if parts[0] == "escrow" {
			scope = AccountScopeEscrow
		}
		return AccountKey{Scope: scope, EntityID: id, SubType: sub, AssetID: AssetID(parts[3])}, nil
	case len(parts) == 3 && parts[0] == "external":
		sub, ok := parseSubType(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[1])
		}
		return NewExternalAccountKey(sub, AssetID(parts[2])), nil
	}
	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}
