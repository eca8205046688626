// Package auth holds callback authorizations: time-bounded, revocable grants
// that let one keeper settle matches on one order book.
package auth

import (
	"sort"

	"ShadowSwap/internal/identity"
	"ShadowSwap/internal/ledgererr"

	"github.com/google/uuid"
)

// CallbackAuthorization is keyed by (OrderBookID, Keeper).
type CallbackAuthorization struct {
	ID          uuid.UUID
	Authority   uuid.UUID
	OrderBookID uuid.UUID
	Keeper      uuid.UUID
	Nonce       int64 // settlements accepted for this (book, keeper) pair
	ExpiresAt   int64 // epoch microseconds
	CreatedAt   int64
	IsActive    bool
}

// Valid reports whether the grant can be used at now.
func (a *CallbackAuthorization) Valid(now int64) bool {
	return a.IsActive && a.ExpiresAt > now
}

type key struct {
	book   uuid.UUID
	keeper uuid.UUID
}

// Registry stores authorizations. It is not safe for concurrent use; the
// deterministic core is its only writer.
type Registry struct {
	grants map[key]*CallbackAuthorization
}

func NewRegistry() *Registry {
	return &Registry{grants: make(map[key]*CallbackAuthorization)}
}

type CreateParams struct {
	Caller        uuid.UUID
	BookAuthority uuid.UUID
	OrderBookID   uuid.UUID
	Keeper        uuid.UUID
	ExpiresAt     int64
	Now           int64
}

// PlanCreate validates a new grant without storing it.
func (r *Registry) PlanCreate(p CreateParams) (*CallbackAuthorization, error) {
	if p.Caller != p.BookAuthority {
		return nil, ledgererr.New(ledgererr.Unauthorized, "only the order book authority can authorize keepers")
	}
	if p.Keeper == uuid.Nil {
		return nil, ledgererr.New(ledgererr.InvalidArgument, "keeper is required")
	}
	if p.ExpiresAt <= p.Now {
		return nil, ledgererr.New(ledgererr.CallbackAuthExpired, "expires_at %d is not after now %d", p.ExpiresAt, p.Now)
	}
	var nonce int64
	if existing := r.grants[key{p.OrderBookID, p.Keeper}]; existing != nil {
		if existing.Valid(p.Now) {
			return nil, ledgererr.New(ledgererr.CallbackAuthExists, "keeper %s already holds an unexpired grant", p.Keeper)
		}
		// Settlement ids include the nonce; a replacement grant continues
		// the old count so no id is ever derived twice.
		nonce = existing.Nonce
	}
	return &CallbackAuthorization{
		Nonce:       nonce,
		ID:          identity.CallbackAuthID(p.OrderBookID, p.Keeper),
		Authority:   p.Caller,
		OrderBookID: p.OrderBookID,
		Keeper:      p.Keeper,
		ExpiresAt:   p.ExpiresAt,
		CreatedAt:   p.Now,
		IsActive:    true,
	}, nil
}

// Put stores a grant, replacing an inactive or expired one.
func (r *Registry) Put(a *CallbackAuthorization) {
	r.grants[key{a.OrderBookID, a.Keeper}] = a
}

// Revoke deactivates a grant. Only the authority that owns the book may revoke.
func (r *Registry) Revoke(caller, bookAuthority, bookID, keeper uuid.UUID) (*CallbackAuthorization, error) {
	if caller != bookAuthority {
		return nil, ledgererr.New(ledgererr.Unauthorized, "only the order book authority can revoke keepers")
	}
	a := r.grants[key{bookID, keeper}]
	if a == nil {
		return nil, ledgererr.New(ledgererr.CallbackAuthNotFound, "no grant for keeper %s", keeper)
	}
	a.IsActive = false
	return a, nil
}

// Authorize re-validates the grant at call time.
func (r *Registry) Authorize(bookID, keeper uuid.UUID, now int64) (*CallbackAuthorization, error) {
	a := r.grants[key{bookID, keeper}]
	if a == nil || !a.IsActive {
		return nil, ledgererr.New(ledgererr.Unauthorized, "keeper %s is not authorized for order book %s", keeper, bookID)
	}
	if a.ExpiresAt <= now {
		return nil, ledgererr.New(ledgererr.CallbackAuthExpired, "grant expired at %d (now %d)", a.ExpiresAt, now)
	}
	return a, nil
}

// Get returns the grant or nil.
func (r *Registry) Get(bookID, keeper uuid.UUID) *CallbackAuthorization {
	return r.grants[key{bookID, keeper}]
}

// All returns every grant sorted by id.
func (r *Registry) All() []*CallbackAuthorization {
	out := make([]*CallbackAuthorization, 0, len(r.grants))
	for _, a := range r.grants {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// CanonicalBytes for deterministic hashing
func (a *CallbackAuthorization) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, a.ID[:]...)
	buf = append(buf, a.Authority[:]...)
	buf = append(buf, a.OrderBookID[:]...)
	buf = append(buf, a.Keeper[:]...)
	buf = appendInt64LE(buf, a.Nonce)
	buf = appendInt64LE(buf, a.ExpiresAt)
	buf = appendInt64LE(buf, a.CreatedAt)
	if a.IsActive {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	u := uint64(v)
	return append(buf,
		byte(u), byte(u>>8), byte(u>>16), byte(u>>24),
		byte(u>>32), byte(u>>40), byte(u>>48), byte(u>>56),
	)
}
