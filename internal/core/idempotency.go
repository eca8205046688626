package core

import (
	"container/list"

	"ShadowSwap/internal/event"
)

// CommandKey identifies one command for deduplication. The same client key
// under two command types names two different commands: a deposit and an
// order may both carry request id X.
type CommandKey struct {
	Type event.EventType
	Key  string
}

// KeyOf returns the dedup key of evt.
func KeyOf(evt event.Event) CommandKey {
	return CommandKey{Type: evt.EventType(), Key: evt.IdempotencyKey()}
}

// String is the form stored in logs: "<EventType>:<key>".
func (k CommandKey) String() string {
	return k.Type.String() + ":" + k.Key
}

// AppliedCommand is a dedup record carried across restarts in snapshots.
type AppliedCommand struct {
	Key      CommandKey
	Sequence int64
}

// DBIdempotencyChecker answers LRU misses from the event log. It returns
// the sequence the command was applied at.
type DBIdempotencyChecker interface {
	AppliedSequence(key CommandKey) (seq int64, found bool, err error)
}

// IdempotencyChecker deduplicates commands in two tiers: an LRU of recent
// outcomes, then the event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *IdempotencyMetrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// Lookup returns the outcome of an already applied command with
// Duplicate set, or nil when key has not been applied. A command still in
// the LRU gets its full original result back. One that was only warmed from
// a snapshot or found in the event log gets its original sequence.
func (ic *IdempotencyChecker) Lookup(key CommandKey) *Result {
	if e, ok := ic.lru.get(key); ok {
		ic.metrics.RecordDuplicate(key.Type, tierLRU)
		return e.duplicate()
	}

	if ic.dbChecker == nil {
		return nil
	}
	seq, found, err := ic.dbChecker.AppliedSequence(key)
	if err != nil {
		// A failing lookup must not stall the core; the LRU covers retries
		// inside its window.
		ic.metrics.RecordTier2Error()
		return nil
	}
	if !found {
		return nil
	}
	ic.metrics.RecordDuplicate(key.Type, tierPostgres)
	e := &lruEntry{key: key, sequence: seq}
	ic.lru.put(e)
	return e.duplicate()
}

// Record remembers the outcome of an applied command.
func (ic *IdempotencyChecker) Record(key CommandKey, res *Result) {
	kept := *res
	ic.lru.put(&lruEntry{key: key, sequence: res.Sequence, result: &kept})
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU holds the most recent applied commands and their outcomes.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type IdempotencyLRU struct {
	capacity int
	cache    map[CommandKey]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key      CommandKey
	sequence int64
	result   *Result // nil when warmed from a snapshot or the event log
}

func (e *lruEntry) duplicate() *Result {
	if e.result == nil {
		return &Result{Sequence: e.sequence, Duplicate: true}
	}
	r := *e.result
	r.Duplicate = true
	return &r
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[CommandKey]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// get returns the entry for key and promotes it.
func (lru *IdempotencyLRU) get(key CommandKey) (*lruEntry, bool) {
	elem, ok := lru.cache[key]
	if !ok {
		return nil, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(*lruEntry), true
}

// Contains reports whether key is cached, promoting it.
func (lru *IdempotencyLRU) Contains(key CommandKey) bool {
	_, ok := lru.get(key)
	return ok
}

func (lru *IdempotencyLRU) put(e *lruEntry) {
	if elem, ok := lru.cache[e.key]; ok {
		elem.Value = e
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[e.key] = lru.lruList.PushFront(e)
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		lru.evictions++
	}
}

// Warm loads applied commands, oldest first. Entries already cached keep
// their full result.
func (lru *IdempotencyLRU) Warm(applied []AppliedCommand) {
	for _, a := range applied {
		if _, ok := lru.cache[a.Key]; ok {
			continue
		}
		lru.put(&lruEntry{key: a.Key, sequence: a.Sequence})
	}
}

// Applied returns entries from least to most recently used, so warming a
// fresh LRU with them reproduces the same eviction order.
func (lru *IdempotencyLRU) Applied() []AppliedCommand {
	out := make([]AppliedCommand, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		entry := e.Value.(*lruEntry)
		out = append(out, AppliedCommand{Key: entry.key, Sequence: entry.sequence})
	}
	return out
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

type dedupTier uint8

const (
	tierLRU dedupTier = iota
	tierPostgres
)

// IdempotencyMetrics counts duplicates per command type and tier.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type IdempotencyMetrics struct {
	duplicates  map[event.EventType][2]int64
	tier2Errors int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{duplicates: make(map[event.EventType][2]int64)}
}

func (m *IdempotencyMetrics) RecordDuplicate(et event.EventType, tier dedupTier) {
	counts := m.duplicates[et]
	counts[tier]++
	m.duplicates[et] = counts
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(et event.EventType) (lru int64, postgres int64) {
	counts := m.duplicates[et]
	return counts[tierLRU], counts[tierPostgres]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
