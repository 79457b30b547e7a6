package cache

import (
	"sync"
	"time"

	"clanity/entity"
)

// Validity is a short-lived in-process record of "already reconciled"
// tiers keyed by user id. It only short-circuits repeated provider calls:
// the purchase ledger plus provider status stay the source of truth, and
// an absent or expired entry always forces a full reconciliation pass.
type Validity struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int64]entry
	stopCh  chan struct{}
	done    chan struct{}
}

type entry struct {
	level   entity.Tier
	expires time.Time
}

func NewValidity(ttl time.Duration) *Validity {
	return &Validity{
		ttl:     ttl,
		entries: make(map[int64]entry),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Get returns the cached tier and whether the entry is still fresh.
func (v *Validity) Get(userId int64) (entity.Tier, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[userId]
	if !ok || time.Now().After(e.expires) {
		return "", false
	}
	return e.level, true
}

// Set stores the tier with a fresh TTL, replacing any previous entry.
func (v *Validity) Set(userId int64, level entity.Tier) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[userId] = entry{level: level, expires: time.Now().Add(v.ttl)}
}

// Drop removes the entry so the next check runs a full reconciliation.
// Called after demotions: a stale "valid" entry must not outlive the level
// it was recorded for.
func (v *Validity) Drop(userId int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, userId)
}

// StartJanitor evicts expired entries on an interval until Stop is called.
func (v *Validity) StartJanitor(interval time.Duration) {
	go func() {
		defer close(v.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				v.evict()
			case <-v.stopCh:
				return
			}
		}
	}()
}

func (v *Validity) Stop() {
	close(v.stopCh)
	<-v.done
}

func (v *Validity) evict() {
	now := time.Now()
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, e := range v.entries {
		if now.After(e.expires) {
			delete(v.entries, id)
		}
	}
}
