package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"clanity/entity"
)

// Memory is an in-memory mirror of the MySQL store with the same
// semantics, used by tests and for running without a database.
type Memory struct {
	mu           sync.Mutex
	entitlements map[int64]*entity.Entitlement
	purchases    []*entity.Purchase
	promocodes   map[string]*entity.Promocode
	clients      map[string]*entity.Client
}

func NewMemory() *Memory {
	return &Memory{
		entitlements: make(map[int64]*entity.Entitlement),
		promocodes:   make(map[string]*entity.Promocode),
		clients:      make(map[string]*entity.Client),
	}
}

func (m *Memory) GetEntitlement(_ context.Context, userId int64) (*entity.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entitlements[userId]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) EnsureEntitlement(_ context.Context, userId int64, username string, now time.Time) (*entity.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entitlements[userId]; ok {
		cp := *e
		return &cp, nil
	}
	fresh := entity.NewEntitlement(userId, username, now.UTC())
	m.entitlements[userId] = fresh
	cp := *fresh
	return &cp, nil
}

func (m *Memory) ApplyLevel(_ context.Context, userId int64, level entity.Tier, since time.Time) (*entity.Entitlement, error) {
	since = since.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entitlements[userId]
	if !ok {
		m.entitlements[userId] = &entity.Entitlement{
			UserId:         userId,
			Level:          level,
			EffectiveSince: since,
		}
		return nil, nil
	}
	prev := *e
	if !e.EffectiveSince.Before(since) {
		return &prev, ErrConflict
	}
	e.Level = level
	e.EffectiveSince = since
	return &prev, nil
}

func (m *Memory) ListStale(_ context.Context, level entity.Tier, cutoff time.Time, exempt []int64) ([]*entity.Entitlement, error) {
	skip := make(map[int64]bool, len(exempt))
	for _, id := range exempt {
		skip[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Entitlement
	for _, e := range m.entitlements {
		if e.Level != level || e.EffectiveSince.After(cutoff.UTC()) || skip[e.UserId] {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserId < out[j].UserId })
	return out, nil
}

func (m *Memory) Demote(_ context.Context, userId int64, from entity.Tier, cutoff, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entitlements[userId]
	if !ok || e.Level != from || e.EffectiveSince.After(cutoff.UTC()) {
		return false, nil
	}
	e.Level = from.Fallback()
	e.EffectiveSince = now.UTC()
	return true, nil
}

func (m *Memory) RecordPurchase(_ context.Context, p *entity.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.CreatedAt = cp.CreatedAt.UTC()
	m.purchases = append(m.purchases, &cp)
	return nil
}

func (m *Memory) RecentPurchases(_ context.Context, userId int64, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var invoices []string
	// the slice is append-ordered; walk backwards for most-recent-first
	for i := len(m.purchases) - 1; i >= 0; i-- {
		p := m.purchases[i]
		if p.UserId == userId && !p.CreatedAt.Before(since.UTC()) {
			invoices = append(invoices, p.InvoiceId)
		}
	}
	return invoices, nil
}

func (m *Memory) UserByInvoice(_ context.Context, invoiceId string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.InvoiceId == invoiceId {
			return p.UserId, nil
		}
	}
	return 0, ErrNotFound
}

func (m *Memory) ClientByToken(_ context.Context, token string) (*entity.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) RedeemPromo(_ context.Context, userId int64, username, code string, now time.Time) (entity.RedeemResult, error) {
	now = now.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	promo, ok := m.promocodes[code]
	if !ok {
		return entity.RedeemNotFound, nil
	}
	if e, ok := m.entitlements[userId]; ok && e.Level == entity.TierPromo {
		return entity.RedeemAlreadyHasPromo, nil
	}
	if promo.Activations == 0 {
		return entity.RedeemExhausted, nil
	}
	promo.Activations--
	if e, ok := m.entitlements[userId]; ok {
		e.Level = entity.TierPromo
		e.EffectiveSince = now
	} else {
		m.entitlements[userId] = &entity.Entitlement{
			UserId:         userId,
			Username:       username,
			Level:          entity.TierPromo,
			EffectiveSince: now,
		}
	}
	return entity.RedeemGranted, nil
}

// AddPromocode provisions a code; in production codes arrive out-of-band.
func (m *Memory) AddPromocode(code string, activations int, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promocodes[code] = &entity.Promocode{Code: code, Activations: activations, CreatedAt: now.UTC()}
}

// Promocode returns a copy of the stored code, or nil.
func (m *Memory) Promocode(code string) *entity.Promocode {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promocodes[code]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// AddClient provisions an API client token.
func (m *Memory) AddClient(token, name string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[token] = &entity.Client{Token: token, Name: name, CreatedAt: now.UTC()}
}
