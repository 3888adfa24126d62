package payments

import (
	"context"
	"sort"
	"sync"
)

type nonceKey struct {
	payer string
	nonce uint64
}

// MemoryStore 在内存中保存发票、支付与回执，单把锁保证跨记录操作的原子性。
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*Invoice
	payments map[string]*Payment
	receipts map[string]*Receipt
	nonces   map[nonceKey]int64
	platform *Platform
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*Invoice),
		payments: make(map[string]*Payment),
		receipts: make(map[string]*Receipt),
		nonces:   make(map[nonceKey]int64),
	}
}

// CreateInvoice 实现 Store。
func (s *MemoryStore) CreateInvoice(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; ok {
		return ErrInvoiceExists
	}
	s.invoices[inv.ID] = inv.clone()
	return nil
}

// GetInvoice 实现 Store。
func (s *MemoryStore) GetInvoice(_ context.Context, id string) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return inv.clone(), nil
}

// UpdateInvoice 实现 Store。
func (s *MemoryStore) UpdateInvoice(_ context.Context, id string, fn func(*Invoice) error) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	next := current.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.invoices[id] = next
	return next.clone(), nil
}

// ListExpiredInvoices 实现 Store。
func (s *MemoryStore) ListExpiredInvoices(_ context.Context, now int64, limit int) ([]*Invoice, error) {
	s.mu.RLock()
	var out []*Invoice
	for _, inv := range s.invoices {
		if inv.State == StateInvoiceCreated && inv.ExpiresAt <= now {
			out = append(out, inv.clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt == out[j].ExpiresAt {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt < out[j].ExpiresAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Settle 实现 Store。
func (s *MemoryStore) Settle(_ context.Context, invoiceID string, useNonce bool, fn SettleFunc) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	inv := current.clone()
	payment, err := fn(inv)
	if err != nil {
		return nil, err
	}
	if _, exists := s.payments[payment.ID]; exists {
		return nil, ErrInvalidState
	}
	key := nonceKey{payer: inv.Payer, nonce: inv.Nonce}
	if useNonce {
		if _, used := s.nonces[key]; used {
			return nil, ErrNonceAlreadyUsed
		}
		s.nonces[key] = payment.SettledAt
	}
	s.invoices[invoiceID] = inv
	s.payments[payment.ID] = payment.clone()
	return payment.clone(), nil
}

// CreatePayment 实现 Store。
func (s *MemoryStore) CreatePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[p.ID]; exists {
		return ErrInvalidState
	}
	for _, existing := range s.payments {
		if existing.InvoiceID == p.InvoiceID {
			return ErrInvalidState
		}
	}
	s.payments[p.ID] = p.clone()
	return nil
}

// GetPayment 实现 Store。
func (s *MemoryStore) GetPayment(_ context.Context, id string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return p.clone(), nil
}

// UpdatePayment 实现 Store。
func (s *MemoryStore) UpdatePayment(_ context.Context, id string, fn func(*Payment) error) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	next := current.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.payments[id] = next
	return next.clone(), nil
}

// ListPayments 实现 Store，按结算时间倒序返回。
func (s *MemoryStore) ListPayments(_ context.Context, opts ListOptions) ([]*Payment, error) {
	opts.applyDefaults()
	s.mu.RLock()
	matched := make([]*Payment, 0, len(s.payments))
	for _, p := range s.payments {
		if opts.matches(p) {
			matched = append(matched, p.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SettledAt == matched[j].SettledAt {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].SettledAt > matched[j].SettledAt
	})
	if opts.Offset >= len(matched) {
		return []*Payment{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// MintReceipt 实现 Store。
func (s *MemoryStore) MintReceipt(_ context.Context, paymentID string, fn MintFunc) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	p := current.clone()
	receipt, err := fn(p)
	if err != nil {
		return nil, err
	}
	if _, exists := s.receipts[receipt.ID]; exists {
		return nil, ErrReceiptExists
	}
	cp := *receipt
	s.receipts[receipt.ID] = &cp
	s.payments[paymentID] = p
	return receipt, nil
}

// GetReceipt 实现 Store。
func (s *MemoryStore) GetReceipt(_ context.Context, id string) (*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

// InitPlatform 实现 Store。
func (s *MemoryStore) InitPlatform(_ context.Context, p *Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.platform != nil {
		return ErrPlatformExists
	}
	cp := *p
	s.platform = &cp
	return nil
}

// GetPlatform 实现 Store。
func (s *MemoryStore) GetPlatform(_ context.Context) (*Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.platform == nil {
		return nil, ErrPlatformNotInitialized
	}
	cp := *s.platform
	return &cp, nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error { return nil }
