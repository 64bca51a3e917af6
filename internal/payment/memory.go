package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type memoryInvoice struct {
	invoice *Invoice
	paid    bool
	expired bool
}

// MemoryClient is an in-process Client for development and tests. Invoices
// never settle on their own; call MarkPaid or Expire.
type MemoryClient struct {
	mu       sync.Mutex
	invoices map[string]*memoryInvoice
	paid     []string
	failNext error
}

// NewMemoryClient creates an empty MemoryClient.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{invoices: make(map[string]*memoryInvoice)}
}

// CreateInvoice implements Client.
func (m *MemoryClient) CreateInvoice(_ context.Context, amountSats int64, _ string, expiry time.Duration) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	hash := randomHex(32)
	inv := &Invoice{
		PaymentRequest: fmt.Sprintf("lnbcrt%dn1%s", amountSats, hash[:24]),
		PaymentHash:    hash,
		AmountSats:     amountSats,
		ExpiresAt:      time.Now().Add(expiry),
	}
	m.invoices[hash] = &memoryInvoice{invoice: inv}
	cp := *inv
	return &cp, nil
}

// InvoiceStatus implements Client.
func (m *MemoryClient) InvoiceStatus(_ context.Context, paymentHash string) (*InvoiceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	inv, ok := m.invoices[paymentHash]
	if !ok {
		return nil, ErrUnknownInvoice
	}
	return &InvoiceStatus{Paid: inv.paid, Expired: inv.expired, Preimage: preimageFor(inv)}, nil
}

// Pay implements Client.
func (m *MemoryClient) Pay(_ context.Context, bolt11 string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return "", err
	}
	m.paid = append(m.paid, bolt11)
	return randomHex(32), nil
}

// MarkPaid settles an invoice.
func (m *MemoryClient) MarkPaid(paymentHash string) error {
	return m.set(paymentHash, func(inv *memoryInvoice) { inv.paid = true })
}

// Expire marks an invoice as expired.
func (m *MemoryClient) Expire(paymentHash string) error {
	return m.set(paymentHash, func(inv *memoryInvoice) { inv.expired = true })
}

// FailNext makes the next call return err.
func (m *MemoryClient) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Payments returns the invoices passed to Pay, in order.
func (m *MemoryClient) Payments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paid...)
}

func (m *MemoryClient) set(hash string, fn func(*memoryInvoice)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[hash]
	if !ok {
		return ErrUnknownInvoice
	}
	fn(inv)
	return nil
}

func (m *MemoryClient) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func preimageFor(inv *memoryInvoice) string {
	if !inv.paid {
		return ""
	}
	return "preimage-" + inv.invoice.PaymentHash[:16]
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)
}
