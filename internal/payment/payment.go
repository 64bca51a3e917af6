// Package payment talks to the Lightning backend that holds escrow funds.
package payment

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownInvoice is returned when the backend has no record of a payment hash.
var ErrUnknownInvoice = errors.New("unknown invoice")

// Invoice is a payable Lightning request.
type Invoice struct {
	PaymentRequest string    `json:"payment_request"`
	PaymentHash    string    `json:"payment_hash"`
	AmountSats     int64     `json:"amount_sats"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// InvoiceStatus is the settlement state of an invoice. Paid wins when both
// flags are set.
type InvoiceStatus struct {
	Paid     bool   `json:"paid"`
	Expired  bool   `json:"expired"`
	Preimage string `json:"preimage,omitempty"`
}

// Client is the payment collaborator used by the lifecycle manager.
type Client interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (*Invoice, error)
	InvoiceStatus(ctx context.Context, paymentHash string) (*InvoiceStatus, error)
	// Pay settles an outgoing invoice and returns its payment hash.
	Pay(ctx context.Context, bolt11 string) (string, error)
}
