package payments

import (
	"context"
	"errors"
)

// Status is the provider-neutral outcome of a payment attempt.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

var (
	// ErrProviderUnavailable covers transport failures and provider 5xx
	// responses. The order stays payment_pending; the sweep retries later.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrInvalidRequest means the provider rejected the request itself,
	// e.g. a malformed phone number. Retrying unchanged will not help.
	ErrInvalidRequest = errors.New("payment provider rejected request")
)

// InitParams carries everything a provider may need to address the payer.
// Daraja keys on the phone number alone; Email and CustomerName are for
// rails that bill by mail or need a display name.
type InitParams struct {
	OrderNumber  string
	AmountCents  int64
	Currency     string
	PhoneNumber  string
	Email        string
	CustomerName string
}

type InitResult struct {
	ProviderRef     string `json:"provider_ref"`
	CustomerMessage string `json:"customer_message,omitempty"`
}

type VerifyResult struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// WebhookResult is what a provider callback boils down to. OrderRef is the
// order number echoed back by the provider; empty means the payload could
// not be tied to an order.
type WebhookResult struct {
	OrderRef string
	Status   Status
	Receipt  string
	Detail   string
}

// Provider abstracts one payment rail. HandleWebhook never returns an
// error: a payload we cannot parse still has to be acknowledged, so it
// degrades to an empty WebhookResult instead.
type Provider interface {
	Name() string

	// SignatureHeader names the HTTP header this provider signs its
	// callbacks with (e.g. x-paystack-signature). Empty means the
	// provider does not sign callbacks.
	SignatureHeader() string

	Initialize(ctx context.Context, params InitParams) (*InitResult, error)
	Verify(ctx context.Context, providerRef string) (*VerifyResult, error)
	HandleWebhook(payload []byte, signature string) WebhookResult
}
