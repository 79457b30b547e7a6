package entity

import "time"

// PurchaseStatus is the normalized provider status of one invoice.
type PurchaseStatus string

const (
	PurchaseSuccess PurchaseStatus = "success"
	PurchasePending PurchaseStatus = "pending"
	PurchaseFailed  PurchaseStatus = "failed"
)

// InvoiceRef is what the gateway returns from invoice creation. The caller
// persists the ledger entry; the gateway itself records nothing.
type InvoiceRef struct {
	InvoiceId string `json:"invoice_id"`
	PayLink   string `json:"pay_link"`
}

// PurchaseOutcome is a normalized purchase signal, produced either from an
// inbound webhook or from a status poll. Tier is empty unless the provider
// reported a resolvable tier code; PaidAt is zero when the provider did not
// report a payment timestamp.
type PurchaseOutcome struct {
	InvoiceId string         `json:"invoice_id"`
	Status    PurchaseStatus `json:"status"`
	Tier      Tier           `json:"tier,omitempty"`
	PaidAt    time.Time      `json:"paid_at,omitempty"`
}

// Successful reports whether the outcome can upgrade an entitlement.
func (o *PurchaseOutcome) Successful() bool {
	return o.Status == PurchaseSuccess && o.Tier != ""
}
