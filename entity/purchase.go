package entity

import "time"

// Purchase is one append-only ledger entry: a provider-issued invoice tied
// to a single purchase attempt. Entries are never mutated or deleted; the
// ledger plus provider status is the source of truth for reconciliation.
type Purchase struct {
	UserId    int64     `json:"user_id" bson:"user_id"`
	InvoiceId string    `json:"invoice_id" bson:"invoice_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
