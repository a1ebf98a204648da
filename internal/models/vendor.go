package models

import "time"

// Vendor is a registered supplier that can be invited to respond to RFPs.
// The email address is unique case-insensitively and is the identity the
// ingestion pipeline authenticates inbound replies against.
type Vendor struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Address   *string   `db:"address" json:"address,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// VendorIdentity is the slice of vendor data the identity directory needs.
type VendorIdentity struct {
	ID    string `db:"id"`
	Email string `db:"email"`
}
