package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Proposal is a vendor's reply to an RFP after AI extraction and scoring.
// At most one proposal exists per (RFPID, VendorID); a later valid reply
// replaces the content while keeping the original id and creation time.
type Proposal struct {
	ID             string          `db:"id" json:"id"`
	RFPID          string          `db:"rfp_id" json:"rfpId"`
	VendorID       string          `db:"vendor_id" json:"vendorId"`
	EmailMessageID *string         `db:"email_message_id" json:"emailMessageId,omitempty"`
	RawResponse    string          `db:"raw_response" json:"rawResponse"`
	Parsed         ProposalFields  `db:"parsed" json:"parsed"`
	Scoring        ProposalScoring `db:"scoring" json:"scoring"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// ProposalFields holds the structured fields extracted from the reply body.
type ProposalFields struct {
	TotalPrice       *float64       `json:"totalPrice"`
	Currency         *string        `json:"currency"`
	PaymentTerms     *string        `json:"paymentTerms"`
	DeliveryTimeline *string        `json:"deliveryTimeline"`
	Warranty         *string        `json:"warranty"`
	Items            []ProposalItem `json:"items,omitempty"`
	AdditionalNotes  *string        `json:"additionalNotes"`
}

// ProposalItem is one offered line item.
type ProposalItem struct {
	Item       string   `json:"item"`
	Quantity   *float64 `json:"quantity"`
	UnitPrice  *float64 `json:"unitPrice"`
	TotalPrice *float64 `json:"totalPrice"`
}

// ProposalScoring is the AI evaluation of a proposal against its RFP.
type ProposalScoring struct {
	PriceScore        float64 `json:"priceScore"`
	TermsScore        float64 `json:"termsScore"`
	DeliveryScore     float64 `json:"deliveryScore"`
	WarrantyScore     float64 `json:"warrantyScore"`
	PaymentScore      float64 `json:"paymentScore"`
	CompletenessScore float64 `json:"completenessScore"`
	OverallScore      float64 `json:"overallScore"`
	Total             float64 `json:"total"`
	AIRecommendation  string  `json:"aiRecommendation"`
}

// Value implements driver.Valuer.
func (f ProposalFields) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *ProposalFields) Scan(src any) error {
	return scanJSON(src, f)
}

// Value implements driver.Valuer.
func (s ProposalScoring) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *ProposalScoring) Scan(src any) error {
	return scanJSON(src, s)
}
