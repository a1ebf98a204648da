package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RFP statuses, progressing draft -> sent -> responding -> completed.
const (
	RFPStatusDraft      = "draft"
	RFPStatusSent       = "sent"
	RFPStatusResponding = "responding"
	RFPStatusCompleted  = "completed"
)

// RFP is a request-for-proposal document. The id doubles as the correlation
// token embedded in outbound invitation subject lines.
type RFP struct {
	ID                    string     `db:"id" json:"id"`
	Title                 string     `db:"title" json:"title"`
	DescriptionRaw        string     `db:"description_raw" json:"descriptionRaw"`
	DescriptionStructured RFPDetails `db:"description_structured" json:"descriptionStructured"`
	InvitedVendorIDs      StringList `db:"invited_vendor_ids" json:"invitedVendorIds"`
	Status                string     `db:"status" json:"status"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
}

// RFPDetails is the AI-structured representation of the procurement need.
type RFPDetails struct {
	Budget           *float64  `json:"budget"`
	Currency         string    `json:"currency,omitempty"`
	CurrencySymbol   string    `json:"currencySymbol,omitempty"`
	DeliveryTimeline *string   `json:"deliveryTimeline"`
	PaymentTerms     *string   `json:"paymentTerms"`
	Warranty         *string   `json:"warranty"`
	Items            []RFPItem `json:"items,omitempty"`
}

// RFPItem is one requested line item.
type RFPItem struct {
	Item     string          `json:"item"`
	Quantity float64         `json:"quantity"`
	Specs    json.RawMessage `json:"specs,omitempty"`
}

// RFPDraft is the output of AI generation before the RFP is persisted.
type RFPDraft struct {
	Title                 string     `json:"title"`
	DescriptionRaw        string     `json:"descriptionRaw"`
	DescriptionStructured RFPDetails `json:"descriptionStructured"`
}

// Value implements driver.Valuer so the struct round-trips as a JSON column.
func (d RFPDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *RFPDetails) Scan(src any) error {
	return scanJSON(src, d)
}

// StringList stores a set of ids as a JSON array column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

// Contains reports whether id is in the list.
func (l StringList) Contains(id string) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

func scanJSON(src, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
}
