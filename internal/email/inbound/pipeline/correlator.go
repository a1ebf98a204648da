package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

// Correlation reasons for messages the pipeline cannot attribute.
const (
	ReasonUnknownSender = "unknown_sender"
	ReasonMissingRFPID  = "missing_rfp_id"
)

// NotCorrelatedError marks a message that cannot be tied to a vendor and an
// RFP. These are expected in a shared inbox and never abort the cycle.
type NotCorrelatedError struct {
	Reason string
	Sender string
}

func (e *NotCorrelatedError) Error() string {
	return fmt.Sprintf("message not correlated (%s) from %q", e.Reason, e.Sender)
}

// Correlation binds a parsed message to the vendor that sent it and the RFP
// it answers.
type Correlation struct {
	RFPID  string
	Vendor models.VendorIdentity
}

// The id token rides in the subject line of the original invitation and in
// vendor replies to it, e.g. "Re: RFP Invitation - Laptops | RFP-ID: <24 hex>".
// Capture the whole hex run so a 25-digit token is rejected rather than
// silently truncated to its first 24 digits.
var rfpIDPattern = regexp.MustCompile(`(?i)RFP-ID:\s*([0-9a-fA-F]+)`)

// Correlator attributes inbound messages. Sender identity comes first; the
// subject token of a stranger's message is never trusted.
type Correlator struct {
	directory *IdentityDirectory
}

// NewCorrelator builds a correlator over the vendor directory.
func NewCorrelator(directory *IdentityDirectory) *Correlator {
	return &Correlator{directory: directory}
}

// Correlate resolves the sending vendor and the referenced RFP id, or returns
// a NotCorrelatedError naming which half failed.
func (c *Correlator) Correlate(msg *models.InboundMessage) (Correlation, error) {
	vendor, ok := c.directory.Lookup(msg.Sender)
	if !ok {
		return Correlation{}, &NotCorrelatedError{Reason: ReasonUnknownSender, Sender: msg.Sender}
	}
	id := ExtractRFPID(msg.Subject)
	if id == "" {
		return Correlation{}, &NotCorrelatedError{Reason: ReasonMissingRFPID, Sender: msg.Sender}
	}
	return Correlation{RFPID: id, Vendor: vendor}, nil
}

// ExtractRFPID scans a subject line for a valid 24-hex-digit id token. Tokens
// of any other length are ignored; the first valid one wins.
func ExtractRFPID(subject string) string {
	for _, match := range rfpIDPattern.FindAllStringSubmatch(subject, -1) {
		if len(match) < 2 {
			continue
		}
		id := strings.ToLower(match[1])
		if models.ValidID(id) {
			return id
		}
	}
	return ""
}
