package models

// InboundMessage is the decoded form of one fetched mail message. It is
// ephemeral pipeline state and is never persisted as such.
type InboundMessage struct {
	// MessageID is the protocol Message-ID header without angle brackets,
	// empty when the header is absent. An empty id disables id-level
	// deduplication for the message.
	MessageID   string
	Sender      string // lower-cased first From address
	Subject     string
	BodyText    string
	Attachments []EmailAttachment
}

// EmailAttachment is a decoded attachment part.
type EmailAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}
