// Package connector manages the connection lifecycle to the inbound mailbox:
// one connection per poll cycle, scoped open/search/fetch/mark-seen/close.
package connector

import (
	"context"
	"time"

	"github.com/rfpflow-io/rfpflow-ce/internal/config"
)

// Mailbox carries the connection parameters for one mailbox.
type Mailbox struct {
	Type        string // imap or imaps
	Host        string
	Port        int
	Username    string
	Password    []byte
	Folder      string
	BatchSize   int
	DialTimeout time.Duration
}

// MailboxFromConfig maps the configuration section onto a Mailbox.
func MailboxFromConfig(cfg config.MailboxConfig) Mailbox {
	return Mailbox{
		Type:        cfg.Type,
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    []byte(cfg.Password),
		Folder:      cfg.Folder,
		BatchSize:   cfg.BatchSize,
		DialTimeout: cfg.DialTimeout,
	}
}

// FetchedMessage wraps the on-wire RFC822 payload plus fetch metadata.
type FetchedMessage struct {
	UID        string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
}

// Handler receives fetched messages one at a time, in mailbox search order.
// A nil return means the message was fully handled (persisted or definitively
// rejected) and may be marked seen; an error aborts the cycle and leaves the
// message unseen for the next one.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// Fetcher implementations stream one cycle's worth of messages to a handler.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, mbox Mailbox, handler Handler) error
}
