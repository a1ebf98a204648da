package connector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const defaultBatchSize = 50

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// IMAPFetcher drains unseen vendor replies from an IMAP mailbox, one scoped
// connection per poll cycle.
type IMAPFetcher struct {
	dialTimeout time.Duration
	now         func() time.Time
	logger      *log.Logger
	newClient   func(Mailbox) (imapClient, error)
}

// IMAPFetcherOption customizes fetcher behavior.
type IMAPFetcherOption func(*IMAPFetcher)

// NewIMAPFetcher returns an IMAP connector ready for poll cycles.
func NewIMAPFetcher(opts ...IMAPFetcherOption) *IMAPFetcher {
	f := &IMAPFetcher{
		dialTimeout: 5 * time.Second,
		now:         time.Now,
		logger:      log.Default(),
	}
	f.newClient = f.defaultClientFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newClient == nil {
		f.newClient = f.defaultClientFactory
	}
	return f
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests. The clock
// determines the local-midnight lower bound of the search window.
func WithIMAPClock(now func() time.Time) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

func withIMAPClientFactory(factory func(Mailbox) (imapClient, error)) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.newClient = factory
	}
}

// Name returns the connector identifier.
func (f *IMAPFetcher) Name() string {
	return "imap"
}

// Fetch runs one cycle: select the inbox, search unseen messages received
// since local midnight, fetch up to the batch cap with a peek body section,
// and hand each message to the handler in search order. A message is marked
// seen only after its handler returns nil; messages beyond the cap stay
// unseen and are discovered on a later cycle.
func (f *IMAPFetcher) Fetch(ctx context.Context, mbox Mailbox, handler Handler) error {
	if handler == nil {
		return errors.New("imap fetcher requires a handler")
	}
	if err := validateMailbox(mbox); err != nil {
		return err
	}

	client, err := f.newClient(mbox)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	defer f.safeClose(client)

	if err := client.Login(mbox.Username, string(mbox.Password)).Wait(); err != nil {
		return fmt.Errorf("imap auth: %w", err)
	}

	folder := mbox.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("imap select %s: %w", folder, err)
	}

	// Unseen messages received today. Anything older than local midnight is
	// out of scope even when unseen; the work window is one calendar day.
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   localMidnight(f.now()),
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}

	batch := mbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if len(uids) > batch {
		f.logger.Printf("imap: %d unseen messages, capping cycle at %d", len(uids), batch)
		uids = uids[:batch]
	}

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{Peek: true}},
	}
	fetchBuffers, err := client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}

	for _, buf := range fetchBuffers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		body := firstBodySection(buf)
		if body == nil {
			continue
		}
		received := buf.InternalDate
		if received.IsZero() {
			received = f.now().UTC()
		}
		msg := &FetchedMessage{
			UID:        fmt.Sprintf("%d", buf.UID),
			ReceivedAt: received,
			SizeBytes:  int64(len(body)),
			Raw:        append([]byte(nil), body...),
		}
		if err := handler.Handle(ctx, msg); err != nil {
			return fmt.Errorf("handler failed for %s: %w", msg.UID, err)
		}
		if err := f.markSeen(client, buf.UID); err != nil {
			// The message was handled; a failed flag write only means it may
			// be rediscovered and rejected by the dedup guard next cycle.
			f.logger.Printf("imap: mark seen failed for %d: %v", buf.UID, err)
		}
	}

	if err := client.Logout().Wait(); err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}

	return nil
}

func (f *IMAPFetcher) markSeen(client imapClient, uid imap.UID) error {
	store := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	return client.Store(imap.UIDSetNum(uid), store, nil).Close()
}

func (f *IMAPFetcher) safeClose(client imapClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil && f.logger != nil {
		f.logger.Printf("imap close error: %v", err)
	}
}

func (f *IMAPFetcher) defaultClientFactory(mbox Mailbox) (imapClient, error) {
	if mbox.Host == "" {
		return nil, errors.New("imap mailbox missing host")
	}
	port := mbox.Port
	if port == 0 {
		if useIMAPTLS(mbox.Type) {
			port = 993
		} else {
			port = 143
		}
	}
	dialTimeout := mbox.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = f.dialTimeout
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: dialTimeout}}
	addr := fmt.Sprintf("%s:%d", mbox.Host, port)
	var client *imapclient.Client
	var err error
	if useIMAPTLS(mbox.Type) {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

func firstBodySection(buf *imapclient.FetchMessageBuffer) []byte {
	if buf == nil {
		return nil
	}
	for _, section := range buf.BodySection {
		if len(section.Bytes) > 0 {
			return section.Bytes
		}
	}
	return nil
}

func localMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

func validateMailbox(mbox Mailbox) error {
	if mbox.Username == "" {
		return errors.New("imap mailbox missing username")
	}
	if len(mbox.Password) == 0 {
		return errors.New("imap mailbox missing password")
	}
	if !supportsIMAP(mbox.Type) {
		return fmt.Errorf("mailbox type %s not supported by IMAP connector", mbox.Type)
	}
	return nil
}

func supportsIMAP(t string) bool {
	switch strings.ToLower(t) {
	case "", "imap", "imaps", "imap_tls", "imaptls":
		return true
	default:
		return false
	}
}

func useIMAPTLS(t string) bool {
	switch strings.ToLower(t) {
	case "imaps", "imap_tls", "imaptls":
		return true
	default:
		return false
	}
}
