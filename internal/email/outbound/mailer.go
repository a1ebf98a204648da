// Package outbound sends RFP invitation emails to vendors. The invitation
// subject carries the correlation token that vendor replies are matched on,
// so its format is load-bearing, not cosmetic.
package outbound

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"time"

	_ "embed"

	"github.com/rfpflow-io/rfpflow-ce/internal/config"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

//go:embed templates/invitation.html
var invitationHTML string

var invitationTemplate = template.Must(template.New("invitation").Parse(invitationHTML))

// InvitationSubject renders the subject line vendors must keep intact when
// replying.
func InvitationSubject(title, rfpID string) string {
	return fmt.Sprintf("RFP Invitation - %s | RFP-ID: %s", title, rfpID)
}

// Mailer sends invitation mail over SMTP.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	from     string
	useTLS   bool
	logger   *log.Logger

	// send is swapped in tests to capture the wire payload.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// MailerOption customizes Mailer.
type MailerOption func(*Mailer)

// NewMailer builds a mailer from configuration.
func NewMailer(cfg config.SMTPConfig, opts ...MailerOption) *Mailer {
	m := &Mailer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		useTLS:   cfg.UseTLS,
		logger:   log.Default(),
	}
	m.send = m.sendPlain
	if m.useTLS {
		m.send = m.sendTLS
	}
	if m.from == "" {
		m.from = m.username
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// WithMailerLogger overrides the logger.
func WithMailerLogger(logger *log.Logger) MailerOption {
	return func(m *Mailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMailerSendFunc swaps the SMTP transport, primarily for tests.
func WithMailerSendFunc(send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error) MailerOption {
	return func(m *Mailer) {
		if send != nil {
			m.send = send
		}
	}
}

type invitationContext struct {
	VendorName string
	Title      string
	RFPID      string
	Details    models.RFPDetails
	ReplyTo    string
}

// SendInvitation mails one vendor an invitation for the given RFP.
func (m *Mailer) SendInvitation(rfp *models.RFP, vendor *models.Vendor) error {
	if rfp == nil || vendor == nil {
		return fmt.Errorf("invitation requires an rfp and a vendor")
	}
	subject := InvitationSubject(rfp.Title, rfp.ID)

	var body bytes.Buffer
	err := invitationTemplate.Execute(&body, invitationContext{
		VendorName: vendor.Name,
		Title:      rfp.Title,
		RFPID:      rfp.ID,
		Details:    rfp.DescriptionStructured,
		ReplyTo:    m.from,
	})
	if err != nil {
		return fmt.Errorf("render invitation: %w", err)
	}

	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s\r\n", m.from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", vendor.Email))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	if err := m.send(addr, auth, m.from, []string{vendor.Email}, msg.Bytes()); err != nil {
		return fmt.Errorf("send invitation to %s: %w", vendor.Email, err)
	}
	m.logger.Printf("outbound: invitation for rfp %s sent to %s", rfp.ID, vendor.Email)
	return nil
}

// SendInvitations mails every vendor in the list and returns the addresses
// that failed. One refused mailbox does not stop the rest of the fan-out.
func (m *Mailer) SendInvitations(rfp *models.RFP, vendors []*models.Vendor) []error {
	var errs []error
	for _, vendor := range vendors {
		if err := m.SendInvitation(rfp, vendor); err != nil {
			m.logger.Printf("outbound: %v", err)
			errs = append(errs, err)
		}
	}
	return errs
}

func (m *Mailer) sendPlain(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, auth, from, to, msg)
}

func (m *Mailer) sendTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.host})
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("set recipient %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

// Verify dials the server once to confirm connectivity at startup.
func (m *Mailer) Verify() error {
	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	if m.useTLS {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.host})
		if err != nil {
			return fmt.Errorf("connect to SMTP server: %w", err)
		}
		return conn.Close()
	}
	conn, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	return conn.Close()
}
