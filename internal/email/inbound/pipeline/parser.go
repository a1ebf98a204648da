// Package pipeline turns raw fetched messages into stored proposals. Each
// message flows parse, correlate, dedup, extract, score, upsert; a failure in
// any non-infrastructure stage drops the message with a log line instead of
// aborting the cycle.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	stdmail "net/mail"
	"regexp"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/rfpflow-io/rfpflow-ce/internal/email/inbound/connector"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

const (
	defaultBodyLimit       = 128 * 1024
	defaultAttachmentLimit = 25 * 1024 * 1024
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Parser extracts the fields the rest of the pipeline needs out of a raw
// RFC822 payload. HTML-only messages are stripped to text so the extraction
// prompt sees prose, not markup.
type Parser struct {
	maxBodyBytes    int64
	attachmentLimit int64
	decoder         *mime.WordDecoder
	sanitizer       *bluemonday.Policy
}

// ParserOption customizes Parser.
type ParserOption func(*Parser)

// NewParser builds a message parser with default limits.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		maxBodyBytes:    defaultBodyLimit,
		attachmentLimit: defaultAttachmentLimit,
		decoder:         &mime.WordDecoder{},
		sanitizer:       bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithParserBodyLimit constrains how much body text is retained.
func WithParserBodyLimit(limit int64) ParserOption {
	return func(p *Parser) {
		if limit > 0 {
			p.maxBodyBytes = limit
		}
	}
}

// WithParserAttachmentLimit overrides the maximum attachment bytes buffered
// in memory.
func WithParserAttachmentLimit(limit int64) ParserOption {
	return func(p *Parser) {
		if limit > 0 {
			p.attachmentLimit = limit
		}
	}
}

// Parse decodes the raw message into sender, subject, message id, body text
// and attachments. It returns an error only when no usable envelope can be
// recovered at all.
func (p *Parser) Parse(msg *connector.FetchedMessage) (*models.InboundMessage, error) {
	if msg == nil || len(msg.Raw) == 0 {
		return nil, errors.New("parse: empty message")
	}
	reader, err := gomail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		return p.legacyParse(msg)
	}

	out := &models.InboundMessage{
		MessageID: normalizeMessageID(reader.Header.Get("Message-Id")),
		Sender:    p.addressFromHeader(&reader.Header),
		Subject:   p.subjectFromHeader(&reader.Header),
	}

	plain, htmlBody, attachments := p.readParts(reader)
	switch {
	case plain != "":
		out.BodyText = plain
	case htmlBody != "":
		out.BodyText = p.htmlToText(htmlBody)
	}
	out.Attachments = attachments

	if out.Sender == "" {
		return nil, errors.New("parse: message has no sender address")
	}
	if out.BodyText == "" {
		// Single-part messages sometimes fail part iteration; retry with the
		// flat reader before giving up on the body.
		if legacy, legacyErr := p.legacyParse(msg); legacyErr == nil {
			out.BodyText = legacy.BodyText
		}
	}
	return out, nil
}

func (p *Parser) legacyParse(msg *connector.FetchedMessage) (*models.InboundMessage, error) {
	reader, err := stdmail.ReadMessage(bytes.NewReader(msg.Raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	out := &models.InboundMessage{
		MessageID: normalizeMessageID(reader.Header.Get("Message-Id")),
		Sender:    p.parseAddress(reader.Header.Get("From")),
		Subject:   p.decodeHeader(reader.Header.Get("Subject")),
	}
	if out.Sender == "" {
		return nil, errors.New("parse: message has no sender address")
	}
	body, readErr := io.ReadAll(io.LimitReader(reader.Body, p.bodyLimit()))
	if readErr == nil {
		text := string(body)
		if mediaType, _ := p.parseContentType(reader.Header.Get("Content-Type")); strings.HasPrefix(mediaType, "text/html") {
			text = p.htmlToText(text)
		}
		out.BodyText = strings.TrimSpace(text)
	}
	return out, nil
}

func (p *Parser) readParts(reader *gomail.Reader) (plain, htmlBody string, attachments []models.EmailAttachment) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			mediaType, _, ctErr := header.ContentType()
			if ctErr != nil {
				mediaType, _ = p.parseContentType(header.Get("Content-Type"))
			}
			mediaType = strings.ToLower(strings.TrimSpace(mediaType))
			body, readErr := io.ReadAll(io.LimitReader(part.Body, p.bodyLimit()))
			if readErr != nil || len(body) == 0 {
				continue
			}
			text := strings.TrimSpace(string(body))
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				if plain == "" {
					plain = text
				}
			case strings.HasPrefix(mediaType, "text/html"):
				if htmlBody == "" {
					htmlBody = text
				}
			default:
				if plain == "" && htmlBody == "" {
					plain = text
				}
			}
		case *gomail.AttachmentHeader:
			if att := p.readAttachment(part, header); att != nil {
				attachments = append(attachments, *att)
			}
		}
	}
	return plain, htmlBody, attachments
}

func (p *Parser) readAttachment(part *gomail.Part, header *gomail.AttachmentHeader) *models.EmailAttachment {
	filename, err := header.Filename()
	if err != nil || strings.TrimSpace(filename) == "" {
		filename = fmt.Sprintf("attachment-%d.bin", time.Now().UnixNano())
	}
	mediaType, _, ctErr := header.ContentType()
	if ctErr != nil || strings.TrimSpace(mediaType) == "" {
		mediaType, _ = p.parseContentType(header.Get("Content-Type"))
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	data, readErr := io.ReadAll(io.LimitReader(part.Body, p.attachmentLimit))
	if readErr != nil || len(data) == 0 {
		return nil
	}
	return &models.EmailAttachment{Filename: filename, ContentType: mediaType, Data: data}
}

var blankLines = regexp.MustCompile(`\n{3,}`)

func (p *Parser) htmlToText(src string) string {
	// Force block boundaries to newlines before stripping tags so paragraphs
	// survive as separate lines.
	replacer := strings.NewReplacer(
		"<br>", "\n", "<br/>", "\n", "<br />", "\n",
		"</p>", "\n\n", "</div>", "\n", "</li>", "\n",
		"</tr>", "\n", "</h1>", "\n", "</h2>", "\n", "</h3>", "\n",
	)
	text := replacer.Replace(strings.ToValidUTF8(src, ""))
	text = p.sanitizer.Sanitize(text)
	text = html.UnescapeString(text)
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func (p *Parser) subjectFromHeader(header *gomail.Header) string {
	if subject, err := header.Subject(); err == nil {
		return strings.TrimSpace(subject)
	}
	return p.decodeHeader(header.Get("Subject"))
}

func (p *Parser) addressFromHeader(header *gomail.Header) string {
	if list, err := header.AddressList("From"); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0].Address)
	}
	return p.parseAddress(header.Get("From"))
}

func (p *Parser) parseAddress(value string) string {
	value = p.decodeHeader(value)
	if value == "" {
		return ""
	}
	if addrs, err := stdmail.ParseAddressList(value); err == nil && len(addrs) > 0 {
		return strings.TrimSpace(addrs[0].Address)
	}
	if addr, err := stdmail.ParseAddress(value); err == nil {
		return strings.TrimSpace(addr.Address)
	}
	return strings.TrimSpace(value)
}

func (p *Parser) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || p.decoder == nil {
		return value
	}
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func (p *Parser) parseContentType(value string) (string, string) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return "", ""
	}
	mediaType := raw
	charset := ""
	if parsed, params, err := mime.ParseMediaType(raw); err == nil {
		mediaType = parsed
		if cs, ok := params["charset"]; ok {
			charset = strings.TrimSpace(cs)
		}
	}
	return strings.ToLower(mediaType), strings.ToLower(charset)
}

func (p *Parser) bodyLimit() int64 {
	if p.maxBodyBytes <= 0 {
		return defaultBodyLimit
	}
	return p.maxBodyBytes
}

func normalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.Trim(value, "<>")
	value = strings.Trim(value, "\"")
	return strings.TrimSpace(value)
}
