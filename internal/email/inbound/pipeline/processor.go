package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rfpflow-io/rfpflow-ce/internal/email/inbound/connector"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
	"github.com/rfpflow-io/rfpflow-ce/internal/repository"
)

// Extractor pulls structured proposal data out of free-form reply text.
type Extractor interface {
	Extract(ctx context.Context, rfp *models.RFP, body string) (models.ProposalFields, error)
	Score(ctx context.Context, rfp *models.RFP, fields models.ProposalFields) (models.ProposalScoring, error)
}

type proposalStore interface {
	Upsert(ctx context.Context, p *models.Proposal) (*models.Proposal, error)
}

type rfpStore interface {
	GetByID(ctx context.Context, id string) (*models.RFP, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// Processor drives one message through the full ingest pipeline. It
// implements connector.Handler: a nil return means the message reached a
// terminal outcome (stored, duplicate, or deliberately dropped) and may be
// marked seen; an error means infrastructure failed mid-flight and the
// message must stay unseen for a retry.
type Processor struct {
	parser     *Parser
	directory  *IdentityDirectory
	correlator *Correlator
	dedup      *DedupGuard
	extractor  Extractor
	proposals  proposalStore
	rfps       rfpStore
	logger     *log.Logger
	metrics    *ingestMetrics
}

// ProcessorOption customizes Processor.
type ProcessorOption func(*Processor)

// NewProcessor wires the pipeline stages together.
func NewProcessor(directory *IdentityDirectory, dedup *DedupGuard, extractor Extractor, proposals proposalStore, rfps rfpStore, opts ...ProcessorOption) *Processor {
	p := &Processor{
		parser:     NewParser(),
		directory:  directory,
		correlator: NewCorrelator(directory),
		dedup:      dedup,
		extractor:  extractor,
		proposals:  proposals,
		rfps:       rfps,
		logger:     log.Default(),
		metrics:    pipelineMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithProcessorLogger overrides the logger used for per-message outcomes.
func WithProcessorLogger(logger *log.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProcessorParser overrides the message parser.
func WithProcessorParser(parser *Parser) ProcessorOption {
	return func(p *Processor) {
		if parser != nil {
			p.parser = parser
		}
	}
}

// BeginCycle refreshes the vendor directory snapshot. Called once before the
// connector starts streaming a cycle's messages.
func (p *Processor) BeginCycle(ctx context.Context) error {
	if err := p.directory.Refresh(ctx); err != nil {
		return err
	}
	p.logger.Printf("ingest: directory refreshed, %d vendor addresses", p.directory.Size())
	return nil
}

// Handle ingests one fetched message.
func (p *Processor) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	p.metrics.fetched.Inc()

	parsed, err := p.parser.Parse(msg)
	if err != nil {
		p.metrics.parseErrors.Inc()
		p.logger.Printf("ingest: unparseable message %s: %v", msg.UID, err)
		return nil
	}

	correlation, err := p.correlator.Correlate(parsed)
	if err != nil {
		var nc *NotCorrelatedError
		if errors.As(err, &nc) {
			p.metrics.uncorrelated.WithLabelValues(nc.Reason).Inc()
			p.logger.Printf("ingest: dropping message %s: %v", msg.UID, nc)
			return nil
		}
		return err
	}

	ok, err := p.dedup.ShouldProcess(ctx, parsed.MessageID)
	if err != nil {
		return err
	}
	if !ok {
		p.metrics.duplicates.Inc()
		p.logger.Printf("ingest: duplicate message %s (message-id %q)", msg.UID, parsed.MessageID)
		return nil
	}
	p.dedup.MarkProcessing(parsed.MessageID)

	rfp, err := p.rfps.GetByID(ctx, correlation.RFPID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// A well-formed token for an RFP we never issued. Same handling
			// as a missing token: drop, the message is not actionable.
			p.metrics.uncorrelated.WithLabelValues(ReasonMissingRFPID).Inc()
			p.logger.Printf("ingest: message %s references unknown rfp %s", msg.UID, correlation.RFPID)
			return nil
		}
		return fmt.Errorf("rfp lookup %s: %w", correlation.RFPID, err)
	}

	timer := prometheus.NewTimer(p.metrics.extractTime)
	fields, err := p.extractor.Extract(ctx, rfp, parsed.BodyText)
	timer.ObserveDuration()
	if err != nil {
		p.metrics.skipped.Inc()
		p.logger.Printf("ingest: extraction failed for message %s (rfp %s, vendor %s): %v",
			msg.UID, rfp.ID, correlation.Vendor.ID, err)
		return nil
	}

	scoring, err := p.extractor.Score(ctx, rfp, fields)
	if err != nil {
		p.metrics.skipped.Inc()
		p.logger.Printf("ingest: scoring failed for message %s (rfp %s, vendor %s): %v",
			msg.UID, rfp.ID, correlation.Vendor.ID, err)
		return nil
	}

	proposal := &models.Proposal{
		RFPID:       rfp.ID,
		VendorID:    correlation.Vendor.ID,
		RawResponse: parsed.BodyText,
		Parsed:      fields,
		Scoring:     scoring,
	}
	if parsed.MessageID != "" {
		proposal.EmailMessageID = &parsed.MessageID
	}

	stored, err := p.proposals.Upsert(ctx, proposal)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			p.logger.Printf("ingest: rfp %s vanished before upsert of message %s", rfp.ID, msg.UID)
			return nil
		case errors.Is(err, repository.ErrConstraintViolation):
			// Message-id already bound to another proposal row. The dedup
			// guard normally catches this first; reaching here means two
			// copies raced within one cycle.
			p.logger.Printf("ingest: message-id collision for message %s (message-id %q)", msg.UID, parsed.MessageID)
			return nil
		default:
			return fmt.Errorf("proposal upsert (rfp %s, vendor %s): %w", rfp.ID, correlation.Vendor.ID, err)
		}
	}

	p.metrics.stored.Inc()
	p.logger.Printf("ingest: stored proposal %s (rfp %s, vendor %s)", stored.ID, rfp.ID, correlation.Vendor.ID)

	if rfp.Status == models.RFPStatusSent {
		if err := p.rfps.UpdateStatus(ctx, rfp.ID, models.RFPStatusResponding); err != nil {
			// Status progression is cosmetic next to the stored proposal.
			p.logger.Printf("ingest: status update failed for rfp %s: %v", rfp.ID, err)
		}
	}
	return nil
}
