package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

// ProposalRepository is the sole writer of proposal records. The
// (rfp_id, vendor_id) uniqueness constraint and the email_message_id index
// it relies on are the system's durable exactly-once mechanism; everything
// upstream of it is an optimization.
type ProposalRepository struct {
	db *sqlx.DB
}

func NewProposalRepository(db *sqlx.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// Upsert writes a proposal, replacing the content of an existing row for the
// same (rfp_id, vendor_id) while preserving its id and created_at. An unknown
// rfp fails with ErrNotFound; an email_message_id collision with a different
// pair fails with ErrConstraintViolation.
func (r *ProposalRepository) Upsert(ctx context.Context, p *models.Proposal) (*models.Proposal, error) {
	existsQuery := r.db.Rebind(`SELECT COUNT(*) FROM rfps WHERE id = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, existsQuery, p.RFPID); err != nil {
		return nil, fmt.Errorf("failed to check rfp %s: %w", p.RFPID, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("rfp %s: %w", p.RFPID, ErrNotFound)
	}

	if p.ID == "" {
		p.ID = models.NewID()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := r.db.Rebind(`
		INSERT INTO proposals (id, rfp_id, vendor_id, email_message_id, raw_response, parsed, scoring, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (rfp_id, vendor_id) DO UPDATE SET
			email_message_id = excluded.email_message_id,
			raw_response     = excluded.raw_response,
			parsed           = excluded.parsed,
			scoring          = excluded.scoring,
			updated_at       = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.RFPID, p.VendorID, p.EmailMessageID,
		p.RawResponse, p.Parsed, p.Scoring, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("message id %v already bound to another proposal: %w",
				derefMessageID(p.EmailMessageID), ErrConstraintViolation)
		}
		return nil, fmt.Errorf("failed to upsert proposal: %w", err)
	}

	return r.getByPair(ctx, p.RFPID, p.VendorID)
}

// ExistsByMessageID is the point lookup the dedup guard performs before
// invoking extraction.
func (r *ProposalRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM proposals WHERE email_message_id = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, messageID); err != nil {
		return false, fmt.Errorf("failed to look up message id: %w", err)
	}
	return count > 0, nil
}

func (r *ProposalRepository) GetByID(ctx context.Context, id string) (*models.Proposal, error) {
	query := r.db.Rebind(selectProposal + ` WHERE id = ?`)
	p := &models.Proposal{}
	err := r.db.GetContext(ctx, p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// ListByRFP returns an RFP's proposals best score first. Scoring lives in a
// JSON column, so ordering happens here rather than in SQL to stay portable
// across both drivers.
func (r *ProposalRepository) ListByRFP(ctx context.Context, rfpID string) ([]*models.Proposal, error) {
	query := r.db.Rebind(selectProposal + ` WHERE rfp_id = ? ORDER BY created_at`)
	var proposals []*models.Proposal
	if err := r.db.SelectContext(ctx, &proposals, query, rfpID); err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	sort.SliceStable(proposals, func(i, j int) bool {
		return proposals[i].Scoring.Total > proposals[j].Scoring.Total
	})
	return proposals, nil
}

// CountByRFP reports how many vendors have responded to an RFP.
func (r *ProposalRepository) CountByRFP(ctx context.Context, rfpID string) (int, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM proposals WHERE rfp_id = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, rfpID); err != nil {
		return 0, fmt.Errorf("failed to count proposals: %w", err)
	}
	return count, nil
}

const selectProposal = `
	SELECT id, rfp_id, vendor_id, email_message_id, raw_response, parsed, scoring, created_at, updated_at
	FROM proposals`

func (r *ProposalRepository) getByPair(ctx context.Context, rfpID, vendorID string) (*models.Proposal, error) {
	query := r.db.Rebind(selectProposal + ` WHERE rfp_id = ? AND vendor_id = ?`)
	p := &models.Proposal{}
	if err := r.db.GetContext(ctx, p, query, rfpID, vendorID); err != nil {
		return nil, fmt.Errorf("failed to read back proposal: %w", err)
	}
	return p, nil
}

func derefMessageID(id *string) string {
	if id == nil {
		return "<none>"
	}
	return *id
}
