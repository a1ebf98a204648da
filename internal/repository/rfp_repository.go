package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

type RFPRepository struct {
	db *sqlx.DB
}

func NewRFPRepository(db *sqlx.DB) *RFPRepository {
	return &RFPRepository{db: db}
}

func (r *RFPRepository) Create(ctx context.Context, rfp *models.RFP) error {
	if rfp.ID == "" {
		rfp.ID = models.NewID()
	}
	if rfp.Status == "" {
		rfp.Status = models.RFPStatusDraft
	}
	if rfp.CreatedAt.IsZero() {
		rfp.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO rfps (id, title, description_raw, description_structured, invited_vendor_ids, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		rfp.ID, rfp.Title, rfp.DescriptionRaw, rfp.DescriptionStructured,
		rfp.InvitedVendorIDs, rfp.Status, rfp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rfp: %w", err)
	}
	return nil
}

func (r *RFPRepository) GetByID(ctx context.Context, id string) (*models.RFP, error) {
	query := r.db.Rebind(`
		SELECT id, title, description_raw, description_structured, invited_vendor_ids, status, created_at
		FROM rfps WHERE id = ?`)

	rfp := &models.RFP{}
	err := r.db.GetContext(ctx, rfp, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rfp %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rfp: %w", err)
	}
	return rfp, nil
}

func (r *RFPRepository) List(ctx context.Context) ([]*models.RFP, error) {
	query := `
		SELECT id, title, description_raw, description_structured, invited_vendor_ids, status, created_at
		FROM rfps ORDER BY created_at DESC`

	var rfps []*models.RFP
	if err := r.db.SelectContext(ctx, &rfps, query); err != nil {
		return nil, fmt.Errorf("failed to list rfps: %w", err)
	}
	return rfps, nil
}

// Exists is the write-boundary referential check used by the proposal store.
func (r *RFPRepository) Exists(ctx context.Context, id string) (bool, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM rfps WHERE id = ?`)
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return false, fmt.Errorf("failed to check rfp existence: %w", err)
	}
	return count > 0, nil
}

// AssignVendors replaces the invited vendor set.
func (r *RFPRepository) AssignVendors(ctx context.Context, id string, vendorIDs []string) error {
	query := r.db.Rebind(`UPDATE rfps SET invited_vendor_ids = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, models.StringList(vendorIDs), id)
	if err != nil {
		return fmt.Errorf("failed to assign vendors: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("rfp %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *RFPRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := r.db.Rebind(`UPDATE rfps SET status = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update rfp status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("rfp %s: %w", id, ErrNotFound)
	}
	return nil
}
