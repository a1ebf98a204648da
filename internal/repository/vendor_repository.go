package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

type VendorRepository struct {
	db *sqlx.DB
}

func NewVendorRepository(db *sqlx.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

// Create registers a vendor. The email is stored lower-cased; a duplicate
// address fails with ErrConstraintViolation.
func (r *VendorRepository) Create(ctx context.Context, vendor *models.Vendor) error {
	if vendor.ID == "" {
		vendor.ID = models.NewID()
	}
	vendor.Email = strings.ToLower(strings.TrimSpace(vendor.Email))
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO vendors (id, name, email, phone, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		vendor.ID, vendor.Name, vendor.Email, vendor.Phone, vendor.Address, vendor.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("vendor email %s already registered: %w", vendor.Email, ErrConstraintViolation)
		}
		return fmt.Errorf("failed to create vendor: %w", err)
	}
	return nil
}

func (r *VendorRepository) GetByID(ctx context.Context, id string) (*models.Vendor, error) {
	query := r.db.Rebind(`
		SELECT id, name, email, phone, address, created_at
		FROM vendors WHERE id = ?`)

	vendor := &models.Vendor{}
	err := r.db.GetContext(ctx, vendor, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vendor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return vendor, nil
}

func (r *VendorRepository) List(ctx context.Context) ([]*models.Vendor, error) {
	query := `
		SELECT id, name, email, phone, address, created_at
		FROM vendors ORDER BY created_at DESC`

	var vendors []*models.Vendor
	if err := r.db.SelectContext(ctx, &vendors, query); err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	return vendors, nil
}

// GetByIDs resolves a set of vendor ids, erroring when any is unknown.
func (r *VendorRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Vendor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, name, email, phone, address, created_at
		FROM vendors WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build vendor query: %w", err)
	}

	var vendors []*models.Vendor
	if err := r.db.SelectContext(ctx, &vendors, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get vendors: %w", err)
	}
	if len(vendors) != len(ids) {
		return nil, fmt.Errorf("one or more vendors missing: %w", ErrNotFound)
	}
	return vendors, nil
}

// ListIdentities returns the id/email pairs the identity directory snapshots
// at the start of each poll cycle.
func (r *VendorRepository) ListIdentities(ctx context.Context) ([]models.VendorIdentity, error) {
	var identities []models.VendorIdentity
	if err := r.db.SelectContext(ctx, &identities, `SELECT id, email FROM vendors`); err != nil {
		return nil, fmt.Errorf("failed to list vendor identities: %w", err)
	}
	return identities, nil
}
