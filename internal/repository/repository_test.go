package repository

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/rfpflow-io/rfpflow-ce/internal/config"
	"github.com/rfpflow-io/rfpflow-ce/internal/database"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func seedVendor(t *testing.T, repo *VendorRepository, name, email string) *models.Vendor {
	t.Helper()
	vendor := &models.Vendor{Name: name, Email: email}
	require.NoError(t, repo.Create(context.Background(), vendor))
	return vendor
}

func seedRFP(t *testing.T, repo *RFPRepository, title string) *models.RFP {
	t.Helper()
	rfp := &models.RFP{Title: title, DescriptionRaw: "raw"}
	require.NoError(t, repo.Create(context.Background(), rfp))
	return rfp
}

func TestVendorCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewVendorRepository(db)
	ctx := context.Background()

	vendor := seedVendor(t, repo, "Acme Supply", "  Alice@Acme.com ")
	require.True(t, models.ValidID(vendor.ID))
	require.Equal(t, "alice@acme.com", vendor.Email)

	got, err := repo.GetByID(ctx, vendor.ID)
	require.NoError(t, err)
	require.Equal(t, vendor.Name, got.Name)
	require.Equal(t, "alice@acme.com", got.Email)

	_, err = repo.GetByID(ctx, models.NewID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVendorDuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	repo := NewVendorRepository(db)

	seedVendor(t, repo, "Acme Supply", "alice@acme.com")
	err := repo.Create(context.Background(), &models.Vendor{Name: "Other", Email: "ALICE@acme.com"})
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestVendorGetByIDs(t *testing.T) {
	db := newTestDB(t)
	repo := NewVendorRepository(db)
	ctx := context.Background()

	a := seedVendor(t, repo, "Acme Supply", "alice@acme.com")
	b := seedVendor(t, repo, "Globex", "bob@globex.io")

	vendors, err := repo.GetByIDs(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, vendors, 2)

	_, err = repo.GetByIDs(ctx, []string{a.ID, models.NewID()})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVendorListIdentities(t *testing.T) {
	db := newTestDB(t)
	repo := NewVendorRepository(db)

	a := seedVendor(t, repo, "Acme Supply", "alice@acme.com")
	identities, err := repo.ListIdentities(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)
	require.Equal(t, a.ID, identities[0].ID)
	require.Equal(t, "alice@acme.com", identities[0].Email)
}

func TestRFPCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewRFPRepository(db)
	ctx := context.Background()

	budget := 50000.0
	rfp := &models.RFP{
		Title:          "Office Laptops",
		DescriptionRaw: "30 laptops, 16GB RAM",
		DescriptionStructured: models.RFPDetails{
			Budget:   &budget,
			Currency: "USD",
			Items:    []models.RFPItem{{Item: "Laptop", Quantity: 30}},
		},
	}
	require.NoError(t, repo.Create(ctx, rfp))
	require.Equal(t, models.RFPStatusDraft, rfp.Status)

	got, err := repo.GetByID(ctx, rfp.ID)
	require.NoError(t, err)
	require.Equal(t, "Office Laptops", got.Title)
	require.NotNil(t, got.DescriptionStructured.Budget)
	require.Equal(t, budget, *got.DescriptionStructured.Budget)
	require.Len(t, got.DescriptionStructured.Items, 1)
}

func TestRFPAssignVendorsAndStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewRFPRepository(db)
	ctx := context.Background()

	rfp := seedRFP(t, repo, "Office Laptops")
	vendorID := models.NewID()

	require.NoError(t, repo.AssignVendors(ctx, rfp.ID, []string{vendorID}))
	require.NoError(t, repo.UpdateStatus(ctx, rfp.ID, models.RFPStatusSent))

	got, err := repo.GetByID(ctx, rfp.ID)
	require.NoError(t, err)
	require.True(t, got.InvitedVendorIDs.Contains(vendorID))
	require.Equal(t, models.RFPStatusSent, got.Status)

	require.ErrorIs(t, repo.AssignVendors(ctx, models.NewID(), []string{vendorID}), ErrNotFound)
	require.ErrorIs(t, repo.UpdateStatus(ctx, models.NewID(), models.RFPStatusSent), ErrNotFound)
}

func TestRFPExists(t *testing.T) {
	db := newTestDB(t)
	repo := NewRFPRepository(db)
	ctx := context.Background()

	rfp := seedRFP(t, repo, "Office Laptops")
	exists, err := repo.Exists(ctx, rfp.ID)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = repo.Exists(ctx, models.NewID())
	require.NoError(t, err)
	require.False(t, exists)
}

func proposalFor(rfpID, vendorID, messageID string) *models.Proposal {
	price := 45000.0
	return &models.Proposal{
		RFPID:          rfpID,
		VendorID:       vendorID,
		EmailMessageID: &messageID,
		RawResponse:    "We can deliver for 45,000 USD.",
		Parsed:         models.ProposalFields{TotalPrice: &price},
		Scoring:        models.ProposalScoring{Total: 78, AIRecommendation: "Solid offer"},
	}
}

func TestProposalUpsertReplacesContent(t *testing.T) {
	db := newTestDB(t)
	rfps := NewRFPRepository(db)
	vendors := NewVendorRepository(db)
	proposals := NewProposalRepository(db)
	ctx := context.Background()

	rfp := seedRFP(t, rfps, "Office Laptops")
	vendor := seedVendor(t, vendors, "Acme Supply", "alice@acme.com")

	first, err := proposals.Upsert(ctx, proposalFor(rfp.ID, vendor.ID, "m1@acme.com"))
	require.NoError(t, err)

	second := proposalFor(rfp.ID, vendor.ID, "m2@acme.com")
	second.RawResponse = "Revised: 42,000 USD."
	stored, err := proposals.Upsert(ctx, second)
	require.NoError(t, err)

	// same id and creation time survive the replacement
	require.Equal(t, first.ID, stored.ID)
	require.Equal(t, first.CreatedAt, stored.CreatedAt)
	require.Equal(t, "Revised: 42,000 USD.", stored.RawResponse)
	require.Equal(t, "m2@acme.com", *stored.EmailMessageID)

	all, err := proposals.ListByRFP(ctx, rfp.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestProposalUpsertUnknownRFP(t *testing.T) {
	db := newTestDB(t)
	proposals := NewProposalRepository(db)

	_, err := proposals.Upsert(context.Background(), proposalFor(models.NewID(), models.NewID(), "m1@acme.com"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProposalMessageIDCollision(t *testing.T) {
	db := newTestDB(t)
	rfps := NewRFPRepository(db)
	vendors := NewVendorRepository(db)
	proposals := NewProposalRepository(db)
	ctx := context.Background()

	rfp := seedRFP(t, rfps, "Office Laptops")
	alice := seedVendor(t, vendors, "Acme Supply", "alice@acme.com")
	bob := seedVendor(t, vendors, "Globex", "bob@globex.io")

	_, err := proposals.Upsert(ctx, proposalFor(rfp.ID, alice.ID, "shared@relay.example"))
	require.NoError(t, err)

	_, err = proposals.Upsert(ctx, proposalFor(rfp.ID, bob.ID, "shared@relay.example"))
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestProposalExistsByMessageID(t *testing.T) {
	db := newTestDB(t)
	rfps := NewRFPRepository(db)
	vendors := NewVendorRepository(db)
	proposals := NewProposalRepository(db)
	ctx := context.Background()

	rfp := seedRFP(t, rfps, "Office Laptops")
	vendor := seedVendor(t, vendors, "Acme Supply", "alice@acme.com")

	_, err := proposals.Upsert(ctx, proposalFor(rfp.ID, vendor.ID, "m1@acme.com"))
	require.NoError(t, err)

	seen, err := proposals.ExistsByMessageID(ctx, "m1@acme.com")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = proposals.ExistsByMessageID(ctx, "unknown@acme.com")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestProposalListOrdersByScore(t *testing.T) {
	db := newTestDB(t)
	rfps := NewRFPRepository(db)
	vendors := NewVendorRepository(db)
	proposals := NewProposalRepository(db)
	ctx := context.Background()

	rfp := seedRFP(t, rfps, "Office Laptops")
	alice := seedVendor(t, vendors, "Acme Supply", "alice@acme.com")
	bob := seedVendor(t, vendors, "Globex", "bob@globex.io")

	low := proposalFor(rfp.ID, alice.ID, "m1@acme.com")
	low.Scoring.Total = 55
	_, err := proposals.Upsert(ctx, low)
	require.NoError(t, err)

	high := proposalFor(rfp.ID, bob.ID, "m2@globex.io")
	high.Scoring.Total = 91
	_, err = proposals.Upsert(ctx, high)
	require.NoError(t, err)

	all, err := proposals.ListByRFP(ctx, rfp.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, bob.ID, all[0].VendorID)
	require.Equal(t, alice.ID, all[1].VendorID)
}

func TestProposalCountByRFP(t *testing.T) {
	db := newTestDB(t)
	rfps := NewRFPRepository(db)
	vendors := NewVendorRepository(db)
	proposals := NewProposalRepository(db)
	ctx := context.Background()

	rfp := seedRFP(t, rfps, "Office Laptops")
	alice := seedVendor(t, vendors, "Acme Supply", "alice@acme.com")
	bob := seedVendor(t, vendors, "Globex", "bob@globex.io")

	_, err := proposals.Upsert(ctx, proposalFor(rfp.ID, alice.ID, "m1@acme.com"))
	require.NoError(t, err)
	_, err = proposals.Upsert(ctx, proposalFor(rfp.ID, bob.ID, "m2@globex.io"))
	require.NoError(t, err)

	count, err := proposals.CountByRFP(ctx, rfp.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
