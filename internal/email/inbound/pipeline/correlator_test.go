package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

type fakeIdentityLister struct {
	identities []models.VendorIdentity
	err        error
}

func (f *fakeIdentityLister) ListIdentities(_ context.Context) ([]models.VendorIdentity, error) {
	return f.identities, f.err
}

func newTestDirectory(t *testing.T, identities ...models.VendorIdentity) *IdentityDirectory {
	t.Helper()
	dir := NewIdentityDirectory(&fakeIdentityLister{identities: identities})
	require.NoError(t, dir.Refresh(context.Background()))
	return dir
}

func TestExtractRFPID(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		want    string
	}{
		{"invitation reply", "Re: RFP Invitation - Office Laptops | RFP-ID: 64b7f0c1a2e4f1a2b3c4d5e6", "64b7f0c1a2e4f1a2b3c4d5e6"},
		{"uppercase hex", "RFP-ID: 64B7F0C1A2E4F1A2B3C4D5E6", "64b7f0c1a2e4f1a2b3c4d5e6"},
		{"case-insensitive label", "rfp-id:64b7f0c1a2e4f1a2b3c4d5e6", "64b7f0c1a2e4f1a2b3c4d5e6"},
		{"too short", "RFP-ID: 64b7f0c1a2e4f1a2b3c4d5e", ""},
		{"too long", "RFP-ID: 64b7f0c1a2e4f1a2b3c4d5e6a", ""},
		{"non-hex", "RFP-ID: 64b7f0c1a2e4f1a2b3c4d5zz", ""},
		{"no token", "Quarterly newsletter", ""},
		{"first valid among several", "RFP-ID: dead RFP-ID: 64b7f0c1a2e4f1a2b3c4d5e6", "64b7f0c1a2e4f1a2b3c4d5e6"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExtractRFPID(tc.subject))
		})
	}
}

func TestCorrelateKnownVendor(t *testing.T) {
	dir := newTestDirectory(t, models.VendorIdentity{ID: "5f0a1b2c3d4e5f6a7b8c9d0e", Email: "alice@acme.com"})
	c := NewCorrelator(dir)

	msg := &models.InboundMessage{
		Sender:  "alice@acme.com",
		Subject: "Re: RFP Invitation - Office Laptops | RFP-ID: 64b7f0c1a2e4f1a2b3c4d5e6",
	}
	got, err := c.Correlate(msg)
	require.NoError(t, err)
	require.Equal(t, "64b7f0c1a2e4f1a2b3c4d5e6", got.RFPID)
	require.Equal(t, "5f0a1b2c3d4e5f6a7b8c9d0e", got.Vendor.ID)
}

func TestCorrelateSenderCaseInsensitive(t *testing.T) {
	dir := newTestDirectory(t, models.VendorIdentity{ID: "5f0a1b2c3d4e5f6a7b8c9d0e", Email: "alice@acme.com"})
	c := NewCorrelator(dir)

	msg := &models.InboundMessage{
		Sender:  "Alice@ACME.com",
		Subject: "RFP-ID: 64b7f0c1a2e4f1a2b3c4d5e6",
	}
	got, err := c.Correlate(msg)
	require.NoError(t, err)
	require.Equal(t, "5f0a1b2c3d4e5f6a7b8c9d0e", got.Vendor.ID)
}

func TestCorrelateUnknownSender(t *testing.T) {
	dir := newTestDirectory(t)
	c := NewCorrelator(dir)

	msg := &models.InboundMessage{
		Sender:  "stranger@nowhere.net",
		Subject: "RFP-ID: 64b7f0c1a2e4f1a2b3c4d5e6",
	}
	_, err := c.Correlate(msg)
	var nc *NotCorrelatedError
	require.ErrorAs(t, err, &nc)
	require.Equal(t, ReasonUnknownSender, nc.Reason)
}

func TestCorrelateMissingToken(t *testing.T) {
	dir := newTestDirectory(t, models.VendorIdentity{ID: "5f0a1b2c3d4e5f6a7b8c9d0e", Email: "alice@acme.com"})
	c := NewCorrelator(dir)

	msg := &models.InboundMessage{Sender: "alice@acme.com", Subject: "Re: our pricing"}
	_, err := c.Correlate(msg)
	var nc *NotCorrelatedError
	require.ErrorAs(t, err, &nc)
	require.Equal(t, ReasonMissingRFPID, nc.Reason)
}

func TestDirectoryRefreshReplacesSnapshot(t *testing.T) {
	lister := &fakeIdentityLister{identities: []models.VendorIdentity{
		{ID: "5f0a1b2c3d4e5f6a7b8c9d0e", Email: "Alice@Acme.com"},
	}}
	dir := NewIdentityDirectory(lister)
	require.NoError(t, dir.Refresh(context.Background()))

	_, ok := dir.Lookup("alice@acme.com")
	require.True(t, ok)

	lister.identities = []models.VendorIdentity{
		{ID: "6a1b2c3d4e5f6a7b8c9d0e1f", Email: "bob@globex.io"},
	}
	require.NoError(t, dir.Refresh(context.Background()))

	_, ok = dir.Lookup("alice@acme.com")
	require.False(t, ok)
	_, ok = dir.Lookup("bob@globex.io")
	require.True(t, ok)
	require.Equal(t, 1, dir.Size())
}
