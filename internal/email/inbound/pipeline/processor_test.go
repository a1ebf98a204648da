package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rfpflow-io/rfpflow-ce/internal/email/inbound/connector"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
	"github.com/rfpflow-io/rfpflow-ce/internal/repository"
)

const (
	testRFPID    = "64b7f0c1a2e4f1a2b3c4d5e6"
	testVendorID = "5f0a1b2c3d4e5f6a7b8c9d0e"
)

type fakeExtractor struct {
	fields     models.ProposalFields
	scoring    models.ProposalScoring
	extractErr error
	scoreErr   error
	calls      int
}

func (f *fakeExtractor) Extract(_ context.Context, _ *models.RFP, _ string) (models.ProposalFields, error) {
	f.calls++
	return f.fields, f.extractErr
}

func (f *fakeExtractor) Score(_ context.Context, _ *models.RFP, _ models.ProposalFields) (models.ProposalScoring, error) {
	return f.scoring, f.scoreErr
}

type fakeProposalStore struct {
	upserts []*models.Proposal
	err     error
}

func (f *fakeProposalStore) Upsert(_ context.Context, p *models.Proposal) (*models.Proposal, error) {
	if f.err != nil {
		return nil, f.err
	}
	stored := *p
	if stored.ID == "" {
		stored.ID = models.NewID()
	}
	f.upserts = append(f.upserts, &stored)
	return &stored, nil
}

type fakeRFPStore struct {
	rfps     map[string]*models.RFP
	statuses map[string]string
	err      error
}

func (f *fakeRFPStore) GetByID(_ context.Context, id string) (*models.RFP, error) {
	if f.err != nil {
		return nil, f.err
	}
	rfp, ok := f.rfps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *rfp
	return &clone, nil
}

func (f *fakeRFPStore) UpdateStatus(_ context.Context, id, status string) error {
	if f.statuses == nil {
		f.statuses = make(map[string]string)
	}
	f.statuses[id] = status
	return nil
}

type processorHarness struct {
	processor *Processor
	extractor *fakeExtractor
	proposals *fakeProposalStore
	rfps      *fakeRFPStore
	dedupRepo *fakeProposalLookup
}

func newProcessorHarness(t *testing.T) *processorHarness {
	t.Helper()
	price := 45000.0
	h := &processorHarness{
		extractor: &fakeExtractor{
			fields:  models.ProposalFields{TotalPrice: &price},
			scoring: models.ProposalScoring{OverallScore: 8.1},
		},
		proposals: &fakeProposalStore{},
		rfps: &fakeRFPStore{rfps: map[string]*models.RFP{
			testRFPID: {ID: testRFPID, Title: "Office Laptops", Status: models.RFPStatusSent},
		}},
		dedupRepo: &fakeProposalLookup{},
	}
	dir := newTestDirectory(t, models.VendorIdentity{ID: testVendorID, Email: "alice@acme.com"})
	h.processor = NewProcessor(
		dir,
		NewDedupGuard(h.dedupRepo),
		h.extractor,
		h.proposals,
		h.rfps,
		WithProcessorLogger(log.New(io.Discard, "", 0)),
	)
	return h
}

func vendorReply(messageID string) *connector.FetchedMessage {
	lines := []string{
		"From: alice@acme.com",
		"Subject: Re: RFP Invitation - Office Laptops | RFP-ID: " + testRFPID,
	}
	if messageID != "" {
		lines = append(lines, "Message-Id: <"+messageID+">")
	}
	lines = append(lines, "", "Total price 45000 USD, delivery in 6 weeks.")
	return &connector.FetchedMessage{UID: "7", Raw: []byte(strings.Join(lines, "\r\n"))}
}

func TestProcessorStoresProposal(t *testing.T) {
	h := newProcessorHarness(t)

	require.NoError(t, h.processor.Handle(context.Background(), vendorReply("r1@acme.com")))

	require.Len(t, h.proposals.upserts, 1)
	p := h.proposals.upserts[0]
	require.Equal(t, testRFPID, p.RFPID)
	require.Equal(t, testVendorID, p.VendorID)
	require.NotNil(t, p.EmailMessageID)
	require.Equal(t, "r1@acme.com", *p.EmailMessageID)
	require.Contains(t, p.RawResponse, "45000 USD")
	require.Equal(t, 8.1, p.Scoring.OverallScore)
	// first proposal moves the RFP out of sent
	require.Equal(t, models.RFPStatusResponding, h.rfps.statuses[testRFPID])
}

func TestProcessorIdempotentAcrossRedelivery(t *testing.T) {
	h := newProcessorHarness(t)

	msg := vendorReply("r1@acme.com")
	require.NoError(t, h.processor.Handle(context.Background(), msg))
	require.NoError(t, h.processor.Handle(context.Background(), msg))

	require.Len(t, h.proposals.upserts, 1)
	require.Equal(t, 1, h.extractor.calls)
}

func TestProcessorDedupAgainstStore(t *testing.T) {
	h := newProcessorHarness(t)
	h.dedupRepo.existing = map[string]bool{"r1@acme.com": true}

	require.NoError(t, h.processor.Handle(context.Background(), vendorReply("r1@acme.com")))
	require.Empty(t, h.proposals.upserts)
	require.Zero(t, h.extractor.calls)
}

func TestProcessorDropsUnknownSender(t *testing.T) {
	h := newProcessorHarness(t)
	raw := strings.Join([]string{
		"From: stranger@nowhere.net",
		"Subject: RFP-ID: " + testRFPID,
		"",
		"unsolicited",
	}, "\r\n")

	require.NoError(t, h.processor.Handle(context.Background(), &connector.FetchedMessage{UID: "9", Raw: []byte(raw)}))
	require.Empty(t, h.proposals.upserts)
	require.Zero(t, h.extractor.calls)
}

func TestProcessorDropsMissingToken(t *testing.T) {
	h := newProcessorHarness(t)
	raw := strings.Join([]string{
		"From: alice@acme.com",
		"Subject: checking in",
		"",
		"any update?",
	}, "\r\n")

	require.NoError(t, h.processor.Handle(context.Background(), &connector.FetchedMessage{UID: "9", Raw: []byte(raw)}))
	require.Empty(t, h.proposals.upserts)
}

func TestProcessorDropsUnknownRFP(t *testing.T) {
	h := newProcessorHarness(t)
	raw := strings.Join([]string{
		"From: alice@acme.com",
		"Subject: RFP-ID: ffffffffffffffffffffffff",
		"",
		"quote",
	}, "\r\n")

	require.NoError(t, h.processor.Handle(context.Background(), &connector.FetchedMessage{UID: "9", Raw: []byte(raw)}))
	require.Empty(t, h.proposals.upserts)
	require.Zero(t, h.extractor.calls)
}

func TestProcessorSkipsOnExtractionFailure(t *testing.T) {
	h := newProcessorHarness(t)
	h.extractor.extractErr = errors.New("model unavailable")

	require.NoError(t, h.processor.Handle(context.Background(), vendorReply("r1@acme.com")))
	require.Empty(t, h.proposals.upserts)
	// the message reached a terminal outcome, so its id stays marked and a
	// redelivery in the same process is not retried
	ok, err := h.processor.dedup.ShouldProcess(context.Background(), "r1@acme.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProcessorSkipsOnScoringFailure(t *testing.T) {
	h := newProcessorHarness(t)
	h.extractor.scoreErr = errors.New("model unavailable")

	require.NoError(t, h.processor.Handle(context.Background(), vendorReply("r1@acme.com")))
	require.Empty(t, h.proposals.upserts)
}

func TestProcessorPropagatesInfraErrors(t *testing.T) {
	h := newProcessorHarness(t)
	h.dedupRepo.err = errors.New("db down")
	require.Error(t, h.processor.Handle(context.Background(), vendorReply("r1@acme.com")))

	h = newProcessorHarness(t)
	h.proposals.err = errors.New("db down")
	require.Error(t, h.processor.Handle(context.Background(), vendorReply("r1@acme.com")))
}

func TestProcessorToleratesMessageIDCollision(t *testing.T) {
	h := newProcessorHarness(t)
	h.proposals.err = repository.ErrConstraintViolation
	require.NoError(t, h.processor.Handle(context.Background(), vendorReply("r1@acme.com")))
}

func TestProcessorUnparseableMessageIsTerminal(t *testing.T) {
	h := newProcessorHarness(t)
	require.NoError(t, h.processor.Handle(context.Background(), &connector.FetchedMessage{UID: "3", Raw: []byte{}}))
	require.Empty(t, h.proposals.upserts)
}

func TestProcessorStatusUntouchedWhenAlreadyResponding(t *testing.T) {
	h := newProcessorHarness(t)
	h.rfps.rfps[testRFPID].Status = models.RFPStatusResponding

	require.NoError(t, h.processor.Handle(context.Background(), vendorReply("r1@acme.com")))
	require.Len(t, h.proposals.upserts, 1)
	_, touched := h.rfps.statuses[testRFPID]
	require.False(t, touched)
}
