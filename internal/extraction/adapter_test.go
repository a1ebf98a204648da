package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/rfpflow-io/rfpflow-ce/internal/config"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

type fakeChatClient struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: f.content},
		}},
	}, nil
}

func newTestAdapter(client chatCompleter) *Adapter {
	return NewAdapter(
		config.ExtractionConfig{Model: "gpt-4o-mini"},
		WithAdapterClient(client),
		WithAdapterLogger(log.New(io.Discard, "", 0)),
	)
}

func TestExtractProposalFields(t *testing.T) {
	client := &fakeChatClient{content: `{
		"totalPrice": 45000,
		"currency": "USD",
		"paymentTerms": "Net 30",
		"deliveryTimeline": "6 weeks",
		"warranty": "2 years",
		"items": [{"item": "Laptop", "quantity": 30, "unitPrice": 1500, "totalPrice": 45000}],
		"additionalNotes": null
	}`}
	a := newTestAdapter(client)

	rfp := &models.RFP{ID: "64b7f0c1a2e4f1a2b3c4d5e6", Title: "Office Laptops"}
	fields, err := a.Extract(context.Background(), rfp, "our quote is attached")
	require.NoError(t, err)
	require.NotNil(t, fields.TotalPrice)
	require.Equal(t, 45000.0, *fields.TotalPrice)
	require.Equal(t, "USD", *fields.Currency)
	require.Len(t, fields.Items, 1)
	require.Nil(t, fields.AdditionalNotes)
	require.Equal(t, "gpt-4o-mini", client.lastReq.Model)
}

func TestExtractToleratesFencedOutput(t *testing.T) {
	client := &fakeChatClient{content: "```json\n{\"totalPrice\": null, \"currency\": null, \"paymentTerms\": null, \"deliveryTimeline\": null, \"warranty\": null, \"items\": [], \"additionalNotes\": \"call me\"}\n```"}
	a := newTestAdapter(client)

	fields, err := a.Extract(context.Background(), &models.RFP{Title: "x"}, "body")
	require.NoError(t, err)
	require.Nil(t, fields.TotalPrice)
	require.Equal(t, "call me", *fields.AdditionalNotes)
}

func TestExtractRejectsInvalidShape(t *testing.T) {
	client := &fakeChatClient{content: `{"totalPrice": "a lot"}`}
	a := newTestAdapter(client)

	_, err := a.Extract(context.Background(), &models.RFP{Title: "x"}, "body")
	require.Error(t, err)
}

func TestExtractNoContent(t *testing.T) {
	client := &fakeChatClient{content: "I could not find any proposal data."}
	a := newTestAdapter(client)

	_, err := a.Extract(context.Background(), &models.RFP{Title: "x"}, "body")
	require.ErrorIs(t, err, ErrNoContent)
}

func TestExtractPropagatesClientError(t *testing.T) {
	client := &fakeChatClient{err: errors.New("upstream 503")}
	a := newTestAdapter(client)

	_, err := a.Extract(context.Background(), &models.RFP{Title: "x"}, "body")
	require.ErrorContains(t, err, "upstream 503")
}

func TestScoreProposal(t *testing.T) {
	client := &fakeChatClient{content: `{
		"priceScore": 8, "termsScore": 7, "deliveryScore": 9,
		"warrantyScore": 6, "paymentScore": 7, "completenessScore": 9,
		"overallScore": 7.7, "total": 46,
		"aiRecommendation": "Strong offer, warranty below requirement."
	}`}
	a := newTestAdapter(client)

	scoring, err := a.Score(context.Background(), &models.RFP{Title: "x"}, models.ProposalFields{})
	require.NoError(t, err)
	require.Equal(t, 7.7, scoring.OverallScore)
	require.Equal(t, 46.0, scoring.Total)
	require.NotEmpty(t, scoring.AIRecommendation)
}

func TestScoreRejectsMissingFields(t *testing.T) {
	client := &fakeChatClient{content: `{"priceScore": 8}`}
	a := newTestAdapter(client)

	_, err := a.Score(context.Background(), &models.RFP{Title: "x"}, models.ProposalFields{})
	require.Error(t, err)
}

func TestGenerateRFP(t *testing.T) {
	client := &fakeChatClient{content: `{
		"title": "Office Laptops",
		"descriptionRaw": "30 laptops for the new office",
		"descriptionStructured": {
			"budget": 50000, "currency": "USD", "currencySymbol": "$",
			"deliveryTimeline": "8 weeks", "paymentTerms": "Net 30", "warranty": "2 years",
			"items": [{"item": "Laptop", "quantity": 30, "specs": null}]
		}
	}`}
	a := newTestAdapter(client)

	draft, err := a.GenerateRFP(context.Background(), "30 laptops for the new office")
	require.NoError(t, err)
	require.Equal(t, "Office Laptops", draft.Title)
	require.NotNil(t, draft.DescriptionStructured.Budget)
	require.Equal(t, 50000.0, *draft.DescriptionStructured.Budget)
	require.Len(t, draft.DescriptionStructured.Items, 1)
}

func TestAdapterAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Content: `{"totalPrice": 100, "currency": "EUR", "paymentTerms": null, "deliveryTimeline": null, "warranty": null, "items": [], "additionalNotes": null}`,
				},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	a := NewAdapter(
		config.ExtractionConfig{BaseURL: srv.URL, APIKey: "test", Model: "gpt-4o-mini"},
		WithAdapterLogger(log.New(io.Discard, "", 0)),
	)
	fields, err := a.Extract(context.Background(), &models.RFP{Title: "x"}, "body")
	require.NoError(t, err)
	require.Equal(t, 100.0, *fields.TotalPrice)
	require.Equal(t, "EUR", *fields.Currency)
}
