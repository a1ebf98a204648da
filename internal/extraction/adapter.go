// Package extraction calls a chat-completion model to turn free text into
// structured procurement data: RFP drafts from buyer descriptions, proposal
// fields from vendor reply bodies, and scores for stored proposals.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/rfpflow-io/rfpflow-ce/internal/config"
	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

// ErrNoContent marks a completion that came back without any usable text.
var ErrNoContent = errors.New("model returned no content")

const defaultTimeout = 60 * time.Second

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Adapter wraps the model client. All methods are synchronous and bounded by
// the configured timeout; callers decide what a failure means for their
// message.
type Adapter struct {
	client  chatCompleter
	model   string
	timeout time.Duration
	logger  *log.Logger
}

// AdapterOption customizes Adapter.
type AdapterOption func(*Adapter)

// NewAdapter builds an extraction adapter from configuration. A custom
// BaseURL points the client at a proxy or a local stand-in.
func NewAdapter(cfg config.ExtractionConfig, opts ...AdapterOption) *Adapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	a := &Adapter{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  log.Default(),
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// WithAdapterLogger overrides the logger used for request diagnostics.
func WithAdapterLogger(logger *log.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAdapterClient swaps the underlying chat client, primarily for tests.
func WithAdapterClient(client chatCompleter) AdapterOption {
	return func(a *Adapter) {
		if client != nil {
			a.client = client
		}
	}
}

// GenerateRFP structures a natural-language procurement description into an
// RFP draft.
func (a *Adapter) GenerateRFP(ctx context.Context, description string) (*models.RFPDraft, error) {
	prompt := fmt.Sprintf(`You convert natural language procurement requirements into STRICT RAW JSON.

IMPORTANT RULES:
- DO NOT wrap the response in a code block.
- DO NOT add markdown.
- DO NOT add explanations.
- Output MUST be ONLY valid JSON.
- Null missing fields.

Schema:
{
  "title": string,
  "descriptionRaw": string,
  "descriptionStructured": {
    "budget": number | null,
    "currency": string | null,
    "currencySymbol": string | null,
    "deliveryTimeline": string | null,
    "paymentTerms": string | null,
    "warranty": string | null,
    "items": [
      {
        "item": string,
        "quantity": number,
        "specs": string | null
      }
    ]
  }
}

User description:
%q`, description)

	raw, err := a.complete(ctx, "generate_rfp",
		"You convert natural-language procurement text into a structured JSON RFP object following the provided schema.",
		prompt)
	if err != nil {
		return nil, err
	}
	if err := validateAgainst(draftSchema, raw); err != nil {
		return nil, err
	}
	var draft models.RFPDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return nil, fmt.Errorf("decode rfp draft: %w", err)
	}
	if draft.DescriptionRaw == "" {
		draft.DescriptionRaw = description
	}
	return &draft, nil
}

// Extract pulls structured proposal fields out of a vendor reply body.
func (a *Adapter) Extract(ctx context.Context, rfp *models.RFP, body string) (models.ProposalFields, error) {
	prompt := fmt.Sprintf(`Extract proposal information from the vendor's email.
Return STRICT RAW JSON with NO markdown or code blocks.

OUTPUT SCHEMA:
{
  "totalPrice": number | null,
  "currency": string | null,
  "paymentTerms": string | null,
  "deliveryTimeline": string | null,
  "warranty": string | null,
  "items": [
    {
      "item": string,
      "quantity": number | null,
      "unitPrice": number | null,
      "totalPrice": number | null
    }
  ],
  "additionalNotes": string | null
}

RFP title: %s

Email body:
"""
%s
"""`, rfp.Title, body)

	var fields models.ProposalFields
	raw, err := a.complete(ctx, "extract_proposal",
		"You extract structured procurement proposals from unstructured vendor emails. Output only clean JSON.",
		prompt)
	if err != nil {
		return fields, err
	}
	if err := validateAgainst(fieldsSchema, raw); err != nil {
		return fields, err
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fields, fmt.Errorf("decode proposal fields: %w", err)
	}
	return fields, nil
}

// Score evaluates one proposal against its RFP, independently of any other
// vendor's offer.
func (a *Adapter) Score(ctx context.Context, rfp *models.RFP, fields models.ProposalFields) (models.ProposalScoring, error) {
	var scoring models.ProposalScoring
	rfpJSON, err := json.MarshalIndent(rfp.DescriptionStructured, "", "  ")
	if err != nil {
		return scoring, fmt.Errorf("encode rfp details: %w", err)
	}
	fieldsJSON, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return scoring, fmt.Errorf("encode proposal fields: %w", err)
	}

	prompt := fmt.Sprintf(`You are an expert procurement evaluator.

Your job:
Evaluate ONE vendor's proposal based ONLY on the RFP requirements.
Do NOT compare with other vendors.
Just score this proposal independently.

Return STRICT RAW JSON.
NO markdown.
NO code blocks.
NO extra explanation outside JSON.

OUTPUT SCHEMA:
{
  "priceScore": number,
  "termsScore": number,
  "deliveryScore": number,
  "overallScore": number,
  "aiRecommendation": string,
  "warrantyScore": number,
  "paymentScore": number,
  "completenessScore": number,
  "total": number
}

SCORING RULE GUIDELINES (use judgement):
- Lower price means a higher score.
- Delivery closer to the RFP requirement means a higher score.
- Warranty equal to or longer than the RFP asks means a higher score.
- Favorable payment terms (net > 30) mean a higher score.
- Missing or unclear fields reduce the completeness score.

RFP DETAILS:
%s

VENDOR PROPOSAL:
%s`, rfpJSON, fieldsJSON)

	raw, err := a.complete(ctx, "score_proposal",
		"You evaluate vendor proposals and output ONLY strict JSON with scoring fields.",
		prompt)
	if err != nil {
		return scoring, err
	}
	if err := validateAgainst(scoringSchema, raw); err != nil {
		return scoring, err
	}
	if err := json.Unmarshal([]byte(raw), &scoring); err != nil {
		return scoring, fmt.Errorf("decode scoring: %w", err)
	}
	return scoring, nil
}

func (a *Adapter) complete(ctx context.Context, operation, system, prompt string) (string, error) {
	requestID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s request %s: %w", operation, requestID, err)
	}
	a.logger.Printf("extraction: %s request %s completed in %s", operation, requestID, time.Since(started).Round(time.Millisecond))

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s request %s: %w", operation, requestID, ErrNoContent)
	}
	raw := extractJSON(resp.Choices[0].Message.Content)
	if raw == "" {
		return "", fmt.Errorf("%s request %s: %w", operation, requestID, ErrNoContent)
	}
	return raw, nil
}
