package extraction

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Response schemas the model output is validated against before anything is
// unmarshaled into a typed struct. Keeping validation separate from decoding
// gives field-level error messages instead of a single unmarshal failure.

const proposalFieldsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["totalPrice", "currency", "paymentTerms", "deliveryTimeline", "warranty", "additionalNotes"],
  "properties": {
    "totalPrice": {"type": ["number", "null"]},
    "currency": {"type": ["string", "null"]},
    "paymentTerms": {"type": ["string", "null"]},
    "deliveryTimeline": {"type": ["string", "null"]},
    "warranty": {"type": ["string", "null"]},
    "items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["item"],
        "properties": {
          "item": {"type": "string"},
          "quantity": {"type": ["number", "null"]},
          "unitPrice": {"type": ["number", "null"]},
          "totalPrice": {"type": ["number", "null"]}
        }
      }
    },
    "additionalNotes": {"type": ["string", "null"]}
  }
}`

const proposalScoringSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["priceScore", "termsScore", "deliveryScore", "warrantyScore", "paymentScore", "completenessScore", "overallScore", "total", "aiRecommendation"],
  "properties": {
    "priceScore": {"type": "number"},
    "termsScore": {"type": "number"},
    "deliveryScore": {"type": "number"},
    "warrantyScore": {"type": "number"},
    "paymentScore": {"type": "number"},
    "completenessScore": {"type": "number"},
    "overallScore": {"type": "number"},
    "total": {"type": "number"},
    "aiRecommendation": {"type": "string"}
  }
}`

const rfpDraftSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "descriptionRaw", "descriptionStructured"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "descriptionRaw": {"type": "string"},
    "descriptionStructured": {
      "type": "object",
      "properties": {
        "budget": {"type": ["number", "null"]},
        "currency": {"type": ["string", "null"]},
        "currencySymbol": {"type": ["string", "null"]},
        "deliveryTimeline": {"type": ["string", "null"]},
        "paymentTerms": {"type": ["string", "null"]},
        "warranty": {"type": ["string", "null"]},
        "items": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["item"],
            "properties": {
              "item": {"type": "string"},
              "quantity": {"type": ["number", "null"]}
            }
          }
        }
      }
    }
  }
}`

var (
	fieldsSchema  = gojsonschema.NewStringLoader(proposalFieldsSchema)
	scoringSchema = gojsonschema.NewStringLoader(proposalScoringSchema)
	draftSchema   = gojsonschema.NewStringLoader(rfpDraftSchema)
)

func validateAgainst(schema gojsonschema.JSONLoader, document string) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewStringLoader(document))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}
	reasons := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return fmt.Errorf("response failed schema validation: %s", strings.Join(reasons, "; "))
}
