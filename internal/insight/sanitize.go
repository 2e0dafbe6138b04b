package insight

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	"github.com/allenheltondev/dirt-man/internal/domain"
)

// replacementWord substitutes any disallowed diagnosis keyword.
const replacementWord = "condition"

// disallowedKeywords are never surfaced to users; the prompt forbids
// disease diagnosis and this is the backstop.
var disallowedKeywords = []string{
	"disease", "infection", "pathogen", "fungus", "bacteria",
	"virus", "blight", "rot", "mold",
}

var keywordPatterns = compileKeywordPatterns()

func compileKeywordPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(disallowedKeywords))
	for _, kw := range disallowedKeywords {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+kw))
	}

	return patterns
}

// responseSchema validates the model's JSON payload before any field is
// trusted.
const responseSchema = `{
  "type": "object",
  "required": ["summary", "recommendations", "confidence", "trend"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "recommendations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action", "reason", "urgency"],
        "properties": {
          "action": {"type": "string"},
          "reason": {"type": "string"},
          "urgency": {"type": "string"}
        }
      }
    },
    "confidence": {"enum": ["low", "medium", "high"]},
    "trend": {"enum": ["improving", "declining", "stable"]},
    "growth_stage_suggestion": {"type": "string"}
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(responseSchema)

// llmInsight is the parsed shape of a model response.
type llmInsight struct {
	Summary               string                  `json:"summary"`
	Recommendations       []domain.Recommendation `json:"recommendations"`
	Confidence            domain.Confidence       `json:"confidence"`
	Trend                 domain.Trend            `json:"trend"`
	GrowthStageSuggestion string                  `json:"growth_stage_suggestion,omitempty"`
}

// ParseResponse validates and decodes the model's JSON content.
func ParseResponse(content string) (llmInsight, error) {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewStringLoader(content))
	if err != nil {
		return llmInsight{}, fmt.Errorf("validate response: %w", err)
	}

	if !result.Valid() {
		return llmInsight{}, fmt.Errorf("response schema: %v", result.Errors())
	}

	var parsed llmInsight
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return llmInsight{}, fmt.Errorf("decode response: %w", err)
	}

	return parsed, nil
}

// Sanitize scrubs disallowed keywords from the user-facing fields.
func Sanitize(ins llmInsight) llmInsight {
	ins.Summary = SanitizeText(ins.Summary)

	for i := range ins.Recommendations {
		ins.Recommendations[i].Action = SanitizeText(ins.Recommendations[i].Action)
		ins.Recommendations[i].Reason = SanitizeText(ins.Recommendations[i].Reason)
	}

	return ins
}

// SanitizeText replaces every disallowed keyword, case-insensitively.
func SanitizeText(s string) string {
	for _, pattern := range keywordPatterns {
		s = pattern.ReplaceAllString(s, replacementWord)
	}

	return s
}
