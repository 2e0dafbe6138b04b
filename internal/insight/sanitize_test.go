package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenheltondev/dirt-man/internal/domain"
)

func TestParseResponse(t *testing.T) {
	t.Parallel()

	t.Run("valid payload decodes", func(t *testing.T) {
		t.Parallel()

		content := `{
			"summary": "Soil moisture is trending down.",
			"recommendations": [
				{"action": "Water the plant", "reason": "Moisture below baseline", "urgency": "medium"}
			],
			"confidence": "high",
			"trend": "declining",
			"growth_stage_suggestion": "vegetative"
		}`

		parsed, err := ParseResponse(content)
		require.NoError(t, err)

		assert.Equal(t, "Soil moisture is trending down.", parsed.Summary)
		require.Len(t, parsed.Recommendations, 1)
		assert.Equal(t, "Water the plant", parsed.Recommendations[0].Action)
		assert.Equal(t, domain.ConfidenceHigh, parsed.Confidence)
		assert.Equal(t, domain.TrendDeclining, parsed.Trend)
		assert.Equal(t, "vegetative", parsed.GrowthStageSuggestion)
	})

	t.Run("rejects unknown confidence", func(t *testing.T) {
		t.Parallel()

		_, err := ParseResponse(`{"summary": "ok", "recommendations": [], "confidence": "certain", "trend": "stable"}`)
		assert.Error(t, err)
	})

	t.Run("rejects missing summary", func(t *testing.T) {
		t.Parallel()

		_, err := ParseResponse(`{"recommendations": [], "confidence": "low", "trend": "stable"}`)
		assert.Error(t, err)
	})

	t.Run("rejects non-JSON prose", func(t *testing.T) {
		t.Parallel()

		_, err := ParseResponse("Sure! Here is your analysis.")
		assert.Error(t, err)
	})
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	ins := llmInsight{
		Summary: "Possible fungus developing; also watch for Root Rot.",
		Recommendations: []domain.Recommendation{
			{
				Action:  "Treat the MOLD",
				Reason:  "High humidity can encourage a pathogen",
				Urgency: "high",
			},
		},
		Confidence: domain.ConfidenceMedium,
		Trend:      domain.TrendDeclining,
	}

	out := Sanitize(ins)

	assert.Equal(t, "Possible condition developing; also watch for Root condition.", out.Summary)
	assert.Equal(t, "Treat the condition", out.Recommendations[0].Action)
	assert.Equal(t, "High humidity can encourage a condition", out.Recommendations[0].Reason)
	assert.Equal(t, "high", out.Recommendations[0].Urgency)
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean text untouched", "Increase watering frequency slightly.", "Increase watering frequency slightly."},
		{"case insensitive", "Signs of DISEASE and Blight", "Signs of condition and condition"},
		{"multiple keywords", "bacteria or virus or mold", "condition or condition or condition"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, SanitizeText(tt.in))
		})
	}
}
