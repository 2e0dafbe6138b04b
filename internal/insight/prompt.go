package insight

import (
	"fmt"
	"strings"

	"github.com/allenheltondev/dirt-man/internal/domain"
)

// Evidence is the material the prompt is built from.
type Evidence struct {
	HardwareID string
	Hourlies   []domain.Aggregate
	Weeklies   []domain.Aggregate
	Events     []domain.Event
	Profile    *domain.DeviceProfile
	ValidHours int
}

// BuildPrompt renders the evidence into the model instruction. The
// prompt demands strict JSON and forbids disease diagnosis.
func BuildPrompt(ev Evidence) string {
	var b strings.Builder

	b.WriteString("You are a plant care assistant analyzing sensor telemetry for one device.\n\n")

	if ev.Profile != nil {
		fmt.Fprintf(&b, "Plant profile: type=%s soil=%s pot_liters=%.1f\n",
			orUnknown(ev.Profile.PlantType), orUnknown(ev.Profile.SoilType), ev.Profile.PotSizeLiters)

		if ev.Profile.BaselineMoistureRange != nil {
			fmt.Fprintf(&b, "Learned moisture baseline: %.1f%% to %.1f%%\n",
				ev.Profile.BaselineMoistureRange.Min, ev.Profile.BaselineMoistureRange.Max)
		}
	}

	fmt.Fprintf(&b, "\nLast 24h: %d hourly aggregates (%d with valid temperature data).\n",
		len(ev.Hourlies), ev.ValidHours)

	for _, a := range ev.Hourlies {
		writeStatLine(&b, a)
	}

	if len(ev.Events) > 0 {
		fmt.Fprintf(&b, "\nEvents in the last 24h:\n")

		for _, e := range ev.Events {
			fmt.Fprintf(&b, "- %s at %d\n", e.Type, e.StartTimeMS)
		}
	}

	if len(ev.Weeklies) > 0 {
		b.WriteString("\n7-day trend aggregates:\n")

		for _, a := range ev.Weeklies {
			writeStatLine(&b, a)
		}
	}

	b.WriteString(`
Respond with strict JSON only, no prose around it, matching:
{"summary": string, "recommendations": [{"action": string, "reason": string, "urgency": "low"|"medium"|"high"}], "confidence": "low"|"medium"|"high", "trend": "improving"|"declining"|"stable", "growth_stage_suggestion": string (optional)}

Never diagnose diseases, infections, or pathogens; describe only watering, light, temperature, and humidity care.
`)

	return b.String()
}

func writeStatLine(b *strings.Builder, a domain.Aggregate) {
	fmt.Fprintf(b, "- window %d:", a.WindowStartMS)

	for _, name := range domain.SensorNames() {
		st := a.Stat(name)
		if st.ValidCount == 0 || st.Avg == nil {
			continue
		}

		fmt.Fprintf(b, " %s avg=%.1f", name, *st.Avg)

		if st.Min != nil && st.Max != nil {
			fmt.Fprintf(b, " range=[%.1f,%.1f]", *st.Min, *st.Max)
		}
	}

	b.WriteString("\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}
