package insight

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/allenheltondev/dirt-man/internal/domain"
)

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	profile := &domain.DeviceProfile{
		HardwareID:            "dev-1",
		PlantType:             "monstera",
		SoilType:              "potting mix",
		PotSizeLiters:         5,
		BaselineMoistureRange: &domain.MoistureRange{Min: 32, Max: 48},
	}

	hourly := domain.Aggregate{
		HardwareID:    "dev-1",
		WindowType:    domain.WindowHourly,
		WindowStartMS: 3600000,
		Temperature: domain.SensorStats{
			ValidCount: 12,
			Avg:        domain.Ptr(21.5),
			Min:        domain.Ptr(20.0),
			Max:        domain.Ptr(23.0),
		},
	}

	ev := Evidence{
		HardwareID: "dev-1",
		Hourlies:   []domain.Aggregate{hourly},
		Events: []domain.Event{
			{HardwareID: "dev-1", Type: domain.EventWatering, StartTimeMS: 1000},
		},
		Profile:    profile,
		ValidHours: 1,
	}

	prompt := BuildPrompt(ev)

	assert.Contains(t, prompt, "type=monstera")
	assert.Contains(t, prompt, "32.0% to 48.0%")
	assert.Contains(t, prompt, "temperature avg=21.5 range=[20.0,23.0]")
	assert.Contains(t, prompt, string(domain.EventWatering))
	assert.Contains(t, prompt, "strict JSON")
	assert.Contains(t, prompt, "Never diagnose diseases")
}

func TestBuildPromptWithoutProfile(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt(Evidence{HardwareID: "dev-2"})

	assert.NotContains(t, prompt, "Plant profile")
	assert.Contains(t, prompt, "0 hourly aggregates")
}

func TestBuildPromptSkipsEmptySensors(t *testing.T) {
	t.Parallel()

	ev := Evidence{
		Hourlies: []domain.Aggregate{{
			WindowStartMS: 0,
			Humidity:      domain.SensorStats{ValidCount: 3, Avg: domain.Ptr(55.0)},
		}},
		ValidHours: 0,
	}

	prompt := BuildPrompt(ev)

	assert.Contains(t, prompt, "humidity avg=55.0")
	assert.NotContains(t, prompt, "temperature avg")
}
