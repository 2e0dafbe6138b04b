package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/allenheltondev/dirt-man/internal/devstatus"
	"github.com/allenheltondev/dirt-man/internal/domain"
	"github.com/allenheltondev/dirt-man/internal/store"
	"github.com/allenheltondev/dirt-man/internal/timeutil"
	"github.com/allenheltondev/dirt-man/pkg/clock"
)

// Evidence gates.
const (
	// DefaultBatchSize bounds one generator tick.
	DefaultBatchSize = 10

	// minValidHours is the fail-fast floor of hourly evidence.
	minValidHours = 6

	// lowConfidenceHours forces confidence=low and a caveat below it.
	lowConfidenceHours = 12
)

// ErrInsufficientData indicates too little hourly evidence to generate.
var ErrInsufficientData = errors.New("insight: insufficient data")

// Generator drains pending insight requests through the LLM.
type Generator struct {
	requests   store.RequestStore
	aggregates store.AggregateStore
	events     store.EventStore
	profiles   store.ProfileStore
	insights   store.InsightStore
	maintainer *devstatus.Maintainer
	llm        Client
	clock      clock.Clock
	log        *slog.Logger
	batchSize  int
}

// NewGenerator wires an insight generator. A nil llm client selects the
// degraded mode: canned low-confidence placeholders instead of calls.
func NewGenerator(
	requests store.RequestStore,
	aggregates store.AggregateStore,
	events store.EventStore,
	profiles store.ProfileStore,
	insights store.InsightStore,
	maintainer *devstatus.Maintainer,
	llm Client,
	clk clock.Clock,
	log *slog.Logger,
	batchSize int,
) *Generator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Generator{
		requests:   requests,
		aggregates: aggregates,
		events:     events,
		profiles:   profiles,
		insights:   insights,
		maintainer: maintainer,
		llm:        llm,
		clock:      clk,
		log:        log,
		batchSize:  batchSize,
	}
}

// ProcessPending fetches a batch of pending requests and executes the
// ones whose claim CAS this worker wins. A losing claim advances
// silently; a terminal failure marks the request failed with a
// truncated cause.
func (g *Generator) ProcessPending(ctx context.Context) error {
	batch, err := g.requests.PendingBatch(ctx, g.batchSize)
	if err != nil {
		return fmt.Errorf("pending batch: %w", err)
	}

	for _, req := range batch {
		nowMS := clock.NowMS(g.clock)

		claimed, err := g.requests.Claim(ctx, req.HardwareID, req.RequestTimeMS, nowMS)
		if err != nil {
			g.log.WarnContext(ctx, "request claim failed",
				slog.String("hardware_id", req.HardwareID),
				slog.Any("error", err),
			)

			continue
		}

		if !claimed {
			continue
		}

		g.execute(ctx, req)
	}

	return nil
}

// execute runs one claimed request end to end under the overall budget.
func (g *Generator) execute(ctx context.Context, req domain.InsightRequest) {
	genCtx, cancel := context.WithTimeout(ctx, llmOverallTimeout)
	defer cancel()

	startMS := clock.NowMS(g.clock)

	ins, err := g.generate(genCtx, req.HardwareID)
	doneMS := clock.NowMS(g.clock)

	if err != nil {
		g.log.WarnContext(ctx, "insight generation failed",
			slog.String("hardware_id", req.HardwareID),
			slog.Any("error", err),
		)

		if finishErr := g.requests.Finish(ctx, req.HardwareID, req.RequestTimeMS, domain.RequestFailed, truncateError(err.Error()), doneMS); finishErr != nil {
			g.log.ErrorContext(ctx, "request finish failed", slog.Any("error", finishErr))
		}

		return
	}

	ins.GenerationDurationMS = doneMS - startMS

	if err := g.insights.Put(ctx, ins); err != nil {
		g.log.ErrorContext(ctx, "insight persist failed", slog.Any("error", err))

		if finishErr := g.requests.Finish(ctx, req.HardwareID, req.RequestTimeMS, domain.RequestFailed, truncateError(err.Error()), doneMS); finishErr != nil {
			g.log.ErrorContext(ctx, "request finish failed", slog.Any("error", finishErr))
		}

		return
	}

	g.maintainer.ApplyInsight(ctx, req.HardwareID, devstatus.InsightFields{
		LastInsightGeneratedAtMS: doneMS,
	})

	if err := g.requests.Finish(ctx, req.HardwareID, req.RequestTimeMS, domain.RequestDone, "", doneMS); err != nil {
		g.log.ErrorContext(ctx, "request finish failed", slog.Any("error", err))
	}
}

// generate gathers the evidence, applies the data gates, calls the
// model, and sanitizes the result into a persistable insight.
func (g *Generator) generate(ctx context.Context, hardwareID string) (domain.Insight, error) {
	nowMS := clock.NowMS(g.clock)

	ev, err := g.gatherEvidence(ctx, hardwareID, nowMS)
	if err != nil {
		return domain.Insight{}, err
	}

	if ev.ValidHours < minValidHours {
		return domain.Insight{}, fmt.Errorf("%w: %d valid hours", ErrInsufficientData, ev.ValidHours)
	}

	parsed, model, err := g.complete(ctx, ev)
	if err != nil {
		return domain.Insight{}, err
	}

	parsed = Sanitize(parsed)

	if ev.ValidHours < lowConfidenceHours {
		parsed.Confidence = domain.ConfidenceLow
		parsed.Summary = fmt.Sprintf("Insufficient data (only %d hours of valid readings). %s", ev.ValidHours, parsed.Summary)
	}

	return domain.Insight{
		HardwareID:            hardwareID,
		TimestampMS:           nowMS,
		Summary:               parsed.Summary,
		Recommendations:       parsed.Recommendations,
		Confidence:            parsed.Confidence,
		Trend:                 parsed.Trend,
		GrowthStageSuggestion: parsed.GrowthStageSuggestion,
		Evidence: domain.InsightEvidence{
			AggregateCount: len(ev.Hourlies),
			ValidHours:     ev.ValidHours,
			EventCount:     len(ev.Events),
			Profile:        ev.Profile,
		},
		Model: model,
	}, nil
}

// complete calls the model, or produces the degraded placeholder when
// no client is configured.
func (g *Generator) complete(ctx context.Context, ev Evidence) (llmInsight, string, error) {
	if g.llm == nil {
		return placeholderInsight(), "", nil
	}

	content, err := g.llm.Complete(ctx, BuildPrompt(ev))
	if err != nil {
		return llmInsight{}, "", fmt.Errorf("completion: %w", err)
	}

	parsed, err := ParseResponse(content)
	if err != nil {
		return llmInsight{}, "", err
	}

	return parsed, g.llm.Model(), nil
}

func (g *Generator) gatherEvidence(ctx context.Context, hardwareID string, nowMS int64) (Evidence, error) {
	hourlies, err := g.aggregates.ListRange(ctx, hardwareID, domain.WindowHourly, nowMS-timeutil.DayMS, nowMS)
	if err != nil {
		return Evidence{}, fmt.Errorf("hourly evidence: %w", err)
	}

	weeklies, err := g.aggregates.ListRange(ctx, hardwareID, domain.WindowDaily, nowMS-timeutil.WeekMS, nowMS)
	if err != nil {
		return Evidence{}, fmt.Errorf("trend evidence: %w", err)
	}

	events, err := g.events.ListSince(ctx, hardwareID, nowMS-timeutil.DayMS, 0)
	if err != nil {
		return Evidence{}, fmt.Errorf("event evidence: %w", err)
	}

	var profile *domain.DeviceProfile

	p, err := g.profiles.Get(ctx, hardwareID)

	switch {
	case err == nil:
		profile = &p
	case !errors.Is(err, store.ErrNotFound):
		return Evidence{}, fmt.Errorf("profile evidence: %w", err)
	}

	validHours := 0

	for _, a := range hourlies {
		if a.Temperature.ValidCount > 0 {
			validHours++
		}
	}

	return Evidence{
		HardwareID: hardwareID,
		Hourlies:   hourlies,
		Weeklies:   weeklies,
		Events:     events,
		Profile:    profile,
		ValidHours: validHours,
	}, nil
}

// placeholderInsight is the degraded-mode output when no API key is
// configured. Low confidence, generic care guidance, never a failure.
func placeholderInsight() llmInsight {
	return llmInsight{
		Summary: "Automated analysis is not configured; telemetry was collected normally. " +
			"Review the recent moisture and temperature trends manually.",
		Recommendations: []domain.Recommendation{
			{
				Action:  "Check soil moisture against the learned baseline",
				Reason:  "No model-backed analysis was available for this period",
				Urgency: "low",
			},
		},
		Confidence: domain.ConfidenceLow,
		Trend:      domain.TrendStable,
	}
}

// truncateError bounds a stored failure message.
func truncateError(msg string) string {
	if len(msg) > domain.MaxErrorMessageLen {
		return msg[:domain.MaxErrorMessageLen]
	}

	return msg
}
