package healing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/otelhelper"
	"github.com/flowmend/flowmend/pkg/validation"
)

// ruleNames give each repair function a stable identity so a function shared
// by several categories runs at most once per pass.
var ruleNames = map[models.FixCategory]string{
	models.CategoryReadOnlyField:     "strip-readonly",
	models.CategoryMissingParameter:  "backfill-defaults",
	models.CategoryInvalidType:       "backfill-defaults",
	models.CategoryMissingID:         "backfill-defaults",
	models.CategoryInvalidPosition:   "backfill-defaults",
	models.CategoryInvalidConnection: "prune-connections",
	models.CategoryDuplicateName:     "dedupe-names",
	models.CategoryInvalidPath:       "normalize-paths",
}

// Engine applies deterministic repair rules to defective artifacts and
// reports what it could not fix.
type Engine struct {
	pipeline *validation.Pipeline
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewEngine creates a healing engine that re-validates with the given
// pipeline after every pass. A nil tracer disables tracing.
func NewEngine(pipeline *validation.Pipeline, logger *slog.Logger, tracer trace.Tracer) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("healing")
	}

	return &Engine{
		pipeline: pipeline,
		logger:   logger,
		tracer:   tracer,
	}
}

// Heal classifies the errors, applies every applicable repair rule in fixed
// order against a fresh copy of the artifact, re-validates, and reports
// remaining errors with recommendations. The input artifact is not modified.
func (e *Engine) Heal(ctx context.Context, artifact *models.Artifact, issues []models.ValidationIssue) *models.HealingResult {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "healing.pass",
		attribute.String(otelhelper.ArtifactNameKey, artifact.Name))
	defer span.End()

	grouped := classifyAll(issues)
	healed := artifact.Clone()

	result := &models.HealingResult{Healed: healed}

	ran := make(map[string]bool, len(rules))

	for _, rule := range rules {
		if _, present := grouped[rule.category]; !present {
			continue
		}

		name := ruleNames[rule.category]
		if ran[name] {
			continue
		}

		ran[name] = true
		result.AppliedFixes = append(result.AppliedFixes, rule.apply(healed)...)
	}

	report := e.pipeline.Validate(ctx, healed, validation.Options{})
	result.Remaining = append(result.Remaining, report.Errors...)

	// Errors whose category has no rule never reach the pipeline again
	// (engine rejections, unparsable upstream messages); carry them forward.
	for _, issue := range grouped[models.CategoryOther] {
		if !containsIssue(result.Remaining, issue) {
			result.Remaining = append(result.Remaining, issue)
		}
	}

	for _, issue := range grouped[models.CategoryCredential] {
		if !containsIssue(result.Remaining, issue) {
			result.Remaining = append(result.Remaining, issue)
		}
	}

	result.Recommendations = recommendations(result.Remaining)

	span.SetAttributes(
		attribute.Int("flowmend.healing.applied", len(result.AppliedFixes)),
		attribute.Int("flowmend.healing.remaining", len(result.Remaining)),
	)

	e.logger.InfoContext(ctx, "Healing pass finished",
		"applied", len(result.AppliedFixes),
		"remaining", len(result.Remaining))

	return result
}

// HealUntilValid chains healing passes until the artifact validates or the
// attempt budget is exhausted. Passes after the first only run when the
// previous pass still applied fixes; a pass that fixes nothing cannot make
// the next one succeed.
func (e *Engine) HealUntilValid(ctx context.Context, artifact *models.Artifact, issues []models.ValidationIssue, maxPasses int) *models.HealingResult {
	if maxPasses < 1 {
		maxPasses = 1
	}

	result := e.Heal(ctx, artifact, issues)

	for pass := 1; pass < maxPasses && len(result.Remaining) > 0 && len(result.AppliedFixes) > 0; pass++ {
		next := e.Heal(ctx, result.Healed, result.Remaining)
		if len(next.AppliedFixes) == 0 {
			next.AppliedFixes = result.AppliedFixes

			return next
		}

		next.AppliedFixes = append(result.AppliedFixes, next.AppliedFixes...)
		result = next
	}

	return result
}

func recommendations(remaining []models.ValidationIssue) []string {
	var out []string

	seen := make(map[models.FixCategory]bool)

	for _, issue := range remaining {
		category := Classify(issue)
		if seen[category] {
			continue
		}

		seen[category] = true

		switch category {
		case models.CategoryCredential:
			out = append(out, "configure credentials in the execution engine's credential store instead of embedding them in parameters")
		case models.CategoryMissingParameter:
			out = append(out, fmt.Sprintf("supply a value for the parameter referenced by: %s", issue.Message))
		case models.CategoryInvalidConnection:
			out = append(out, "review the artifact's connection map; an endpoint could not be repaired automatically")
		default:
			out = append(out, fmt.Sprintf("manual review required: %s", issue.Message))
		}
	}

	return out
}

func containsIssue(issues []models.ValidationIssue, candidate models.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Code == candidate.Code && issue.Message == candidate.Message {
			return true
		}
	}

	return false
}
