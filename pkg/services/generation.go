package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowmend/flowmend/pkg/healing"
	"github.com/flowmend/flowmend/pkg/llm"
	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/validation"
)

const defaultHealPasses = 3

const generationSystemPrompt = `You are a workflow generator. Produce a single JSON document describing
a workflow with the fields: name, nodes and connections. Each node has id,
name, type, typeVersion, position [x, y] and parameters. Exactly one node
must be a trigger (type prefixed with "trigger."). Connections map a source
node name to output kinds holding groups of {node, type, index} targets.
Return the JSON document and nothing else.`

// Generation produces workflow artifacts from natural-language intents and
// repairs externally supplied documents into validated artifacts.
type Generation struct {
	llm       llm.Client
	repairer  *healing.TextRepairer
	pipeline  *validation.Pipeline
	healer    *healing.Engine
	logger    *slog.Logger
	maxPasses int
}

// NewGeneration creates a new generation service. maxHealPasses <= 0 selects
// the default.
func NewGeneration(
	llmClient llm.Client,
	repairer *healing.TextRepairer,
	pipeline *validation.Pipeline,
	healer *healing.Engine,
	logger *slog.Logger,
	maxHealPasses int,
) *Generation {
	if maxHealPasses <= 0 {
		maxHealPasses = defaultHealPasses
	}

	return &Generation{
		llm:       llmClient,
		repairer:  repairer,
		pipeline:  pipeline,
		healer:    healer,
		logger:    logger,
		maxPasses: maxHealPasses,
	}
}

// GenerateRequest describes one generation call.
type GenerateRequest struct {
	// Intent is the natural-language description of the desired workflow.
	Intent string `validate:"required"`
	// Name overrides the generated artifact name when set.
	Name string
	// StrictMode treats validation warnings as errors.
	StrictMode bool
	// IncludeAIAnalysis adds the semantic plausibility stage to validation.
	IncludeAIAnalysis bool
}

// GenerateResponse carries the validated artifact and everything that
// happened on the way to it.
type GenerateResponse struct {
	Artifact        *models.Artifact         `json:"artifact"`
	Report          *models.ValidationReport `json:"report"`
	RepairNotes     []string                 `json:"repair_notes,omitempty"`
	AppliedFixes    []string                 `json:"applied_fixes,omitempty"`
	Recommendations []string                 `json:"recommendations,omitempty"`
	TokensUsed      int                      `json:"tokens_used"`
}

// GenerateAndValidate asks the language model for a workflow document, parses
// and repairs it, then validates and heals the result. The response is
// returned even when the final report is invalid; the caller decides what an
// unfixable artifact means for it.
func (g *Generation) GenerateAndValidate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if strings.TrimSpace(req.Intent) == "" {
		return nil, ErrIntentRequired
	}

	if g.llm == nil {
		return nil, ErrGenerationUnavailable
	}

	completion, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: generationSystemPrompt},
			{Role: "user", Content: req.Intent},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate workflow: %w", err)
	}

	response, err := g.finish(ctx, completion.Text, req)
	if err != nil {
		return nil, err
	}

	response.TokensUsed += completion.TokensUsed

	return response, nil
}

// RepairAndValidate takes a raw document from outside, repairs it into a
// parseable artifact and runs validation plus healing over it.
func (g *Generation) RepairAndValidate(ctx context.Context, raw string, req GenerateRequest) (*GenerateResponse, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrDocumentRequired
	}

	return g.finish(ctx, raw, req)
}

func (g *Generation) finish(ctx context.Context, raw string, req GenerateRequest) (*GenerateResponse, error) {
	artifact, notes, err := g.repairer.Repair(ctx, raw)
	if err != nil {
		if errors.Is(err, healing.ErrUnrepairable) {
			return nil, fmt.Errorf("%w: %w", ErrArtifactIrreparable, err)
		}

		return nil, fmt.Errorf("repair document: %w", err)
	}

	if req.Name != "" {
		artifact.Name = req.Name
	}

	opts := validation.Options{
		StrictMode:        req.StrictMode,
		IncludeAIAnalysis: req.IncludeAIAnalysis,
	}

	report := g.pipeline.Validate(ctx, artifact, opts)

	response := &GenerateResponse{
		Artifact:    artifact,
		Report:      report,
		RepairNotes: notes,
	}

	if report.Valid {
		return response, nil
	}

	result := g.healer.HealUntilValid(ctx, artifact, report.Errors, g.maxPasses)
	response.Artifact = result.Healed
	response.AppliedFixes = result.AppliedFixes
	response.Recommendations = result.Recommendations
	response.Report = g.pipeline.Validate(ctx, result.Healed, opts)

	g.logger.InfoContext(ctx, "Artifact healed after generation",
		"applied_fixes", len(result.AppliedFixes),
		"remaining", len(result.Remaining),
		"valid", response.Report.Valid)

	return response, nil
}
