package healing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flowmend/flowmend/pkg/models"
	"github.com/flowmend/flowmend/pkg/otelhelper"
	"github.com/flowmend/flowmend/pkg/validation"
)

func newTestEngine() (*Engine, *validation.Pipeline) {
	logger := slog.New(slog.DiscardHandler)
	pipeline := validation.NewPipeline(logger, nil, nil)

	return NewEngine(pipeline, logger, nil), pipeline
}

func boolPtr(b bool) *bool { return &b }

// brokenArtifact has one defect per repairable category.
func brokenArtifact() *models.Artifact {
	now := time.Now()

	return &models.Artifact{
		Name:      "order intake",
		EngineID:  "wf-123",
		Active:    boolPtr(true),
		CreatedAt: &now,
		Nodes: []*models.Node{
			{
				ID:          "n1",
				Name:        "Webhook",
				Type:        models.NodeTypeTriggerWebhook,
				TypeVersion: 1,
				Position:    []float64{0, 0},
				Parameters:  map[string]any{"path": "orders intake!"},
			},
			{
				// Missing id and position.
				Name:        "Process",
				Type:        models.NodeTypeNoOp,
				TypeVersion: 1,
				Parameters:  map[string]any{},
			},
			{
				ID:          "n3",
				Name:        "Process",
				Type:        models.NodeTypeNoOp,
				TypeVersion: 1,
				Position:    []float64{500, 0},
				Parameters:  map[string]any{},
			},
		},
		Connections: map[string]models.OutputGroups{
			"Webhook": {
				models.DefaultConnectionKind: {
					{
						{Node: "Process", Kind: models.DefaultConnectionKind, Index: 0},
						{Node: "Ghost", Kind: models.DefaultConnectionKind, Index: 0},
					},
				},
			},
			"Vanished": {
				models.DefaultConnectionKind: {
					{{Node: "Process", Kind: models.DefaultConnectionKind, Index: 0}},
				},
			},
		},
	}
}

func TestHeal_RepairsEveryCategoryAndRevalidates(t *testing.T) {
	engine, pipeline := newTestEngine()
	artifact := brokenArtifact()

	report := pipeline.Validate(context.Background(), artifact, validation.Options{})
	require.False(t, report.Valid)

	issues := report.Errors
	issues = append(issues, models.ValidationIssue{
		Code:    models.CodeReadOnlyField,
		Message: "field id is read-only",
	})

	result := engine.Heal(context.Background(), artifact, issues)

	assert.True(t, result.Fixed())
	assert.Empty(t, result.Remaining)
	assert.NotEmpty(t, result.AppliedFixes)

	healed := pipeline.Validate(context.Background(), result.Healed, validation.Options{})
	assert.True(t, healed.Valid, healed.ErrorMessages())

	assert.Empty(t, result.Healed.EngineID)
	assert.Nil(t, result.Healed.Active)
	assert.Nil(t, result.Healed.CreatedAt)
}

func TestHeal_DoesNotMutateInput(t *testing.T) {
	engine, pipeline := newTestEngine()
	artifact := brokenArtifact()

	report := pipeline.Validate(context.Background(), artifact, validation.Options{})
	engine.Heal(context.Background(), artifact, report.Errors)

	assert.Equal(t, "wf-123", artifact.EngineID)
	assert.Empty(t, artifact.Nodes[1].ID)
	assert.Equal(t, "Process", artifact.Nodes[2].Name)
	assert.Contains(t, artifact.Connections, "Vanished")
}

func TestHeal_Idempotent(t *testing.T) {
	engine, pipeline := newTestEngine()
	artifact := brokenArtifact()

	report := pipeline.Validate(context.Background(), artifact, validation.Options{})
	first := engine.Heal(context.Background(), artifact, report.Errors)
	require.NotEmpty(t, first.AppliedFixes)

	second := engine.Heal(context.Background(), first.Healed, report.Errors)
	assert.Empty(t, second.AppliedFixes)
	assert.Empty(t, second.Remaining)
}

func TestHeal_DedupePreservesReferences(t *testing.T) {
	engine, pipeline := newTestEngine()
	artifact := brokenArtifact()

	report := pipeline.Validate(context.Background(), artifact, validation.Options{})
	result := engine.Heal(context.Background(), artifact, report.Errors)

	names := make(map[string]int)
	for _, node := range result.Healed.Nodes {
		names[node.Name]++
	}

	for name, count := range names {
		assert.Equal(t, 1, count, "name %q still duplicated", name)
	}

	for source, groups := range result.Healed.Connections {
		assert.NotNil(t, result.Healed.NodeByName(source), "source %q does not resolve", source)

		for _, outputs := range groups {
			for _, group := range outputs {
				for _, target := range group {
					assert.NotNil(t, result.Healed.NodeByName(target.Node),
						"target %q does not resolve", target.Node)
				}
			}
		}
	}
}

func TestHeal_DanglingTargetLeavesEmptyGroup(t *testing.T) {
	engine, _ := newTestEngine()
	artifact := &models.Artifact{
		Name: "dangling",
		Nodes: []*models.Node{
			{ID: "n1", Name: "Start", Type: models.NodeTypeNoOp, TypeVersion: 1,
				Position: []float64{0, 0}, Parameters: map[string]any{}},
		},
		Connections: map[string]models.OutputGroups{
			"Start": {
				models.DefaultConnectionKind: {
					{{Node: "Missing", Kind: models.DefaultConnectionKind, Index: 0}},
				},
			},
		},
	}

	issues := []models.ValidationIssue{{
		Stage:   models.StageConnections,
		Code:    models.CodeUnknownTarget,
		Message: `connection target "Missing" does not resolve`,
	}}

	result := engine.Heal(context.Background(), artifact, issues)

	groups, ok := result.Healed.Connections["Start"]
	require.True(t, ok, "source entry must survive")

	outputs := groups[models.DefaultConnectionKind]
	require.Len(t, outputs, 1)
	assert.Empty(t, outputs[0])
}

func TestHeal_CredentialsAreNotAutoFixed(t *testing.T) {
	engine, pipeline := newTestEngine()
	artifact := &models.Artifact{
		Name: "leaky",
		Nodes: []*models.Node{
			{ID: "n1", Name: "Call", Type: "action.http", TypeVersion: 1,
				Position: []float64{0, 0},
				Parameters: map[string]any{
					"url":     "https://api.example.com",
					"api_key": "sk-live-abc123",
				}},
		},
	}

	report := pipeline.Validate(context.Background(), artifact, validation.Options{})
	require.False(t, report.Valid)

	result := engine.Heal(context.Background(), artifact, report.Errors)

	assert.False(t, result.Fixed())
	assert.NotEmpty(t, result.Remaining)
	assert.True(t, result.Healed.NodeByName("Call").Parameters["api_key"] == "sk-live-abc123",
		"credential values must never be rewritten")

	require.NotEmpty(t, result.Recommendations)
	assert.Contains(t, result.Recommendations[0], "credential store")
}

func TestHeal_UnclassifiableErrorsCarriedForward(t *testing.T) {
	engine, _ := newTestEngine()
	artifact := &models.Artifact{
		Name: "fine",
		Nodes: []*models.Node{
			{ID: "n1", Name: "Start", Type: models.NodeTypeNoOp, TypeVersion: 1,
				Position: []float64{0, 0}, Parameters: map[string]any{}},
		},
	}

	issues := []models.ValidationIssue{{
		Message: "engine exploded in a novel way",
	}}

	result := engine.Heal(context.Background(), artifact, issues)

	require.Len(t, result.Remaining, 1)
	assert.Equal(t, "engine exploded in a novel way", result.Remaining[0].Message)
	assert.NotEmpty(t, result.Recommendations)
}

func TestHeal_RecordsSpanWithArtifactName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	logger := slog.New(slog.DiscardHandler)
	pipeline := validation.NewPipeline(logger, nil, nil)
	engine := NewEngine(pipeline, logger, provider.Tracer("test"))

	artifact := brokenArtifact()
	report := pipeline.Validate(context.Background(), artifact, validation.Options{})
	engine.Heal(context.Background(), artifact, report.Errors)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	assert.Equal(t, "healing.pass", spans[0].Name())

	var name string
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == otelhelper.ArtifactNameKey {
			name = attr.Value.AsString()
		}
	}

	assert.Equal(t, "order intake", name)
}

func TestHealUntilValid_StopsWhenNothingApplies(t *testing.T) {
	engine, pipeline := newTestEngine()
	artifact := brokenArtifact()

	report := pipeline.Validate(context.Background(), artifact, validation.Options{})
	result := engine.HealUntilValid(context.Background(), artifact, report.Errors, 3)

	assert.True(t, result.Fixed())
	assert.Empty(t, result.Remaining)
}
