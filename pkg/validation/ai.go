package validation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/flowmend/flowmend/pkg/llm"
	"github.com/flowmend/flowmend/pkg/models"
)

const analysisPrompt = `You review workflow automation graphs for semantic plausibility.
Given the workflow JSON below, list concrete concerns one per line, or reply OK.
Do not repeat structural problems; focus on whether the graph plausibly does what its name suggests.`

// analyze asks the language-model service for a plausibility opinion. The
// result is merged as warnings only; a timeout or failure never fails the
// stage.
func (p *Pipeline) analyze(ctx context.Context, artifact *models.Artifact) []models.ValidationIssue {
	ctx, cancel := context.WithTimeout(ctx, p.analysis)
	defer cancel()

	encoded, err := json.Marshal(artifact)
	if err != nil {
		return nil
	}

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analysisPrompt},
			{Role: llm.RoleUser, Content: string(encoded)},
		},
		MaxTokens:   512,
		Temperature: 0,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "AI analysis unavailable", "error", err)

		return nil
	}

	var warnings []models.ValidationIssue

	for _, line := range strings.Split(resp.Text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-* "))
		if line == "" || strings.EqualFold(line, "ok") {
			continue
		}

		warnings = append(warnings, models.ValidationIssue{
			Stage:   models.StageStructure,
			Code:    "ai_analysis",
			Message: line,
		})
	}

	return warnings
}
