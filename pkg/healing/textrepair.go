package healing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/flowmend/flowmend/pkg/llm"
	"github.com/flowmend/flowmend/pkg/models"
)

// ErrUnrepairable means no transform sequence produced parsable JSON.
var ErrUnrepairable = errors.New("artifact text could not be repaired into valid JSON")

var (
	codeFencePattern     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	singleQuotePattern   = regexp.MustCompile(`'([^']*)'`)
	lineCommentPattern   = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentPattern  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

type textTransform struct {
	label string
	apply func(string) string
}

// transforms run cumulatively in a fixed order; after each one the text is
// re-parsed, so the cheapest repair that works wins.
var transforms = []textTransform{
	{label: "strip-code-fences", apply: stripCodeFences},
	{label: "remove-trailing-commas", apply: func(s string) string {
		return trailingCommaPattern.ReplaceAllString(s, "$1")
	}},
	{label: "replace-single-quotes", apply: func(s string) string {
		return singleQuotePattern.ReplaceAllString(s, `"$1"`)
	}},
	{label: "strip-comments", apply: func(s string) string {
		return blockCommentPattern.ReplaceAllString(lineCommentPattern.ReplaceAllString(s, ""), "")
	}},
}

const repairPrompt = `The following text was supposed to be a JSON workflow document but does not parse. Return the corrected JSON document and nothing else: no explanation, no code fences.

%s`

// TextRepairer recovers artifact documents from malformed generated text.
// Deterministic transforms run first; a single model call is the last resort.
type TextRepairer struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewTextRepairer(client llm.Client, logger *slog.Logger) *TextRepairer {
	return &TextRepairer{llm: client, logger: logger}
}

// Repair parses raw into an artifact, escalating through transforms and then
// one model round trip. It returns the labels of the transforms that were
// applied before the parse succeeded.
func (r *TextRepairer) Repair(ctx context.Context, raw string) (*models.Artifact, []string, error) {
	if artifact, err := parseArtifact(raw); err == nil {
		return artifact, nil, nil
	}

	var applied []string

	text := raw

	for _, transform := range transforms {
		text = transform.apply(text)
		applied = append(applied, transform.label)

		if artifact, err := parseArtifact(text); err == nil {
			return artifact, applied, nil
		}
	}

	if r.llm == nil {
		return nil, applied, ErrUnrepairable
	}

	r.logger.InfoContext(ctx, "Escalating artifact text repair to model")

	response, err := r.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(repairPrompt, raw)},
		},
	})
	if err != nil {
		return nil, applied, fmt.Errorf("model repair call: %w", err)
	}

	applied = append(applied, "model-rewrite")

	artifact, err := parseArtifact(stripCodeFences(response.Text))
	if err != nil {
		return nil, applied, ErrUnrepairable
	}

	return artifact, applied, nil
}

func parseArtifact(text string) (*models.Artifact, error) {
	var artifact models.Artifact

	decoder := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))
	if err := decoder.Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	return &artifact, nil
}

func stripCodeFences(s string) string {
	if match := codeFencePattern.FindStringSubmatch(s); match != nil {
		return match[1]
	}

	return s
}
