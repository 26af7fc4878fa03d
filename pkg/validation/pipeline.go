// Package validation runs the four-stage validation pipeline over candidate
// artifacts: structure, nodes, connections and security. Stages are ordered
// but independent; a later stage still runs when an earlier one fails, so the
// report is always complete.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowmend/flowmend/pkg/coordination"
	"github.com/flowmend/flowmend/pkg/llm"
	"github.com/flowmend/flowmend/pkg/models"
)

// Per-issue score penalties, ordered by severity class.
const (
	penaltyStructure  = 25
	penaltyNode       = 20
	penaltyConnection = 15
	penaltySecurity   = 10
	penaltyWarning    = 5

	// Each security finding costs a quarter of the security sub-score.
	securityScorePenalty = 25
)

const reportCacheTTL = 5 * time.Minute

// requiredParameters maps a node type to the parameters it must populate.
var requiredParameters = map[string][]string{
	models.NodeTypeTriggerWebhook:   {"path"},
	models.NodeTypeTriggerScheduler: {"cron"},
	"action.http":                   {"url"},
}

// Options controls a pipeline run.
type Options struct {
	// StrictMode additionally treats warnings as errors.
	StrictMode bool
	// IncludeAIAnalysis asks the language-model service for a semantic
	// plausibility opinion, merged as non-blocking warnings only.
	IncludeAIAnalysis bool
}

// Pipeline validates artifacts. It is safe for concurrent use.
type Pipeline struct {
	logger   *slog.Logger
	llm      llm.Client
	cache    *coordination.ResultCache
	analysis time.Duration
}

// NewPipeline creates a pipeline. The LLM client is optional and only used
// when a caller opts into AI analysis; the cache is optional and memoizes
// reports for unchanged artifacts.
func NewPipeline(logger *slog.Logger, llmClient llm.Client, cache *coordination.ResultCache) *Pipeline {
	return &Pipeline{
		logger:   logger,
		llm:      llmClient,
		cache:    cache,
		analysis: 10 * time.Second,
	}
}

// Validate runs all four stages and returns the scored report.
func (p *Pipeline) Validate(ctx context.Context, artifact *models.Artifact, opts Options) *models.ValidationReport {
	if p.cache == nil {
		return p.validate(ctx, artifact, opts)
	}

	key := reportCacheKey(artifact, opts)

	cached, err := p.cache.Memoize(ctx, key, reportCacheTTL, func(ctx context.Context) (any, error) {
		return p.validate(ctx, artifact, opts), nil
	})
	if err != nil {
		return p.validate(ctx, artifact, opts)
	}

	report, ok := cached.(*models.ValidationReport)
	if !ok {
		return p.validate(ctx, artifact, opts)
	}

	return report
}

func (p *Pipeline) validate(ctx context.Context, artifact *models.Artifact, opts Options) *models.ValidationReport {
	report := &models.ValidationReport{
		Stages: make(map[models.ValidationStage]bool, 4),
	}

	structureIssues := checkStructure(artifact)
	nodeIssues := checkNodes(artifact)
	connectionIssues := checkConnections(artifact)
	securityIssues := checkSecurity(artifact)

	collectStage(report, models.StageStructure, structureIssues)
	collectStage(report, models.StageNodes, nodeIssues)
	collectStage(report, models.StageConnections, connectionIssues)
	collectStage(report, models.StageSecurity, securityIssues)

	if opts.IncludeAIAnalysis && p.llm != nil {
		report.Warnings = append(report.Warnings, p.analyze(ctx, artifact)...)
	}

	if opts.StrictMode && len(report.Warnings) > 0 {
		report.Errors = append(report.Errors, report.Warnings...)
		report.Warnings = nil
	}

	report.Valid = len(report.Errors) == 0
	report.Score = score(report)
	report.SecurityScore = clampScore(100 - securityScorePenalty*countStage(report.Errors, models.StageSecurity))
	report.PerformanceScore = performanceScore(artifact)

	return report
}

type stageIssues struct {
	errors   []models.ValidationIssue
	warnings []models.ValidationIssue
}

func (s *stageIssues) errorf(stage models.ValidationStage, code, node, format string, args ...any) {
	s.errors = append(s.errors, models.ValidationIssue{
		Stage:   stage,
		Code:    code,
		Node:    node,
		Message: fmt.Sprintf(format, args...),
	})
}

func (s *stageIssues) warnf(stage models.ValidationStage, code, node, format string, args ...any) {
	s.warnings = append(s.warnings, models.ValidationIssue{
		Stage:   stage,
		Code:    code,
		Node:    node,
		Message: fmt.Sprintf(format, args...),
	})
}

func collectStage(report *models.ValidationReport, stage models.ValidationStage, issues stageIssues) {
	report.Stages[stage] = len(issues.errors) == 0
	report.Errors = append(report.Errors, issues.errors...)
	report.Warnings = append(report.Warnings, issues.warnings...)
}

func score(report *models.ValidationReport) int {
	total := 100

	for _, issue := range report.Errors {
		switch issue.Stage {
		case models.StageStructure:
			total -= penaltyStructure
		case models.StageNodes:
			total -= penaltyNode
		case models.StageConnections:
			total -= penaltyConnection
		case models.StageSecurity:
			total -= penaltySecurity
		}
	}

	total -= penaltyWarning * len(report.Warnings)

	return clampScore(total)
}

func performanceScore(artifact *models.Artifact) int {
	total := 100

	// Very large graphs execute slowly and are hard to reason about.
	if len(artifact.Nodes) > 50 {
		total -= 20
	} else if len(artifact.Nodes) > 25 {
		total -= 10
	}

	return clampScore(total)
}

func countStage(issues []models.ValidationIssue, stage models.ValidationStage) int {
	count := 0

	for _, issue := range issues {
		if issue.Stage == stage {
			count++
		}
	}

	return count
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}

	return score
}

func reportCacheKey(artifact *models.Artifact, opts Options) string {
	encoded, err := json.Marshal(artifact)
	if err != nil {
		encoded = []byte(artifact.Name)
	}

	sum := sha256.Sum256(encoded)

	return fmt.Sprintf("validate:%s:strict=%t:ai=%t", hex.EncodeToString(sum[:]), opts.StrictMode, opts.IncludeAIAnalysis)
}
