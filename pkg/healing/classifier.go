// Package healing repairs structurally defective artifacts. Errors are
// classified into categories, each category maps to exactly one deterministic
// idempotent repair rule, and rules run in a fixed order so later rules never
// re-break earlier fixes.
package healing

import (
	"regexp"

	"github.com/flowmend/flowmend/pkg/models"
)

// codeCategories maps closed, typed error codes (ours and the execution
// engine's) to fix categories. This is always consulted first.
var codeCategories = map[string]models.FixCategory{
	models.CodeReadOnlyField:      models.CategoryReadOnlyField,
	models.CodeMissingName:        models.CategoryMissingParameter,
	models.CodeMissingNodeName:    models.CategoryMissingParameter,
	models.CodeMissingNodeType:    models.CategoryInvalidType,
	models.CodeInvalidNodeType:    models.CategoryInvalidType,
	models.CodeMissingParameter:   models.CategoryMissingParameter,
	models.CodeInvalidPosition:    models.CategoryInvalidPosition,
	models.CodeInvalidPath:        models.CategoryInvalidPath,
	models.CodeDuplicateNodeName:  models.CategoryDuplicateName,
	models.CodeMissingNodeID:      models.CategoryMissingID,
	models.CodeUnknownSource:      models.CategoryInvalidConnection,
	models.CodeUnknownTarget:      models.CategoryInvalidConnection,
	models.CodeNegativeIndex:      models.CategoryInvalidConnection,
	models.CodeEmbeddedCredential: models.CategoryCredential,

	// Engine rejection codes that differ from our own. Codes the engine
	// shares with the pipeline (read_only_field, missing_parameter,
	// invalid_position, invalid_path) are already covered above.
	"invalid_type":       models.CategoryInvalidType,
	"invalid_connection": models.CategoryInvalidConnection,
	"duplicate_name":     models.CategoryDuplicateName,
	"missing_id":         models.CategoryMissingID,
}

// messagePatterns is the ordered fallback for opaque upstream errors that
// carry no code. First match wins.
var messagePatterns = []struct {
	pattern  *regexp.Regexp
	category models.FixCategory
}{
	{regexp.MustCompile(`(?i)read[\s-]?only`), models.CategoryReadOnlyField},
	{regexp.MustCompile(`(?i)(missing|required).{0,40}(parameter|property|field)`), models.CategoryMissingParameter},
	{regexp.MustCompile(`(?i)(invalid|unknown).{0,20}type`), models.CategoryInvalidType},
	{regexp.MustCompile(`(?i)(connection|target|source).{0,60}(resolve|exist|found)`), models.CategoryInvalidConnection},
	{regexp.MustCompile(`(?i)invalid.{0,20}connection`), models.CategoryInvalidConnection},
	{regexp.MustCompile(`(?i)position`), models.CategoryInvalidPosition},
	{regexp.MustCompile(`(?i)duplicate.{0,30}name|name.{0,30}already`), models.CategoryDuplicateName},
	{regexp.MustCompile(`(?i)(invalid|malformed).{0,20}path|webhook path`), models.CategoryInvalidPath},
	{regexp.MustCompile(`(?i)missing.{0,20}\bid\b|\bno id\b`), models.CategoryMissingID},
	{regexp.MustCompile(`(?i)credential|password|secret|token`), models.CategoryCredential},
}

// Classify returns the fix category for one issue: typed code first, ordered
// message patterns as fallback, CategoryOther when nothing matches.
func Classify(issue models.ValidationIssue) models.FixCategory {
	if category, ok := codeCategories[issue.Code]; ok {
		return category
	}

	for _, entry := range messagePatterns {
		if entry.pattern.MatchString(issue.Message) {
			return entry.category
		}
	}

	return models.CategoryOther
}

// classifyAll groups issues by category, preserving input order inside each.
func classifyAll(issues []models.ValidationIssue) map[models.FixCategory][]models.ValidationIssue {
	grouped := make(map[models.FixCategory][]models.ValidationIssue)

	for _, issue := range issues {
		category := Classify(issue)
		grouped[category] = append(grouped[category], issue)
	}

	return grouped
}
