package healing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/flowmend/flowmend/pkg/models"
)

// reservedParameterKeys are engine-managed fields that must never be
// submitted inside a node's parameter bag.
var reservedParameterKeys = []string{"id", "active", "createdAt", "updatedAt", "webhookId"}

// repairRule mutates the working copy of an artifact and returns labels for
// the fixes it actually applied. Rules must be idempotent: running a rule on
// its own output applies nothing.
type repairRule struct {
	category models.FixCategory
	apply    func(artifact *models.Artifact) []string
}

// rules run in this fixed order so later rules never re-break earlier fixes.
// Stripping precedes backfilling, pruning precedes renaming, and path
// normalization runs last because renames never touch parameters.
var rules = []repairRule{
	{models.CategoryReadOnlyField, stripReadOnlyFields},
	{models.CategoryMissingParameter, backfillDefaults},
	{models.CategoryInvalidType, backfillDefaults},
	{models.CategoryMissingID, backfillDefaults},
	{models.CategoryInvalidPosition, backfillDefaults},
	{models.CategoryInvalidConnection, pruneDanglingConnections},
	{models.CategoryDuplicateName, dedupeNodeNames},
	{models.CategoryInvalidPath, normalizeTriggerPaths},
}

func stripReadOnlyFields(artifact *models.Artifact) []string {
	var fixes []string

	if artifact.EngineID != "" || artifact.Active != nil || artifact.CreatedAt != nil || artifact.UpdatedAt != nil {
		artifact.EngineID = ""
		artifact.Active = nil
		artifact.CreatedAt = nil
		artifact.UpdatedAt = nil

		fixes = append(fixes, "removed read-only artifact fields")
	}

	for _, node := range artifact.Nodes {
		if node.Parameters == nil {
			continue
		}

		for _, key := range reservedParameterKeys {
			if _, present := node.Parameters[key]; present {
				delete(node.Parameters, key)
				fixes = append(fixes, fmt.Sprintf("removed read-only parameter %q from node %q", key, node.Name))
			}
		}
	}

	return fixes
}

// backfillDefaults fills missing node identity, typing, position and required
// parameters with safe defaults, and generates an artifact name when absent.
func backfillDefaults(artifact *models.Artifact) []string {
	var fixes []string

	if artifact.Name == "" {
		artifact.Name = "generated-workflow-" + uuid.NewString()[:8]
		fixes = append(fixes, "generated artifact name")
	}

	usedIDs := make(map[string]bool, len(artifact.Nodes))
	usedNames := make(map[string]bool, len(artifact.Nodes))

	for _, node := range artifact.Nodes {
		usedIDs[node.ID] = true
		usedNames[node.Name] = true
	}

	for i, node := range artifact.Nodes {
		if node.ID == "" {
			node.ID = nextFree(usedIDs, "node", i+1)
			fixes = append(fixes, fmt.Sprintf("assigned id %q to node %d", node.ID, i))
		}

		if node.Type == "" {
			node.Type = models.NodeTypeNoOp
			fixes = append(fixes, fmt.Sprintf("defaulted node %q to the no-op type", node.ID))
		}

		if node.Name == "" {
			node.Name = nextFree(usedNames, "Node", i+1)
			fixes = append(fixes, fmt.Sprintf("named node %q %q", node.ID, node.Name))
		}

		if node.TypeVersion < 1 {
			node.TypeVersion = 1
			fixes = append(fixes, fmt.Sprintf("defaulted node %q type version to 1", node.Name))
		}

		if len(node.Position) != 2 {
			node.Position = []float64{float64(250 * i), 300}
			fixes = append(fixes, fmt.Sprintf("positioned node %q", node.Name))
		}

		if node.Parameters == nil {
			node.Parameters = map[string]any{}
			fixes = append(fixes, fmt.Sprintf("created parameter container for node %q", node.Name))
		}

		fixes = append(fixes, backfillRequiredParameters(node)...)
	}

	return fixes
}

// parameterDefaults are the safe per-parameter defaults. Parameters with no
// safe default (e.g. a request URL) stay absent and are surfaced as remaining.
func backfillRequiredParameters(node *models.Node) []string {
	var fixes []string

	switch node.Type {
	case models.NodeTypeTriggerWebhook:
		if value, ok := node.Parameters["path"].(string); !ok || value == "" {
			node.Parameters["path"] = "/" + slugify(node.Name)
			fixes = append(fixes, fmt.Sprintf("defaulted webhook path for node %q", node.Name))
		}
	case models.NodeTypeTriggerScheduler:
		if value, ok := node.Parameters["cron"].(string); !ok || value == "" {
			node.Parameters["cron"] = "0 * * * *"
			fixes = append(fixes, fmt.Sprintf("defaulted schedule for node %q", node.Name))
		}
	}

	return fixes
}

// pruneDanglingConnections removes connection entries whose source no longer
// resolves and drops targets that no longer resolve, leaving an empty group
// behind so the source's output shape is preserved.
func pruneDanglingConnections(artifact *models.Artifact) []string {
	var fixes []string

	for source, groups := range artifact.Connections {
		if artifact.NodeByName(source) == nil {
			delete(artifact.Connections, source)
			fixes = append(fixes, fmt.Sprintf("removed connections from unknown source %q", source))

			continue
		}

		for kind, outputs := range groups {
			for i, group := range outputs {
				kept := group[:0]

				for _, target := range group {
					if artifact.NodeByName(target.Node) == nil {
						fixes = append(fixes, fmt.Sprintf("removed dangling connection %q -> %q", source, target.Node))

						continue
					}

					if target.Index < 0 {
						target.Index = 0
						fixes = append(fixes, fmt.Sprintf("clamped negative index on %q -> %q", source, target.Node))
					}

					kept = append(kept, target)
				}

				outputs[i] = kept
			}

			groups[kind] = outputs
		}
	}

	return fixes
}

// dedupeNodeNames renames later duplicates by appending a numeric suffix.
// References keep resolving: a name shared by several nodes canonically
// referred to the first one, which keeps it.
func dedupeNodeNames(artifact *models.Artifact) []string {
	var fixes []string

	seen := make(map[string]bool, len(artifact.Nodes))

	for _, node := range artifact.Nodes {
		if node.Name == "" || !seen[node.Name] {
			seen[node.Name] = true

			continue
		}

		base := node.Name

		for suffix := 2; ; suffix++ {
			candidate := fmt.Sprintf("%s %d", base, suffix)
			if !seen[candidate] {
				renameConnectionSource(artifact, node, candidate)
				node.Name = candidate
				seen[candidate] = true
				fixes = append(fixes, fmt.Sprintf("renamed duplicate node %q to %q", base, candidate))

				break
			}
		}
	}

	return fixes
}

// renameConnectionSource has nothing to move when the duplicate shared its
// connection entry with the name's first holder; it exists for the case where
// a later pass introduces per-node entries under a temporary name.
func renameConnectionSource(artifact *models.Artifact, node *models.Node, newName string) {
	groups, ok := artifact.Connections[node.Name]
	if !ok {
		return
	}

	// The entry stays with the first holder of the old name.
	if artifact.NodeByName(node.Name) != node {
		return
	}

	delete(artifact.Connections, node.Name)
	artifact.Connections[newName] = groups
}

var pathCharPattern = regexp.MustCompile(`[^a-zA-Z0-9\-_/]`)

// normalizeTriggerPaths rewrites trigger paths to a leading slash and the
// constrained character set.
func normalizeTriggerPaths(artifact *models.Artifact) []string {
	var fixes []string

	for _, node := range artifact.Nodes {
		if node.Parameters == nil {
			continue
		}

		raw, ok := node.Parameters["path"].(string)
		if !ok || raw == "" {
			continue
		}

		normalized := strings.TrimSpace(raw)
		normalized = pathCharPattern.ReplaceAllString(normalized, "-")
		normalized = strings.Trim(normalized, "-")

		if !strings.HasPrefix(normalized, "/") {
			normalized = "/" + normalized
		}

		for strings.Contains(normalized, "//") {
			normalized = strings.ReplaceAll(normalized, "//", "/")
		}

		if normalized != raw {
			node.Parameters["path"] = normalized
			fixes = append(fixes, fmt.Sprintf("normalized trigger path on node %q", node.Name))
		}
	}

	return fixes
}

func nextFree(used map[string]bool, prefix string, start int) string {
	for i := start; ; i++ {
		candidate := fmt.Sprintf("%s-%d", prefix, i)
		if prefix == "Node" {
			candidate = fmt.Sprintf("%s %d", prefix, i)
		}

		if !used[candidate] {
			used[candidate] = true

			return candidate
		}
	}
}

func slugify(input string) string {
	slug := strings.ToLower(strings.TrimSpace(input))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = pathCharPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-/")

	if slug == "" {
		slug = "webhook"
	}

	return slug
}
