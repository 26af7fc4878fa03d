package validation

import (
	"encoding/json"
	"regexp"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowmend/flowmend/pkg/models"
)

// artifactSchema enforces the well-formedness of the artifact's containers.
// Field presence is checked separately so the report can carry precise codes.
const artifactSchema = `{
	"type": "object",
	"properties": {
		"name":        {"type": "string"},
		"nodes":       {"type": "array"},
		"connections": {"type": ["object", "null"]},
		"settings":    {"type": ["object", "null"]},
		"metadata":    {"type": ["object", "null"]}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
)

func loadSchema() *gojsonschema.Schema {
	schemaOnce.Do(func() {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(artifactSchema))
		if err == nil {
			compiledSchema = schema
		}
	})

	return compiledSchema
}

func checkStructure(artifact *models.Artifact) stageIssues {
	var issues stageIssues

	if artifact.Name == "" {
		issues.errorf(models.StageStructure, models.CodeMissingName, "", "artifact name is required")
	}

	if len(artifact.Nodes) == 0 {
		issues.errorf(models.StageStructure, models.CodeNoNodes, "", "artifact must contain at least one node")
	}

	if schema := loadSchema(); schema != nil {
		encoded, err := json.Marshal(artifact)
		if err == nil {
			result, err := schema.Validate(gojsonschema.NewBytesLoader(encoded))
			if err == nil && !result.Valid() {
				for _, violation := range result.Errors() {
					issues.errorf(models.StageStructure, models.CodeInvalidSettings, "",
						"artifact container malformed: %s", violation.String())
				}
			}
		}
	}

	hasTrigger := false

	for _, node := range artifact.Nodes {
		if node.IsTrigger() {
			hasTrigger = true

			break
		}
	}

	if len(artifact.Nodes) > 0 && !hasTrigger {
		issues.warnf(models.StageStructure, models.CodeInvalidMetadata, "",
			"artifact has no trigger node and can only be run manually")
	}

	return issues
}

// triggerPathPattern is the constrained character set for externally
// reachable trigger paths.
var triggerPathPattern = regexp.MustCompile(`^/[a-zA-Z0-9\-_/]*$`)

func checkNodes(artifact *models.Artifact) stageIssues {
	var issues stageIssues

	seenNames := make(map[string]bool, len(artifact.Nodes))

	for i, node := range artifact.Nodes {
		label := node.Name
		if label == "" {
			label = node.ID
		}

		if node.ID == "" {
			issues.errorf(models.StageNodes, models.CodeMissingNodeID, label, "node %d is missing an id", i)
		}

		if node.Name == "" {
			issues.errorf(models.StageNodes, models.CodeMissingNodeName, label, "node %q is missing a display name", node.ID)
		} else if seenNames[node.Name] {
			issues.errorf(models.StageNodes, models.CodeDuplicateNodeName, node.Name, "node name %q is used more than once", node.Name)
		}

		seenNames[node.Name] = true

		if node.Type == "" {
			issues.errorf(models.StageNodes, models.CodeMissingNodeType, label, "node %q is missing a type", label)
		}

		if node.TypeVersion < 1 {
			issues.warnf(models.StageNodes, models.CodeInvalidNodeType, label, "node %q has no type version, assuming 1", label)
		}

		if len(node.Position) != 2 {
			issues.errorf(models.StageNodes, models.CodeInvalidPosition, label, "node %q position must be a 2-D coordinate", label)
		}

		if node.Parameters == nil {
			issues.errorf(models.StageNodes, models.CodeMissingParameter, label, "node %q has no parameters container", label)

			continue
		}

		for _, required := range requiredParameters[node.Type] {
			value, present := node.Parameters[required]
			if !present || value == "" || value == nil {
				issues.errorf(models.StageNodes, models.CodeMissingParameter, label,
					"node %q of type %s requires parameter %q", label, node.Type, required)
			}
		}

		if path, ok := node.Parameters["path"].(string); ok && path != "" && !triggerPathPattern.MatchString(path) {
			issues.errorf(models.StageNodes, models.CodeInvalidPath, label,
				"node %q has an invalid trigger path %q", label, path)
		}
	}

	return issues
}

func checkConnections(artifact *models.Artifact) stageIssues {
	var issues stageIssues

	for source, groups := range artifact.Connections {
		if artifact.NodeByName(source) == nil {
			issues.errorf(models.StageConnections, models.CodeUnknownSource, source,
				"connection source %q does not resolve to a node", source)
		}

		for _, outputs := range groups {
			for _, group := range outputs {
				for _, target := range group {
					if artifact.NodeByName(target.Node) == nil {
						issues.errorf(models.StageConnections, models.CodeUnknownTarget, target.Node,
							"connection target %q from %q does not resolve to a node", target.Node, source)
					}

					if target.Index < 0 {
						issues.errorf(models.StageConnections, models.CodeNegativeIndex, target.Node,
							"connection from %q to %q has negative index %d", source, target.Node, target.Index)
					}
				}
			}
		}
	}

	return issues
}

// credentialPattern flags a password/token/secret/key assigned a quoted
// literal inside a parameter value.
var credentialPattern = regexp.MustCompile(`(?i)(password|passwd|token|secret|api[_-]?key)\s*[:=]\s*["'][^"']+["']`)

// credentialKeyPattern flags parameter keys that are themselves credential
// holders carrying a literal value.
var credentialKeyPattern = regexp.MustCompile(`(?i)^(password|passwd|token|secret|api[_-]?key|apikey)$`)

func checkSecurity(artifact *models.Artifact) stageIssues {
	var issues stageIssues

	for _, node := range artifact.Nodes {
		scanParameters(&issues, node.Name, "", node.Parameters)
	}

	return issues
}

func scanParameters(issues *stageIssues, nodeName, prefix string, params map[string]any) {
	for key, value := range params {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		switch typed := value.(type) {
		case string:
			if credentialKeyPattern.MatchString(key) && typed != "" {
				issues.errorf(models.StageSecurity, models.CodeEmbeddedCredential, nodeName,
					"node %q embeds a literal credential in parameter %q", nodeName, path)
			} else if credentialPattern.MatchString(typed) {
				issues.errorf(models.StageSecurity, models.CodeEmbeddedCredential, nodeName,
					"node %q parameter %q contains a literal credential assignment", nodeName, path)
			}
		case map[string]any:
			scanParameters(issues, nodeName, path, typed)
		}
	}
}
