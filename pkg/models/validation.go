package models

// ValidationStage identifies one of the four ordered pipeline stages.
type ValidationStage string

const (
	StageStructure   ValidationStage = "structure"
	StageNodes       ValidationStage = "nodes"
	StageConnections ValidationStage = "connections"
	StageSecurity    ValidationStage = "security"
)

// Validation issue codes. The healing classifier matches on these first and
// falls back to free-text pattern matching only for opaque upstream errors.
const (
	CodeMissingName        = "missing_name"
	CodeNoNodes            = "no_nodes"
	CodeInvalidSettings    = "invalid_settings"
	CodeInvalidMetadata    = "invalid_metadata"
	CodeMissingNodeID      = "missing_node_id"
	CodeMissingNodeName    = "missing_node_name"
	CodeMissingNodeType    = "missing_node_type"
	CodeInvalidNodeType    = "invalid_node_type"
	CodeInvalidPosition    = "invalid_position"
	CodeMissingParameter   = "missing_parameter"
	CodeInvalidPath        = "invalid_path"
	CodeDuplicateNodeName  = "duplicate_node_name"
	CodeUnknownSource      = "unknown_connection_source"
	CodeUnknownTarget      = "unknown_connection_target"
	CodeNegativeIndex      = "negative_connection_index"
	CodeEmbeddedCredential = "embedded_credential"
	CodeReadOnlyField      = "read_only_field"
	CodeUnparsableArtifact = "unparsable_artifact"
)

// ValidationIssue is a single error or warning raised by a pipeline stage.
type ValidationIssue struct {
	Stage   ValidationStage `json:"stage"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Node    string          `json:"node,omitempty"`
}

// ValidationReport is the outcome of one pipeline run. All four stages run
// regardless of earlier failures, so the report is always complete.
type ValidationReport struct {
	Valid            bool                     `json:"valid"`
	Stages           map[ValidationStage]bool `json:"stages"`
	Errors           []ValidationIssue        `json:"errors"`
	Warnings         []ValidationIssue        `json:"warnings"`
	Score            int                      `json:"score"`
	PerformanceScore int                      `json:"performance_score"`
	SecurityScore    int                      `json:"security_score"`
}

// ErrorMessages returns the messages of all errors in report order.
func (r *ValidationReport) ErrorMessages() []string {
	messages := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		messages = append(messages, issue.Message)
	}

	return messages
}

// HasCode reports whether any error carries the given code.
func (r *ValidationReport) HasCode(code string) bool {
	for _, issue := range r.Errors {
		if issue.Code == code {
			return true
		}
	}

	return false
}
