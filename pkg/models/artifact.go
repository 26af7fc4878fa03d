// Package models defines the core domain models for the workflow-reliability pipeline.
package models

import "time"

// Built-in node types.
const (
	NodeTypeTriggerWebhook   = "trigger.webhook"
	NodeTypeTriggerScheduler = "trigger.scheduler"
	NodeTypeNoOp             = "core.noop"
)

// DefaultConnectionKind is the output kind used when a connection entry does
// not name one explicitly.
const DefaultConnectionKind = "main"

// ConnectionTarget references a node inside the same artifact by display name.
type ConnectionTarget struct {
	Node  string `json:"node"  validate:"required"`
	Kind  string `json:"type"`
	Index int    `json:"index"`
}

// OutputGroups maps an output kind (e.g. "main") to ordered groups of targets.
// The outer slice index is the source node's output index.
type OutputGroups map[string][][]ConnectionTarget

// Artifact is a candidate or deployed automation graph. It is the unit of
// validation, healing and deployment. Healing never mutates an artifact in
// place; every repair pass produces a new value.
type Artifact struct {
	// EngineID, Active and the timestamps are set by the execution engine on
	// stored artifacts. The engine treats them as read-only on submission.
	EngineID  string     `json:"id,omitempty"`
	Active    *bool      `json:"active,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`

	Name        string                  `json:"name"        validate:"required,min=1"`
	Nodes       []*Node                 `json:"nodes"`
	Connections map[string]OutputGroups `json:"connections"`
	Settings    map[string]any          `json:"settings"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
}

// Node is a single unit of work inside an artifact. Its ID and display name
// are unique within the artifact; connections reference nodes by name.
type Node struct {
	ID          string         `json:"id"          validate:"required"`
	Name        string         `json:"name"        validate:"required,min=1"`
	Type        string         `json:"type"        validate:"required"`
	TypeVersion int            `json:"typeVersion"`
	Position    []float64      `json:"position"`
	Parameters  map[string]any `json:"parameters"`
}

// IsTrigger reports whether the node is an externally reachable entry point.
func (n *Node) IsTrigger() bool {
	return len(n.Type) > 8 && n.Type[:8] == "trigger."
}

// NodeByName returns the node with the given display name, or nil.
func (a *Artifact) NodeByName(name string) *Node {
	for _, node := range a.Nodes {
		if node.Name == name {
			return node
		}
	}

	return nil
}

// NodeByID returns the node with the given id, or nil.
func (a *Artifact) NodeByID(id string) *Node {
	for _, node := range a.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// NodeNames returns the display names of all nodes in artifact order.
func (a *Artifact) NodeNames() []string {
	names := make([]string, 0, len(a.Nodes))
	for _, node := range a.Nodes {
		names = append(names, node.Name)
	}

	return names
}

// Clone returns a deep copy of the artifact. Pipeline stages operate on
// clones so that a retained reference never observes a later stage's edits.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}

	clone := &Artifact{
		EngineID: a.EngineID,
		Name:     a.Name,
		Settings: copyAnyMap(a.Settings),
		Metadata: copyAnyMap(a.Metadata),
	}

	if a.Active != nil {
		active := *a.Active
		clone.Active = &active
	}

	if a.CreatedAt != nil {
		created := *a.CreatedAt
		clone.CreatedAt = &created
	}

	if a.UpdatedAt != nil {
		updated := *a.UpdatedAt
		clone.UpdatedAt = &updated
	}

	if a.Nodes != nil {
		clone.Nodes = make([]*Node, 0, len(a.Nodes))
		for _, node := range a.Nodes {
			clone.Nodes = append(clone.Nodes, node.Clone())
		}
	}

	if a.Connections != nil {
		clone.Connections = make(map[string]OutputGroups, len(a.Connections))
		for source, groups := range a.Connections {
			clone.Connections[source] = groups.Clone()
		}
	}

	return clone
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	clone := &Node{
		ID:          n.ID,
		Name:        n.Name,
		Type:        n.Type,
		TypeVersion: n.TypeVersion,
		Parameters:  copyAnyMap(n.Parameters),
	}

	if n.Position != nil {
		clone.Position = make([]float64, len(n.Position))
		copy(clone.Position, n.Position)
	}

	return clone
}

// Clone returns a deep copy of the output groups.
func (g OutputGroups) Clone() OutputGroups {
	if g == nil {
		return nil
	}

	clone := make(OutputGroups, len(g))

	for kind, groups := range g {
		copied := make([][]ConnectionTarget, 0, len(groups))
		for _, group := range groups {
			targets := make([]ConnectionTarget, len(group))
			copy(targets, group)
			copied = append(copied, targets)
		}

		clone[kind] = copied
	}

	return clone
}

func copyAnyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = copyAnyValue(value)
	}

	return dst
}

func copyAnyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return copyAnyMap(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, item := range typed {
			copied[i] = copyAnyValue(item)
		}

		return copied
	default:
		return typed
	}
}
