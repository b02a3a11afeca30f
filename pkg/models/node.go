package models

// NodeType is the closed set of node kinds a definition may contain.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeAction    NodeType = "action"
	NodeTypeCondition NodeType = "condition"
	NodeTypeWait      NodeType = "wait"
	NodeTypeAgent     NodeType = "agent"
	NodeTypeBranch    NodeType = "branch"
	NodeTypeJoin      NodeType = "join"
)

// Node is a typed unit of work in a workflow definition.
type Node struct {
	ID        string         `json:"id"                   validate:"required"`
	Type      NodeType       `json:"type"                 validate:"required"`
	Subtype   string         `json:"subtype,omitempty"`
	Name      string         `json:"name,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	PositionX int            `json:"position_x,omitempty"`
	PositionY int            `json:"position_y,omitempty"`
}

// StringConfig returns a string config value, or "" when absent.
func (n *Node) StringConfig(key string) string {
	if n.Config == nil {
		return ""
	}

	value, _ := n.Config[key].(string)

	return value
}
