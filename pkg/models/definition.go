package models

import (
	"database/sql/driver"
	"encoding/json"
)

// Node kinds known to the compiler. Kinds outside this list pass through verbatim.
const (
	TriggerKind     = "trigger"
	ActionKind      = "action"
	FilterKind      = "filter"
	GenAIKind       = "gen-ai"
	ReturnKind      = "return"
	LoopKind        = "loop"
	SwitchKind      = "switch"
	HTTPRequestKind = "http-request"
	SequenceKind    = "sequence"
	DelayKind       = "delay"
)

// DefaultTriggerSubtype is used when a trigger node carries no subtype.
const DefaultTriggerSubtype = "webhook"

// ExecutionDefinition is the compiled, linked form of a board.
type ExecutionDefinition struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Version int                 `json:"version"`
	Root    string              `json:"root"` // empty when nothing hangs off "start"
	Nodes   map[string]ExecNode `json:"nodes"`
}

// Edge is one outgoing connection of a compiled node.
type Edge struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

// ExecNode is a compiled node. Next is the first successor; Branches holds
// every successor in authored order.
type ExecNode struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Sub      string          `json:"sub,omitempty"`
	Config   json.RawMessage `json:"cfg,omitempty"`
	Next     *string         `json:"next"`
	Branches []Edge          `json:"branches"`
	Prev     []string        `json:"prev"`
}

// TypedConfig decodes the node configuration into its kind-specific variant.
func (n ExecNode) TypedConfig() (NodeConfig, error) {
	return DecodeNodeConfig(n.Kind, n.Config)
}

// Value stores the definition as JSONB.
func (d ExecutionDefinition) Value() (driver.Value, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan reads a definition stored as JSONB.
func (d *ExecutionDefinition) Scan(src interface{}) error {
	return scanJSON(src, d)
}
