package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StartNodeID is the synthetic entry point of every board. It is never
// materialized in a compiled definition.
const StartNodeID = "start"

// Board is the visual graph as authored in the editor.
type Board struct {
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Node is a single box on the board. Config is owned by the node's kind and
// kept raw until it is decoded with DecodeNodeConfig.
type Node struct {
	ID         string          `json:"id"`
	ActionKind string          `json:"actionKind"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Connection is a directed edge between two nodes. Label (or SourceHandle,
// as emitted by the editor) names the branch the edge leaves through.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	Label        string `json:"label,omitempty"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// BranchLabel returns the explicit branch label carried by the connection, if any.
func (c Connection) BranchLabel() string {
	if c.Label != "" {
		return c.Label
	}
	return c.SourceHandle
}

// Value stores the board as JSONB.
func (b Board) Value() (driver.Value, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan reads a board stored as JSONB.
func (b *Board) Scan(src interface{}) error {
	return scanJSON(src, b)
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
}
