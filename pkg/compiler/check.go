package compiler

import (
	"fmt"

	"github.com/ignatij/flowplan/pkg/models"
)

// Issue is a problem found on a board. Issues never block a save.
type Issue struct {
	NodeID  string `json:"nodeId,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.NodeID == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.NodeID, i.Message)
}

// Check validates the typed configuration of every node and the references
// of every connection. Issues are returned in board order.
func Check(board models.Board) []Issue {
	var issues []Issue

	known := make(map[string]struct{}, len(board.Nodes)+1)
	known[models.StartNodeID] = struct{}{}
	for _, node := range board.Nodes {
		if node.ID == models.StartNodeID {
			continue
		}
		if node.ID == "" {
			issues = append(issues, Issue{Message: "node without id"})
			continue
		}
		if _, dup := known[node.ID]; dup {
			issues = append(issues, Issue{NodeID: node.ID, Message: "duplicate node id, first occurrence kept"})
			continue
		}
		known[node.ID] = struct{}{}

		kind := node.ActionKind
		if isTrigger(kind) {
			kind = models.TriggerKind
		}
		if kind == "" {
			issues = append(issues, Issue{NodeID: node.ID, Message: "node without action kind"})
			continue
		}
		cfg, err := models.DecodeNodeConfig(kind, node.Config)
		if err != nil {
			issues = append(issues, Issue{NodeID: node.ID, Message: err.Error()})
			continue
		}
		if err := cfg.Validate(); err != nil {
			issues = append(issues, Issue{NodeID: node.ID, Message: fmt.Sprintf("invalid %s config: %v", kind, err)})
		}
	}

	hasRoot := false
	for _, conn := range board.Connections {
		if conn.Source == models.StartNodeID {
			hasRoot = true
		}
		if conn.Target == models.StartNodeID {
			issues = append(issues, Issue{NodeID: conn.Source, Message: "connection into start"})
		}
		for _, end := range []string{conn.Source, conn.Target} {
			if _, ok := known[end]; !ok {
				issues = append(issues, Issue{NodeID: end, Message: fmt.Sprintf("connection %s -> %s references unknown node", conn.Source, conn.Target)})
			}
		}
	}
	if !hasRoot && len(board.Nodes) > 0 {
		issues = append(issues, Issue{Message: "nothing is connected to start"})
	}
	return issues
}
