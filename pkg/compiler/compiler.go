// Package compiler turns an editor board into an execution definition.
//
// Compilation is total: any board compiles, malformed graphs degrade to
// partial definitions. Problems worth showing to the author are reported
// separately by Check.
package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ignatij/flowplan/pkg/models"
)

const triggerSuffix = "-trigger"

// Compiler compiles boards. The zero value is not usable; use New.
type Compiler struct {
	newID func() string
}

type Option func(*Compiler)

// WithIDFunc overrides how definition ids are generated.
func WithIDFunc(fn func() string) Option {
	return func(c *Compiler) {
		c.newID = fn
	}
}

func New(opts ...Option) *Compiler {
	c := &Compiler{newID: uuid.NewString}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile links the board into a definition named name, at version 1.
func (c *Compiler) Compile(board models.Board, name string) models.ExecutionDefinition {
	g := buildGraph(board)

	def := models.ExecutionDefinition{
		ID:      c.newID(),
		Name:    name,
		Version: 1,
		Nodes:   make(map[string]models.ExecNode, len(board.Nodes)),
	}
	if out := g.next[models.StartNodeID]; len(out) > 0 {
		def.Root = out[0].Target
	}

	for _, node := range board.Nodes {
		if node.ID == models.StartNodeID {
			continue
		}
		if _, dup := def.Nodes[node.ID]; dup {
			continue
		}
		def.Nodes[node.ID] = compileNode(node, g)
	}
	return def
}

func compileNode(node models.Node, g graph) models.ExecNode {
	n := models.ExecNode{
		ID:       node.ID,
		Kind:     node.ActionKind,
		Config:   node.Config,
		Branches: append([]models.Edge{}, g.next[node.ID]...),
		Prev:     append([]string{}, g.prev[node.ID]...),
	}
	if isTrigger(node.ActionKind) {
		n.Kind = models.TriggerKind
		n.Sub = triggerSubtype(node)
	}
	if len(n.Branches) > 0 {
		next := n.Branches[0].Target
		n.Next = &next
	}
	return n
}

func isTrigger(actionKind string) bool {
	return strings.HasSuffix(actionKind, triggerSuffix)
}

// triggerSubtype reads cfg.subtype only, so a bad value in another field
// does not lose it. A subtype that does not decode yields the default.
func triggerSubtype(node models.Node) string {
	var cfg struct {
		Subtype string `json:"subtype"`
	}
	if len(node.Config) > 0 {
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return models.DefaultTriggerSubtype
		}
	}
	return models.TriggerConfig{Subtype: cfg.Subtype}.SubtypeName()
}

// graph holds forward edges (with branch labels) and reverse adjacency, both
// in authored order. A repeated source/target pair keeps its first occurrence.
type graph struct {
	next map[string][]models.Edge
	prev map[string][]string
}

func buildGraph(board models.Board) graph {
	g := graph{
		next: make(map[string][]models.Edge),
		prev: make(map[string][]string),
	}
	seen := make(map[[2]string]struct{}, len(board.Connections))
	for _, conn := range board.Connections {
		key := [2]string{conn.Source, conn.Target}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		label := conn.BranchLabel()
		if label == "" {
			label = fmt.Sprintf("branch-%d", len(g.next[conn.Source]))
		}
		g.next[conn.Source] = append(g.next[conn.Source], models.Edge{Label: label, Target: conn.Target})
		g.prev[conn.Target] = append(g.prev[conn.Target], conn.Source)
	}
	return g
}
