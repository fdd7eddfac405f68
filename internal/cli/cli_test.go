package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ignatij/flowplan/pkg/service"
	"github.com/ignatij/flowplan/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlBoard = `
nodes:
  - id: start
    actionKind: start
  - id: hook
    actionKind: webhook-trigger
    config:
      method: POST
  - id: wait
    actionKind: delay
    config:
      duration: 15m
connections:
  - source: start
    target: hook
  - source: hook
    target: wait
`

func TestCompileCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBoard), 0o600))

	root := &cobra.Command{Use: "flowplan"}
	SetupCLI(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"compile", path})
	require.NoError(t, root.Execute())

	var res service.SaveBoardResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "signup", res.Definition.Name)
	assert.Equal(t, "hook", res.Definition.Root)
	require.NotNil(t, res.Definition.Nodes["hook"].Next)
	assert.Equal(t, "wait", *res.Definition.Nodes["hook"].Next)
	assert.Empty(t, res.Issues)
}

func TestParseBoard(t *testing.T) {
	board, err := parseBoard([]byte(`{"nodes":[{"id":"a","actionKind":"return"}],"connections":[]}`), ".json")
	require.NoError(t, err)
	assert.Len(t, board.Nodes, 1)

	board, err = parseBoard([]byte(yamlBoard), ".YML")
	require.NoError(t, err)
	require.Len(t, board.Nodes, 3)
	assert.JSONEq(t, `{"duration":"15m"}`, string(board.Nodes[2].Config))

	_, err = parseBoard([]byte("nodes: [unclosed"), ".yaml")
	assert.Error(t, err)
}

func TestWorkflowOutput(t *testing.T) {
	svc := service.NewWorkflowService(storage.NewMockStore(), nil, nopLogger{})
	var out bytes.Buffer
	require.NoError(t, listWorkflows(&out, svc))
	assert.Equal(t, "No workflows found.\n", out.String())

	out.Reset()
	require.NoError(t, createWorkflow(&out, svc, "digest"))
	assert.Equal(t, "Created workflow 'digest' with ID 1\n", out.String())

	out.Reset()
	require.NoError(t, listWorkflows(&out, svc))
	assert.Contains(t, out.String(), "- ID: 1, Name: digest")

	assert.Error(t, createWorkflow(&out, svc, ""))
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
