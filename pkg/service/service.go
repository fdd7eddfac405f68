package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignatij/flowplan/pkg/compiler"
	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface used by the services
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const maxWorkflowNameLength = 100

// WorkflowService manages workflows and the definitions compiled from their boards.
type WorkflowService struct {
	store    storage.Store
	compiler *compiler.Compiler
	logger   Logger
}

func NewWorkflowService(store storage.Store, c *compiler.Compiler, logger Logger) *WorkflowService {
	if c == nil {
		c = compiler.New()
	}
	return &WorkflowService{store: store, compiler: c, logger: logger}
}

// SaveBoardResult is what a board save hands back to the editor.
type SaveBoardResult struct {
	Definition models.ExecutionDefinition `json:"definition"`
	Issues     []compiler.Issue           `json:"issues"`
}

func (s *WorkflowService) CreateWorkflow(name string) (id int64, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: workflow name cannot be empty", ErrInvalidArgument)
	}
	if len(name) > maxWorkflowNameLength {
		return 0, fmt.Errorf("%w: workflow name too long (max %d characters)", ErrInvalidArgument, maxWorkflowNameLength)
	}
	txStore, err := s.store.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	now := time.Now()
	id, err = txStore.SaveWorkflow(models.Workflow{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return 0, err
	}
	s.logger.Infof("Created workflow '%s' with ID %d", name, id)
	return id, nil
}

// SaveBoard compiles board and stores it with its definition in one
// transaction. The definition version goes up by one on every save. Config
// issues are reported, never fatal.
func (s *WorkflowService) SaveBoard(id int64, board models.Board) (result SaveBoardResult, err error) {
	if id <= 0 {
		return SaveBoardResult{}, fmt.Errorf("%w: workflow ID must be positive", ErrInvalidArgument)
	}
	txStore, err := s.store.Begin()
	if err != nil {
		return SaveBoardResult{}, err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	wf, err := txStore.GetWorkflow(id)
	if err != nil {
		return SaveBoardResult{}, err
	}

	def := s.compiler.Compile(board, wf.Name)
	if wf.Definition != nil {
		def.Version = wf.Definition.Version + 1
	}
	if err = txStore.UpdateWorkflowBoard(id, board, def); err != nil {
		return SaveBoardResult{}, errors.Wrapf(err, "save board of workflow %d", id)
	}

	issues := compiler.Check(board)
	if def.Root == "" {
		s.logger.Infof("Workflow %d saved without an entry node (version %d)", id, def.Version)
	} else {
		s.logger.Infof("Workflow %d compiled to version %d with %d nodes, root '%s'", id, def.Version, len(def.Nodes), def.Root)
	}
	if issues == nil {
		issues = []compiler.Issue{}
	}
	return SaveBoardResult{Definition: def, Issues: issues}, nil
}

func (s *WorkflowService) ListWorkflows() ([]models.Workflow, error) {
	return s.store.ListWorkflows()
}

// GetWorkflow fetches a workflow with its board and definition
func (s *WorkflowService) GetWorkflow(workflowID int64) (models.Workflow, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("failed to get workflow %d: %w", workflowID, err)
	}
	return wf, nil
}
