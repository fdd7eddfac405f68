package models

import "time"

// Workflow is a user-authored automation: the visual board as last saved and
// the definition it compiled to.
type Workflow struct {
	ID         int64                `json:"id" db:"id"`                     // Unique identifier (PostgreSQL auto-increment)
	Name       string               `json:"name" db:"name"`                 // Descriptive name (e.g., "Daily digest")
	Board      *Board               `json:"board,omitempty" db:"board"`     // Last saved board, nil until the first save
	Definition *ExecutionDefinition `json:"definition,omitempty" db:"definition"`
	CreatedAt  time.Time            `json:"created_at" db:"created_at"` // Creation timestamp
	UpdatedAt  time.Time            `json:"updated_at" db:"updated_at"` // Last update timestamp
}
