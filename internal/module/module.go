// Package module defines the learning-module record and its persistence
// interface. A module is one ordered unit of authored content: rich HTML
// for the edit surface, a plain-text context consumed by the voice agent,
// and persona/style metadata passed opaquely into session config.
package module

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no module exists with the requested ID.
var ErrNotFound = errors.New("module not found")

// Module is one authored learning unit. Position defines the playback
// order; it is dense and zero-based within the full set.
type Module struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`       // rich HTML, opaque to the pipeline
	PlainContent string    `json:"plain_content"` // context text, appended to by finalized transcripts
	Persona      string    `json:"persona"`
	Style        string    `json:"style"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks fields an author must supply.
func (m Module) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("module: title must not be empty")
	}
	return nil
}

// SessionVariables returns the free-text fields handed to the agent's
// session config.
func (m Module) SessionVariables() (contextText, persona, style string) {
	return m.PlainContent, m.Persona, m.Style
}

// Store is the persistence interface for modules. Implementations must be
// safe for concurrent use.
type Store interface {
	// List returns all modules ordered by position.
	List(ctx context.Context) ([]Module, error)

	// Get returns the module with id, or ErrNotFound.
	Get(ctx context.Context, id int64) (Module, error)

	// Create persists m at the end of the order and returns the stored
	// module with its generated ID and timestamps.
	Create(ctx context.Context, m Module) (Module, error)

	// Update replaces the mutable fields of the module with m.ID and
	// returns the stored result, or ErrNotFound.
	Update(ctx context.Context, m Module) (Module, error)

	// Delete removes the module with id and compacts positions.
	Delete(ctx context.Context, id int64) error

	// Reorder rewrites positions to match orderedIDs. The slice must name
	// every existing module exactly once; otherwise no position changes.
	Reorder(ctx context.Context, orderedIDs []int64) error

	// UpdatePlainContent overwrites only the plain-text context of the
	// module with id. Used by the transcript accumulator's debounced
	// persistence, which must not clobber concurrent edits to other fields.
	UpdatePlainContent(ctx context.Context, id int64, plain string) error
}
