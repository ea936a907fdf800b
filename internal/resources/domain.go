// Package resources manages the registry of protected system resources.
package resources

import (
	"errors"
	"time"
)

// Resource types recognised by the registry.
const (
	TypeModel    = "model"
	TypeFunction = "function"
	TypeModule   = "module"
)

// Resource is a named, protected capability surface. Identifier is
// globally unique and immutable after creation; ParentID forms a tree
// used for hierarchical menus.
type Resource struct {
	ID         int64
	ParentID   *int64
	Identifier string
	Name       string
	Type       string
	MenuOrder  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

var (
	// ErrNotFound indicates the identifier does not resolve to a live resource.
	ErrNotFound = errors.New("resources: not found")
	// ErrDuplicateIdentifier indicates the identifier is already taken.
	ErrDuplicateIdentifier = errors.New("resources: identifier already exists")
	// ErrIdentifierRequired indicates a blank identifier was supplied.
	ErrIdentifierRequired = errors.New("resources: identifier required")
)
