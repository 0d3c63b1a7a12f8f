package types

import (
	"fmt"
	"time"
)

// DependencyType is the closed set of edge types in the document dependency
// graph. Only IMPLEMENTS carries a default-critical connotation; criticality
// itself is a per-edge flag, not implied by type.
type DependencyType string

const (
	DepImplements   DependencyType = "IMPLEMENTS"
	DepSupports     DependencyType = "SUPPORTS"
	DepTemplate     DependencyType = "TEMPLATE"
	DepReference    DependencyType = "REFERENCE"
	DepIncorporates DependencyType = "INCORPORATES"
	DepSupersedes   DependencyType = "SUPERSEDES" // system-emitted only
)

var validDependencyTypes = map[DependencyType]bool{
	DepImplements: true, DepSupports: true, DepTemplate: true,
	DepReference: true, DepIncorporates: true, DepSupersedes: true,
}

// IsValid reports whether t is a recognized dependency type.
func (t DependencyType) IsValid() bool {
	return validDependencyTypes[t]
}

// DocumentDependency is a typed, directional edge between two documents.
type DocumentDependency struct {
	ID           int64
	FromDocument string
	ToDocument   string
	Type         DependencyType
	IsCritical   bool
	IsActive     bool
	CreatedAt    time.Time
	CreatedBy    string
}

// Validate enforces the single entity-level invariant a dependency must
// satisfy on its own; graph-level invariants (cycles) live in depgraph.
func (d *DocumentDependency) Validate() error {
	if d.FromDocument == "" || d.ToDocument == "" {
		return fmt.Errorf("from_document and to_document are required")
	}
	if d.FromDocument == d.ToDocument {
		return fmt.Errorf("self-referential dependency is not allowed")
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("invalid dependency type %q", d.Type)
	}
	return nil
}
