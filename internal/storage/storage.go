// Package storage defines the persistence contract the lifecycle engine,
// scheduler, and family resolver depend on. The relational implementation
// lives in internal/storage/sqlstore; this package only holds interfaces and
// the error vocabulary storage callers need to distinguish.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/edms/lifecycle-core/internal/audit"
	"github.com/edms/lifecycle-core/internal/types"
)

// Sentinel errors storage implementations must return (wrapped, via %w) so
// callers can use errors.Is regardless of backend.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict: row lock could not be acquired or state changed concurrently")
)

// DocumentFilter narrows ListDocuments queries; zero values are "don't filter
// on this field".
type DocumentFilter struct {
	Status    types.Status
	FamilyKey string
	Type      string
}

// Storage is the full persistence surface. A single relational store backs
// all of it; RunInTransaction is the only way callers get a Transaction, so
// every multi-entity write happens inside one database transaction.
type Storage interface {
	// RunInTransaction executes fn inside a transaction, retrying on
	// transient serialization conflicts with exponential backoff. fn must be
	// idempotent with respect to reads it performs before its first write,
	// since a retry re-runs fn from the top.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// Metadata-free, single-statement helpers usable outside a transaction.
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	GetDocumentByNumber(ctx context.Context, number string) (*types.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*types.Document, error)
	FamilyMembers(ctx context.Context, familyKey string) ([]*types.Document, error)

	GetUser(ctx context.Context, id string) (*types.User, error)
	ListActiveSuperusers(ctx context.Context) ([]*types.User, error)

	GetDocumentType(ctx context.Context, code string) (*types.DocumentType, error)
	GetDocumentSource(ctx context.Context, code string) (*types.DocumentSource, error)

	GetWorkflowInstance(ctx context.Context, id string) (*types.WorkflowInstance, error)
	ActiveWorkflowsForDocument(ctx context.Context, documentID string) ([]*types.WorkflowInstance, error)
	// OverdueWorkflows returns active workflow instances whose due_at has
	// passed relative to the supplied instant (injected for clock-driven
	// tests and DST-free UTC comparison).
	OverdueWorkflows(ctx context.Context, before time.Time) ([]*types.WorkflowInstance, error)

	DependenciesFrom(ctx context.Context, documentID string) ([]*types.DocumentDependency, error)
	DependenciesTo(ctx context.Context, documentID string) ([]*types.DocumentDependency, error)
	ActiveFamilyEdges(ctx context.Context, familyKey string) ([]string, error)
	AllFamilyKeys(ctx context.Context) ([]string, error)

	UpsertScheduledTask(ctx context.Context, task *types.ScheduledTask) error
	GetScheduledTask(ctx context.Context, name string) (*types.ScheduledTask, error)
	PruneTaskResultsOlderThan(ctx context.Context, days int) (int64, error)

	// AuditReader exposes read-only access to the chain for the verifier
	// and reporting paths; writes only ever happen through a Transaction so
	// that an audit entry can never be committed without its accompanying
	// entity mutation.
	AuditReader
}

// AuditReader is the read-only half of audit.Repository, usable outside a
// transaction.
type AuditReader interface {
	LatestHead(ctx context.Context) (audit.Head, error)
	EntriesFrom(ctx context.Context, from int64) ([]*types.AuditEntry, error)
}

// Transaction is the subset of Storage that is safe to call from inside
// RunInTransaction: every method here participates in the caller's
// transaction and sees uncommitted writes made earlier in the same fn.
type Transaction interface {
	// LockDocument reads doc under SELECT ... FOR UPDATE (or the backend's
	// equivalent serialization primitive), blocking until any concurrent
	// holder commits or rolls back. This is the document's single
	// serialization point (§5).
	LockDocument(ctx context.Context, id string) (*types.Document, error)
	InsertDocument(ctx context.Context, doc *types.Document) error
	UpdateDocument(ctx context.Context, doc *types.Document) error

	InsertWorkflowInstance(ctx context.Context, wf *types.WorkflowInstance) error
	UpdateWorkflowInstance(ctx context.Context, wf *types.WorkflowInstance) error
	InsertWorkflowTransition(ctx context.Context, t *types.WorkflowTransition) error

	InsertDependency(ctx context.Context, dep *types.DocumentDependency) error
	DeactivateDependency(ctx context.Context, id int64) error
	DependenciesFrom(ctx context.Context, documentID string) ([]*types.DocumentDependency, error)

	InsertPeriodicReview(ctx context.Context, r *types.PeriodicReview) error

	// SetUserSuperuser flips the superuser flag on a user row, inside the
	// caller's transaction so the grant/revoke and its audit entry commit
	// together.
	SetUserSuperuser(ctx context.Context, userID string, isSuperuser bool) error

	// NextDocumentNumber atomically increments and returns the next
	// monotonic counter for (typeCode, year), used to render the
	// server-generated human key (e.g. "SOP-2026-0001"). Must be called
	// inside the same transaction as the document insert it numbers, so a
	// rolled-back document creation also rolls back its counter increment.
	NextDocumentNumber(ctx context.Context, typeCode string, year int) (int, error)

	// LockDocumentsOrdered locks multiple document rows in ascending id order
	// to avoid deadlock on cross-document operations (§5).
	LockDocumentsOrdered(ctx context.Context, ids []string) (map[string]*types.Document, error)

	// Transaction-scoped reads. The SQLite test backend runs on a single
	// connection, so any read issued while a transaction is open must go
	// through the transaction itself — a pool read would wait forever for
	// the connection the transaction holds. On MySQL these additionally see
	// the transaction's own uncommitted writes.
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	FamilyMembers(ctx context.Context, familyKey string) ([]*types.Document, error)
	ActiveWorkflowsForDocument(ctx context.Context, documentID string) ([]*types.WorkflowInstance, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetDocumentType(ctx context.Context, code string) (*types.DocumentType, error)
	ListActiveSuperusers(ctx context.Context) ([]*types.User, error)
	DependenciesTo(ctx context.Context, documentID string) ([]*types.DocumentDependency, error)
	ActiveFamilyEdges(ctx context.Context, familyKey string) ([]string, error)

	audit.Repository
}
