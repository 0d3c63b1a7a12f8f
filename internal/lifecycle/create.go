package lifecycle

import (
	"context"
	"fmt"

	"github.com/edms/lifecycle-core/internal/audit"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// CreateDocumentInput carries everything a first-version document needs.
// The number is server-generated; callers never supply one.
type CreateDocumentInput struct {
	Title         string
	Description   string
	TypeCode      string
	SourceCode    string
	AuthorID      string
	FileReference string
	// SessionID is passed through to the audit entry when the caller (the
	// API layer) has one; it is legitimately absent for non-interactive
	// callers.
	SessionID *string
}

// CreateDocument creates a new controlled document in DRAFT as version
// 01.00 of a brand-new family. The generated number doubles as the
// family_key: it is stable, unique, and shared by construction with every
// later version (§3).
func (e *Engine) CreateDocument(ctx context.Context, in CreateDocumentInput) (*types.Document, error) {
	if in.Title == "" {
		return nil, errMissingField("title")
	}
	if in.TypeCode == "" {
		return nil, errMissingField("type")
	}
	if in.AuthorID == "" {
		return nil, errMissingField("author")
	}
	author, err := e.loadActor(ctx, in.AuthorID)
	if err != nil {
		return nil, err
	}
	if !author.HasCapability(types.CapWrite) {
		e.recordAccessDenied(ctx, author, "document", "", in.Title, types.ActionDocCreated)
		return nil, errPermissionDenied(string(types.CapWrite))
	}

	var doc *types.Document
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		docType, err := tx.GetDocumentType(ctx, in.TypeCode)
		if err != nil {
			return wrapStorageErr(err, "document type", in.TypeCode)
		}

		now := e.now()
		year := now.UTC().Year()
		counter, err := tx.NextDocumentNumber(ctx, docType.Code, year)
		if err != nil {
			return errInternal(err)
		}
		number := fmt.Sprintf("%s-%d-%04d", docType.Code, year, counter)

		doc = &types.Document{
			ID:            newID(),
			Number:        number,
			Title:         in.Title,
			Description:   in.Description,
			Type:          docType.Code,
			Source:        in.SourceCode,
			VersionMajor:  1,
			VersionMinor:  0,
			FamilyKey:     number,
			Status:        types.StatusDraft,
			Author:        author.ID,
			FileReference: in.FileReference,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := doc.Validate(); err != nil {
			return errMissingField(err.Error())
		}
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return errInternal(err)
		}

		return audit.Append(ctx, tx, &types.AuditEntry{
			Actor:             author.ID,
			Action:            types.ActionDocCreated,
			TargetKind:        "document",
			TargetID:          doc.ID,
			TargetDisplayName: doc.Number,
			ToState:           statusPtr(types.StatusDraft),
			Description:       "document created",
			OccurredAt:        now,
			SessionID:         in.SessionID,
		})
	})
	if err != nil {
		return nil, err
	}
	recordTransition(ctx, types.StatusDraft, false)
	return doc, nil
}

// AttachFile registers an uploaded original on a DRAFT document. The
// upload itself (multipart handling, virus scan) belongs to the API layer;
// the core only records the file-store key it produced.
func (e *Engine) AttachFile(ctx context.Context, documentID, actorID, fileReference string) error {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return err
	}
	if fileReference == "" {
		return errMissingField("file_reference")
	}

	var docNum string
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		doc, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return wrapStorageErr(err, "document", documentID)
		}
		docNum = doc.Number
		if doc.Author != actor.ID {
			return errPermissionDenied("author")
		}
		if doc.Status != types.StatusDraft {
			return newError(CodeInvalidTransition,
				fmt.Sprintf("files can only be attached in DRAFT; %s is %s", doc.Number, doc.Status),
				map[string]any{"from_state": string(doc.Status)})
		}
		doc.FileReference = fileReference
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}
		return e.appendAudit(ctx, tx, actor, types.ActionDocFileAttached, doc, nil, nil,
			"original file attached", map[string]string{"file_reference": fileReference})
	})
	return e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionDocFileAttached)
}
