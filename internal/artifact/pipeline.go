package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/edms/lifecycle-core/internal/filestore"
	"github.com/edms/lifecycle-core/internal/idgen"
	"github.com/edms/lifecycle-core/internal/types"
)

// Config carries the installation-level values placeholders draw on.
type Config struct {
	OrganizationName string
	SystemName       string
	// Extra maps installation-configurable placeholder names to fixed
	// values. Extras never shadow the built-in set.
	Extra map[string]string
}

// Pipeline turns an uploaded original into the signed release PDF when a
// document becomes effective. It is the sole producer of release PDFs.
type Pipeline struct {
	files *filestore.Store
	cfg   Config
	log   *slog.Logger
}

// New builds a Pipeline over the given file store.
func New(files *filestore.Store, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{files: files, cfg: cfg, log: log}
}

// PublishInput is everything the pipeline needs that the document row alone
// does not carry: resolved display names and the family's version history.
type PublishInput struct {
	Document     *types.Document
	AuthorName   string
	ReviewerName string
	ApproverName string
	// SignerName and SignerID identify who the signature block attributes
	// the release to — the approver for user-approved effectives, the
	// system principal for scheduler-processed ones.
	SignerName string
	SignerID   string
	History    []VersionRecord
	Now        time.Time
}

// PublishResult reports where the signed PDF landed and its checksums.
type PublishResult struct {
	SignedKey string
	// SHA256 is the checksum of the signed file as stored.
	SHA256 string
	// ContentSHA256 is the checksum of the release content before the
	// signature block was affixed; it is the value the signature attests.
	ContentSHA256 string
	SignatureID   string
}

// Publish runs the full pipeline for doc: load original, substitute
// placeholders, render to PDF, checksum, affix the signature block, and
// write the signed copy under its release key. Callers invoke it inside
// the same transaction that records the EFFECTIVE transition; a rolled-back
// transaction leaves at worst an orphaned file that the next successful run
// overwrites.
func (p *Pipeline) Publish(ctx context.Context, in PublishInput) (*PublishResult, error) {
	doc := in.Document
	if doc.FileReference == "" {
		return nil, fmt.Errorf("artifact: document %s has no uploaded original", doc.Number)
	}

	original, err := p.files.Read(ctx, doc.FileReference)
	if err != nil {
		return nil, fmt.Errorf("artifact: load original for %s: %w", doc.Number, err)
	}
	defer original.Close()
	raw, err := io.ReadAll(original)
	if err != nil {
		return nil, fmt.Errorf("artifact: read original for %s: %w", doc.Number, err)
	}

	substituted := Substitute(string(raw), placeholderValues(&in, p.cfg))
	bodyLines := strings.Split(substituted, "\n")

	// Checksum the release content first; the signature block attests this
	// value, so it cannot include the block itself.
	contentPDF := renderPDF(bodyLines)
	contentSum := sha256.Sum256(contentPDF)
	contentChecksum := hex.EncodeToString(contentSum[:])

	sigID := idgen.SignatureID(doc.Number, in.SignerID, contentChecksum, in.Now)
	signed := renderPDF(append(bodyLines, signatureBlock(doc, &in, contentChecksum, sigID)...))

	key := filestore.SignedKey(doc.ID, doc.FullVersion())
	wr, err := p.files.Write(ctx, key, strings.NewReader(string(signed)))
	if err != nil {
		return nil, fmt.Errorf("artifact: write signed copy for %s: %w", doc.Number, err)
	}

	p.log.Info("artifact: published signed release copy",
		"document", doc.Number, "version", doc.FullVersion(), "key", key, "sha256", wr.SHA256)

	return &PublishResult{
		SignedKey:     key,
		SHA256:        wr.SHA256,
		ContentSHA256: contentChecksum,
		SignatureID:   sigID,
	}, nil
}

// downloadableStatuses is the set of statuses whose signed release copy
// may be served (§4.8): effective and approved-pending documents, plus
// retiring/retired-by-supersession ones whose release copy remains the
// valid record of what was in force.
var downloadableStatuses = map[types.Status]bool{
	types.StatusEffective:                true,
	types.StatusApprovedPendingEffective: true,
	types.StatusScheduledForObsolescence: true,
	types.StatusSuperseded:               true,
}

// CanDownload reports whether a document in the given status may have its
// signed release copy streamed to a caller.
func CanDownload(status types.Status) bool {
	return downloadableStatuses[status]
}

// signatureBlock renders the lines of the affixed digital signature block:
// signer identity, approval time, and the content checksum being attested.
func signatureBlock(doc *types.Document, in *PublishInput, contentChecksum, sigID string) []string {
	approvedAt := ""
	if doc.ApprovedAt != nil {
		approvedAt = doc.ApprovedAt.UTC().Format(datetimeLayout) + " UTC"
	}
	return []string{
		"",
		strings.Repeat("-", 72),
		"ELECTRONIC SIGNATURE",
		fmt.Sprintf("Signature ID:     %s", sigID),
		fmt.Sprintf("Document:         %s v%s", doc.Number, doc.FullVersion()),
		fmt.Sprintf("Signed by:        %s", in.SignerName),
		fmt.Sprintf("Approved at:      %s", approvedAt),
		fmt.Sprintf("Signed at:        %s UTC", in.Now.UTC().Format(datetimeLayout)),
		fmt.Sprintf("Content SHA-256:  %s", contentChecksum),
		"This signature was affixed electronically. The checksum above",
		"attests the release content exactly as rendered.",
		strings.Repeat("-", 72),
	}
}
