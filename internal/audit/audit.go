// Package audit implements the tamper-evident, checksum-chained activity
// log described in §4.6: every entry's checksum covers its own canonical
// fields plus the previous entry's checksum, so altering or removing any
// entry breaks every checksum after it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edms/lifecycle-core/internal/types"
)

// Head is the sequence/checksum pair of the most recently written entry.
// The zero Head (sequence 0, empty checksum) represents an empty chain.
type Head struct {
	Sequence int64
	Checksum string
}

// Repository is the narrow persistence contract audit needs. Implementations
// must take a lock on the audit-head row (or equivalent) for the duration of
// LatestHead through InsertEntry so that sequence numbers are never assigned
// twice, matching the "dedicated audit-head row" design in §4.6.
type Repository interface {
	// LatestHead returns the current chain head under a lock held until the
	// caller's transaction commits or rolls back.
	LatestHead(ctx context.Context) (Head, error)
	// InsertEntry persists entry, which already carries a computed sequence
	// and checksum. Implementations must never allow UPDATE or DELETE against
	// the audit table at the SQL-grant level, not just in application code.
	InsertEntry(ctx context.Context, entry *types.AuditEntry) error
	// EntriesFrom returns entries with sequence >= from, ordered ascending by
	// sequence, for chain verification.
	EntriesFrom(ctx context.Context, from int64) ([]*types.AuditEntry, error)
}

// ComputeChecksum computes the chained checksum for entry given the previous
// entry's checksum. The fields are joined with "|" and metadata is rendered
// in canonicalMetadata's sorted key=value form, not as JSON:
//
//	checksum = SHA-256( sequence | action | actor_id | target_kind |
//	           target_id | occurred_at_rfc3339nano | canonical_metadata |
//	           previous_checksum )
func ComputeChecksum(entry *types.AuditEntry, previousChecksum string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%s",
		entry.Sequence,
		entry.Action,
		entry.Actor,
		entry.TargetKind,
		entry.TargetID,
		entry.OccurredAt.UTC().Format(time.RFC3339Nano),
		canonicalMetadata(entry.Metadata),
		previousChecksum,
	)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalMetadata renders a metadata map deterministically: keys sorted,
// joined with fixed separators. A full JSON encoder would also work, but a
// hand-rolled canonical form avoids depending on map iteration order or
// encoding/json's (stable but incidental) key ordering for something a
// cryptographic checksum depends on.
func canonicalMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}

// Append assigns the next sequence number and checksum to entry and writes
// it via repo. Callers invoke this inside the same transaction as the
// document mutation it accompanies; if this call fails the whole
// transaction must fail (§4.6: "if the audit write itself fails, the whole
// transaction fails").
func Append(ctx context.Context, repo Repository, entry *types.AuditEntry) error {
	if entry.Actor == "" {
		entry.Actor = types.SystemActorID
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	head, err := repo.LatestHead(ctx)
	if err != nil {
		return fmt.Errorf("audit: read chain head: %w", err)
	}
	entry.Sequence = head.Sequence + 1
	entry.PreviousChecksum = head.Checksum
	entry.Checksum = ComputeChecksum(entry, head.Checksum)

	if err := repo.InsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// VerificationReport is the result of walking the chain and recomputing
// every checksum.
type VerificationReport struct {
	OK              bool
	EntriesChecked  int64
	FirstDivergence *int64 // sequence number of the first bad entry, if any
}

// ChainReader is the read-only slice of Repository the verifier needs; any
// Repository satisfies it, but so does a storage implementation's read-only
// view that never exposes InsertEntry outside a transaction.
type ChainReader interface {
	EntriesFrom(ctx context.Context, from int64) ([]*types.AuditEntry, error)
}

// VerifyChain walks entries in sequence order starting at fromSequence (1 to
// verify the whole chain), recomputing each checksum and comparing it both
// to the stored value and to the next entry's previous_checksum. It reports
// the first divergence found rather than failing fast internally, so a
// single call tells the caller both whether the chain is intact and where it
// broke.
func VerifyChain(ctx context.Context, repo ChainReader, fromSequence int64) (*VerificationReport, error) {
	entries, err := repo.EntriesFrom(ctx, fromSequence)
	if err != nil {
		return nil, fmt.Errorf("audit: load entries: %w", err)
	}

	report := &VerificationReport{OK: true}
	var prevChecksum string
	if fromSequence > 1 {
		prior, err := repo.EntriesFrom(ctx, fromSequence-1)
		if err == nil && len(prior) > 0 && prior[0].Sequence == fromSequence-1 {
			prevChecksum = prior[0].Checksum
		}
	}

	for _, e := range entries {
		report.EntriesChecked++
		if e.PreviousChecksum != prevChecksum {
			seq := e.Sequence
			report.OK = false
			report.FirstDivergence = &seq
			return report, nil
		}
		recomputed := ComputeChecksum(e, prevChecksum)
		if recomputed != e.Checksum {
			seq := e.Sequence
			report.OK = false
			report.FirstDivergence = &seq
			return report, nil
		}
		prevChecksum = e.Checksum
	}
	return report, nil
}
