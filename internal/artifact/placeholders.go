// Package artifact implements the release-copy pipeline (component H):
// placeholder substitution over the uploaded original, PDF rendering,
// checksum computation, and affixation of the signature block that turns
// a draft file into the signed release copy of an effective document.
package artifact

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edms/lifecycle-core/internal/types"
)

// Timestamp layouts. Every rendered timestamp carries an explicit UTC
// suffix; a release copy with an ambiguous local time is a data-integrity
// defect, not a cosmetic one.
const (
	dateLayout     = "01/02/2006"
	timeLayout     = "03:04 PM"
	datetimeLayout = "01/02/2006 03:04 PM"
)

// Recognized is the closed set of built-in placeholder names. Tokens not in
// this set (and not configured as installation extras) pass through the
// substitution unchanged.
var Recognized = []string{
	"DOCUMENT_NUMBER", "DOCUMENT_TITLE", "DOCUMENT_TYPE",
	"VERSION_MAJOR", "VERSION_MINOR", "FULL_VERSION",
	"AUTHOR_NAME", "REVIEWER_NAME", "APPROVER_NAME",
	"APPROVAL_DATE", "EFFECTIVE_DATE",
	"DOWNLOAD_DATE", "DOWNLOAD_TIME", "DOWNLOAD_DATETIME", "DOWNLOAD_DATETIME_ISO",
	"CURRENT_TIME", "CURRENT_DATETIME", "CURRENT_DATETIME_ISO",
	"TIMEZONE", "ORGANIZATION_NAME", "SYSTEM_NAME",
	"VERSION_HISTORY",
}

// VersionRecord is one row of the VERSION_HISTORY table: a prior (or the
// current) member of the document's family.
type VersionRecord struct {
	Version  string
	Date     *time.Time
	Author   string
	Status   types.Status
	Comments string
}

// placeholderValues computes the value of every recognized placeholder for
// one document at one instant. now is the substitution instant, always UTC.
func placeholderValues(in *PublishInput, cfg Config) map[string]string {
	doc := in.Document
	now := in.Now.UTC()

	v := map[string]string{
		"DOCUMENT_NUMBER":       doc.Number,
		"DOCUMENT_TITLE":        doc.Title,
		"DOCUMENT_TYPE":         doc.Type,
		"VERSION_MAJOR":         fmt.Sprintf("%02d", doc.VersionMajor),
		"VERSION_MINOR":         fmt.Sprintf("%02d", doc.VersionMinor),
		"FULL_VERSION":          doc.FullVersion(),
		"AUTHOR_NAME":           in.AuthorName,
		"REVIEWER_NAME":         in.ReviewerName,
		"APPROVER_NAME":         in.ApproverName,
		"APPROVAL_DATE":         formatDatePtr(doc.ApprovedAt),
		"EFFECTIVE_DATE":        formatDatePtr(doc.EffectiveDate),
		"DOWNLOAD_DATE":         now.Format(dateLayout) + " UTC",
		"DOWNLOAD_TIME":         now.Format(timeLayout) + " UTC",
		"DOWNLOAD_DATETIME":     now.Format(datetimeLayout) + " UTC",
		"DOWNLOAD_DATETIME_ISO": now.Format(time.RFC3339),
		"CURRENT_TIME":          now.Format(timeLayout) + " UTC",
		"CURRENT_DATETIME":      now.Format(datetimeLayout) + " UTC",
		"CURRENT_DATETIME_ISO":  now.Format(time.RFC3339),
		"TIMEZONE":              "UTC",
		"ORGANIZATION_NAME":     cfg.OrganizationName,
		"SYSTEM_NAME":           cfg.SystemName,
		"VERSION_HISTORY":       renderVersionHistory(in.History, now),
	}
	// Installation-configurable extras may add names but never shadow the
	// built-in set.
	for name, val := range cfg.Extra {
		if _, taken := v[name]; !taken {
			v[name] = val
		}
	}
	return v
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout) + " UTC"
}

// renderVersionHistory produces the plain-text VERSION_HISTORY table:
// version, date, author, status, comments for every family member, plus a
// Generated stamp.
func renderVersionHistory(history []VersionRecord, now time.Time) string {
	rows := append([]VersionRecord(nil), history...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Version < rows[j].Version })

	var b strings.Builder
	b.WriteString("Version History\n")
	fmt.Fprintf(&b, "%-8s  %-14s  %-20s  %-26s  %s\n", "Version", "Date", "Author", "Status", "Comments")
	for _, r := range rows {
		date := ""
		if r.Date != nil {
			date = r.Date.UTC().Format(dateLayout) + " UTC"
		}
		fmt.Fprintf(&b, "%-8s  %-14s  %-20s  %-26s  %s\n", r.Version, date, r.Author, r.Status, r.Comments)
	}
	fmt.Fprintf(&b, "Generated: %s UTC\n", now.UTC().Format(datetimeLayout))
	return b.String()
}

// Substitute replaces every {{NAME}} token whose NAME is present in values.
// Unrecognized tokens pass through unchanged, per the closed-enumeration
// contract. The scan is a single pass over the input; no regexp is needed
// for a fixed two-character delimiter.
func Substitute(content string, values map[string]string) string {
	var b strings.Builder
	b.Grow(len(content))
	for {
		open := strings.Index(content, "{{")
		if open < 0 {
			b.WriteString(content)
			return b.String()
		}
		end := strings.Index(content[open:], "}}")
		if end < 0 {
			b.WriteString(content)
			return b.String()
		}
		end += open
		name := content[open+2 : end]
		b.WriteString(content[:open])
		if val, ok := values[name]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(content[open : end+2])
		}
		content = content[end+2:]
	}
}
