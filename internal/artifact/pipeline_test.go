package artifact

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edms/lifecycle-core/internal/filestore"
	"github.com/edms/lifecycle-core/internal/types"
)

func timePtr(t time.Time) *time.Time { return &t }

func testDocument() *types.Document {
	eff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	approved := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	return &types.Document{
		ID:            "doc-1",
		Number:        "SOP-2026-0001",
		Title:         "Equipment Cleaning",
		Type:          "SOP",
		VersionMajor:  1,
		VersionMinor:  0,
		FamilyKey:     "SOP-2026-0001",
		Status:        types.StatusEffective,
		EffectiveDate: &eff,
		ApprovedAt:    &approved,
		FileReference: "documents/doc-1/01.00/original.txt",
	}
}

func TestSubstituteReplacesRecognizedTokensOnly(t *testing.T) {
	in := &PublishInput{
		Document:   testDocument(),
		AuthorName: "Alice Author",
		Now:        time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC),
	}
	values := placeholderValues(in, Config{OrganizationName: "Acme Pharma", SystemName: "Acme EDMS"})

	out := Substitute("Doc {{DOCUMENT_NUMBER}} v{{FULL_VERSION}} by {{AUTHOR_NAME}} at {{ORGANIZATION_NAME}}. {{NOT_A_TOKEN}} stays.", values)
	assert.Equal(t, "Doc SOP-2026-0001 v01.00 by Alice Author at Acme Pharma. {{NOT_A_TOKEN}} stays.", out)
}

func TestTimestampPlaceholdersCarryUTCSuffix(t *testing.T) {
	in := &PublishInput{
		Document: testDocument(),
		Now:      time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC),
	}
	values := placeholderValues(in, Config{})

	assert.Equal(t, "03/15/2026 09:30 AM UTC", values["CURRENT_DATETIME"])
	assert.Equal(t, "03/15/2026 UTC", values["DOWNLOAD_DATE"])
	assert.Equal(t, "03/10/2026 UTC", values["APPROVAL_DATE"])
	assert.Equal(t, "UTC", values["TIMEZONE"])
	for name, v := range values {
		if strings.Contains(name, "DATE") || strings.Contains(name, "TIME") {
			if strings.HasSuffix(name, "_ISO") {
				assert.Contains(t, v, "Z", "ISO placeholder %s must be UTC", name)
				continue
			}
			if name == "TIMEZONE" || v == "" {
				continue
			}
			assert.True(t, strings.HasSuffix(v, "UTC"), "placeholder %s = %q lacks UTC suffix", name, v)
		}
	}
}

func TestExtraPlaceholdersNeverShadowBuiltins(t *testing.T) {
	in := &PublishInput{Document: testDocument(), Now: time.Now().UTC()}
	values := placeholderValues(in, Config{
		Extra: map[string]string{"DOCUMENT_NUMBER": "overridden", "SITE_CODE": "DE-01"},
	})
	assert.Equal(t, "SOP-2026-0001", values["DOCUMENT_NUMBER"])
	assert.Equal(t, "DE-01", values["SITE_CODE"])
}

func TestVersionHistoryRendersAllRowsAndGeneratedStamp(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	history := []VersionRecord{
		{Version: "01.00", Date: timePtr(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)), Author: "Alice", Status: types.StatusSuperseded, Comments: "initial release"},
		{Version: "01.01", Date: timePtr(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)), Author: "Alice", Status: types.StatusEffective, Comments: "minor correction"},
	}
	out := renderVersionHistory(history, now)
	assert.Contains(t, out, "01.00")
	assert.Contains(t, out, "01/05/2026 UTC")
	assert.Contains(t, out, "SUPERSEDED")
	assert.Contains(t, out, "minor correction")
	assert.Contains(t, out, "Generated: 03/15/2026 09:30 AM UTC")
}

func TestPublishProducesSignedPDF(t *testing.T) {
	ctx := context.Background()
	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	doc := testDocument()
	_, err = files.Write(ctx, doc.FileReference,
		strings.NewReader("{{DOCUMENT_NUMBER}} — {{DOCUMENT_TITLE}}\n\nProcedure body.\n\n{{VERSION_HISTORY}}"))
	require.NoError(t, err)

	p := New(files, Config{OrganizationName: "Acme Pharma", SystemName: "Acme EDMS"}, nil)
	res, err := p.Publish(ctx, PublishInput{
		Document:     doc,
		AuthorName:   "Alice Author",
		ReviewerName: "Rita Reviewer",
		ApproverName: "Paul Approver",
		SignerName:   "Paul Approver",
		SignerID:     "paul",
		Now:          time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, filestore.SignedKey("doc-1", "01.00"), res.SignedKey)
	assert.Len(t, res.SHA256, 64)
	assert.Len(t, res.ContentSHA256, 64)
	assert.NotEqual(t, res.SHA256, res.ContentSHA256)
	assert.True(t, strings.HasPrefix(res.SignatureID, "SIG-"))

	rc, err := files.Read(ctx, res.SignedKey)
	require.NoError(t, err)
	defer rc.Close()
	pdf, err := io.ReadAll(rc)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(pdf), "%PDF-1.4"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(string(pdf)), "%%EOF"))
	assert.Contains(t, string(pdf), "ELECTRONIC SIGNATURE")
	assert.Contains(t, string(pdf), "SOP-2026-0001")
	assert.Contains(t, string(pdf), res.ContentSHA256)
}

func TestPublishFailsWithoutOriginal(t *testing.T) {
	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	p := New(files, Config{}, nil)

	doc := testDocument()
	doc.FileReference = ""
	_, err = p.Publish(context.Background(), PublishInput{Document: doc, Now: time.Now().UTC()})
	require.Error(t, err)
}

func TestCanDownload(t *testing.T) {
	assert.True(t, CanDownload(types.StatusEffective))
	assert.True(t, CanDownload(types.StatusSuperseded))
	assert.False(t, CanDownload(types.StatusDraft))
	assert.False(t, CanDownload(types.StatusObsolete))
	assert.False(t, CanDownload(types.StatusTerminated))
}

func TestRenderPDFPaginates(t *testing.T) {
	lines := make([]string, 200)
	for i := range lines {
		lines[i] = "line"
	}
	pdf := string(renderPDF(lines))
	assert.Contains(t, pdf, "/Count 5")
}
