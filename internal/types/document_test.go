package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDocumentValidate(t *testing.T) {
	base := func() *Document {
		return &Document{
			Title:        "Quality Manual",
			Type:         "POL",
			FamilyKey:    "fam-1",
			Status:       StatusDraft,
			VersionMajor: 1,
			VersionMinor: 0,
		}
	}

	t.Run("valid draft", func(t *testing.T) {
		d := base()
		require.NoError(t, d.Validate())
	})

	t.Run("missing title", func(t *testing.T) {
		d := base()
		d.Title = ""
		require.Error(t, d.Validate())
	})

	t.Run("minor version requires reason for change", func(t *testing.T) {
		d := base()
		d.VersionMinor = 1
		require.Error(t, d.Validate())
		d.ReasonForChange = "clarified section 4"
		require.NoError(t, d.Validate())
	})

	t.Run("effective requires effective date and file reference", func(t *testing.T) {
		d := base()
		d.Status = StatusEffective
		require.Error(t, d.Validate())
		now := time.Now().UTC()
		d.EffectiveDate = &now
		require.Error(t, d.Validate())
		d.FileReference = "documents/doc-1/01.00/signed.pdf"
		require.NoError(t, d.Validate())
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		d := base()
		d.Status = Status("NOT_A_STATUS")
		require.Error(t, d.Validate())
	})
}

func TestFullVersion(t *testing.T) {
	d := &Document{VersionMajor: 1, VersionMinor: 2}
	require.Equal(t, "01.02", d.FullVersion())
}
