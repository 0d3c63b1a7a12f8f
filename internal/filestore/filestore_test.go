package filestore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	key := OriginalKey("doc-1", "01.00", ".txt")
	res, err := s.Write(ctx, key, strings.NewReader("procedure body"))
	require.NoError(t, err)
	assert.Equal(t, key, res.Key)
	assert.EqualValues(t, len("procedure body"), res.Bytes)
	assert.Len(t, res.SHA256, 64)

	rc, err := s.Read(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "procedure body", string(got))
	assert.True(t, s.Exists(key))
	assert.False(t, s.Exists(SignedKey("doc-1", "01.00")))
}

func TestWriteOverwritesAtomically(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	key := SignedKey("doc-2", "01.00")
	_, err = s.Write(ctx, key, strings.NewReader("first"))
	require.NoError(t, err)
	res, err := s.Write(ctx, key, strings.NewReader("second"))
	require.NoError(t, err)

	rc, err := s.Read(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "second", string(got))
	assert.EqualValues(t, 6, res.Bytes)
}

func TestKeysAreVersionScoped(t *testing.T) {
	assert.Equal(t, "documents/d1/01.00/original.docx", OriginalKey("d1", "01.00", ".docx"))
	assert.Equal(t, "documents/d1/01.01/signed.pdf", SignedKey("d1", "01.01"))
	assert.NotEqual(t, SignedKey("d1", "01.00"), SignedKey("d1", "01.01"))
}

func TestReadMissingKeyFails(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.Read(context.Background(), "documents/none/01.00/original.txt")
	require.Error(t, err)
}
